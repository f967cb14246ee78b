package testhost

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
)

// CompletionFlag is the window property the reporter bridge assigns exactly
// once, after every spec has finished
const CompletionFlag = "jasmineResults"

// SpecPath is the path the harness loads the bundle from
const SpecPath = "/spec.js"

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var harnessTemplate = template.Must(template.ParseFS(templateFS, "templates/harness.html.tmpl"))

// HarnessDocument is the rendered HTML page served for every non-bundle path
type HarnessDocument []byte

type harnessData struct {
	Title          string
	JasmineCore    template.JS
	JasmineHTML    template.JS
	JasmineCSS     template.CSS
	CompletionFlag template.JS
	SpecPath       string
}

// NewHarnessDocument renders the harness, inlining the Jasmine runtime from
// jasmineDir. jasmine.css is optional; the two scripts are not.
func NewHarnessDocument(jasmineDir string) (HarnessDocument, error) {
	core, err := os.ReadFile(filepath.Join(jasmineDir, "jasmine.js"))
	if err != nil {
		return nil, fmt.Errorf("failed to read jasmine runtime: %w", err)
	}
	html, err := os.ReadFile(filepath.Join(jasmineDir, "jasmine-html.js"))
	if err != nil {
		return nil, fmt.Errorf("failed to read jasmine html reporter: %w", err)
	}
	css, err := os.ReadFile(filepath.Join(jasmineDir, "jasmine.css"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read jasmine stylesheet: %w", err)
	}

	var buf bytes.Buffer
	err = harnessTemplate.Execute(&buf, harnessData{
		Title:          "Jasmine Spec Runner",
		JasmineCore:    template.JS(core),
		JasmineHTML:    template.JS(html),
		JasmineCSS:     template.CSS(css),
		CompletionFlag: template.JS(CompletionFlag),
		SpecPath:       SpecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render harness: %w", err)
	}
	return HarnessDocument(buf.Bytes()), nil
}
