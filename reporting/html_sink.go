package reporting

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/browser-acceptor/templates"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// HTMLSink renders results.html for a run
type HTMLSink struct {
	baseDir string
	tmpl    *template.Template
	results map[string]*types.TestRunResult
}

type htmlData struct {
	RunID   string
	Result  *types.TestRunResult
	Orphans []types.FailedExpectation
}

// NewHTMLSink creates a new HTML sink using the embedded results template
func NewHTMLSink(baseDir string) (*HTMLSink, error) {
	tmpl, err := template.New("results.html.tmpl").
		Funcs(templates.GetTemplateFunc()).
		ParseFS(templateFS, "templates/results.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse results template: %w", err)
	}
	return &HTMLSink{
		baseDir: baseDir,
		tmpl:    tmpl,
		results: make(map[string]*types.TestRunResult),
	}, nil
}

// Consume records the result for the run
func (s *HTMLSink) Consume(result *types.TestRunResult, runID string) error {
	if result == nil {
		return fmt.Errorf("nil result for run %s", runID)
	}
	s.results[runID] = result
	return nil
}

// Complete writes results.html for the run
func (s *HTMLSink) Complete(runID string) error {
	result, ok := s.results[runID]
	if !ok {
		return nil
	}

	var orphans []types.FailedExpectation
	for _, fe := range result.FailedExpectations {
		if fe.Spec == "" || !hasSpec(result, fe.Spec) {
			orphans = append(orphans, fe)
		}
	}

	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, htmlData{RunID: runID, Result: result, Orphans: orphans}); err != nil {
		return fmt.Errorf("failed to format HTML: %w", err)
	}

	outputDir := RunDir(s.baseDir, runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	htmlFile := filepath.Join(outputDir, HTMLFilename)
	if err := os.WriteFile(htmlFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	delete(s.results, runID)
	return nil
}
