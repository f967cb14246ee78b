package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/browser-acceptor/templates"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// TableReporter renders a TestRunResult as a go-pretty table
type TableReporter struct {
	title  string
	styled bool
}

// NewTableReporter creates a table reporter. Colour styles are only applied
// when styled is true, so file output stays plain.
func NewTableReporter(title string, styled bool) *TableReporter {
	return &TableReporter{title: title, styled: styled}
}

// Generate returns the rendered table
func (tr *TableReporter) Generate(result *types.TestRunResult) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s (%s)", tr.title, templates.FormatDuration(result.Duration)))

	t.AppendHeader(table.Row{"#", "SPEC", "DURATION", "STATUS", "FAILURE"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "SPEC", WidthMax: 100, WidthMaxEnforcer: text.WrapSoft},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "FAILURE", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for i, spec := range result.Specs {
		t.AppendRow(table.Row{
			i + 1,
			spec.FullName,
			templates.FormatDuration(spec.Duration()),
			getSpecResultString(spec.Status),
			firstFailure(spec),
		})
	}

	// Failures outside any spec (suite or top-level) still belong in the table
	for _, fe := range result.FailedExpectations {
		if fe.Spec != "" && hasSpec(result, fe.Spec) {
			continue
		}
		name := fe.Spec
		if name == "" {
			name = "(top level)"
		}
		t.AppendRow(table.Row{"-", name, "", getSpecResultString("failed"), firstLine(fe.Message)})
	}

	if tr.styled {
		switch result.Status {
		case types.TestStatusPassed:
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		case types.TestStatusIncomplete:
			t.SetStyle(table.StyleColoredBlackOnYellowWhite)
		default:
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		}
	} else {
		t.SetStyle(table.StyleDefault)
	}
	t.Style().Format.Footer = text.FormatDefault

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d specs, %d failed", result.TotalCount, result.FailedCount),
		templates.FormatDuration(result.Duration),
		getResultString(result.Status),
		"",
	})

	return t.Render() + "\n"
}

// Print writes the table followed by the plain summary lines
func (tr *TableReporter) Print(w io.Writer, result *types.TestRunResult) error {
	if _, err := io.WriteString(w, tr.Generate(result)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", result.String())
	return err
}

func firstFailure(spec types.SpecResult) string {
	if len(spec.FailedExpectations) == 0 {
		return ""
	}
	return firstLine(spec.FailedExpectations[0].Message)
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:197] + "..."
	}
	return s
}

func hasSpec(result *types.TestRunResult, name string) bool {
	for _, spec := range result.Specs {
		if spec.FullName == name {
			return true
		}
	}
	return false
}

// getResultString returns a marked string representing the run result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPassed:
		return "✓ passed"
	case types.TestStatusIncomplete:
		return "- incomplete"
	default:
		return "✗ failed"
	}
}

func getSpecResultString(status string) string {
	switch status {
	case "passed":
		return "✓ pass"
	case "pending", "excluded":
		return "- skip"
	default:
		return "✗ fail"
	}
}
