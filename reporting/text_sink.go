package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

const (
	RunDirectoryPrefix = "testrun-"
	SummaryFilename    = "summary.log"
	HTMLFilename       = "results.html"
)

// RunDir returns the directory that holds the artifacts of one run
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, RunDirectoryPrefix+runID)
}

// TextSummarySink writes the plain-text summary of a run to summary.log
type TextSummarySink struct {
	baseDir string
	table   *TableReporter
	results map[string]*types.TestRunResult
}

// NewTextSummarySink creates a new text summary sink
func NewTextSummarySink(baseDir string) *TextSummarySink {
	return &TextSummarySink{
		baseDir: baseDir,
		table:   NewTableReporter("Browser Test Results", false),
		results: make(map[string]*types.TestRunResult),
	}
}

// Consume records the result for the run; a run has exactly one result
func (s *TextSummarySink) Consume(result *types.TestRunResult, runID string) error {
	if result == nil {
		return fmt.Errorf("nil result for run %s", runID)
	}
	s.results[runID] = result
	return nil
}

// Complete writes summary.log for the run
func (s *TextSummarySink) Complete(runID string) error {
	result, ok := s.results[runID]
	if !ok {
		return nil
	}

	outputDir := RunDir(s.baseDir, runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run ID: %s\n", runID)
	b.WriteString(result.String())
	b.WriteString("\n\n")
	b.WriteString(s.table.Generate(result))

	if len(result.FailedExpectations) > 0 {
		b.WriteString("\nFailed expectations:\n")
		for i, fe := range result.FailedExpectations {
			name := fe.Spec
			if name == "" {
				name = "(top level)"
			}
			fmt.Fprintf(&b, "\n%d) %s\n   %s\n", i+1, name, fe.Message)
			if fe.Stack != "" {
				b.WriteString(indentText(fe.Stack, "   "))
				b.WriteString("\n")
			}
		}
	}

	summaryFile := filepath.Join(outputDir, SummaryFilename)
	if err := os.WriteFile(summaryFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	delete(s.results, runID)
	return nil
}

func indentText(text, indent string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
