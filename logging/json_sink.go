package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// ResultsJSONFilename is the machine-readable result written for each run
const ResultsJSONFilename = "results.json"

// runResultJSON is the on-disk form of a TestRunResult
type runResultJSON struct {
	RunID              string                    `json:"runId"`
	Time               time.Time                 `json:"time"`
	Status             types.TestStatus          `json:"status"`
	TotalCount         int                       `json:"totalCount"`
	FailedCount        int                       `json:"failedCount"`
	IncompleteReason   string                    `json:"incompleteReason,omitempty"`
	DurationMs         int64                     `json:"durationMs"`
	FailedExpectations []types.FailedExpectation `json:"failedExpectations"`
	Specs              []types.SpecResult        `json:"specs"`
}

// JSONSink writes the run result as results.json so CI tooling can consume it
// without scraping the console summary.
type JSONSink struct {
	logger *FileLogger

	mu      sync.Mutex
	results map[string]*types.TestRunResult
}

// NewJSONSink creates a sink writing into the logger's run directory
func NewJSONSink(logger *FileLogger) *JSONSink {
	return &JSONSink{logger: logger, results: make(map[string]*types.TestRunResult)}
}

// Consume stores the result for the run
func (s *JSONSink) Consume(result *types.TestRunResult, runID string) error {
	if result == nil {
		return fmt.Errorf("nil result for run %s", runID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[runID] = result
	return nil
}

// Complete writes results.json. A run without a result writes nothing.
func (s *JSONSink) Complete(runID string) error {
	s.mu.Lock()
	result, ok := s.results[runID]
	delete(s.results, runID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	out := runResultJSON{
		RunID:              runID,
		Time:               time.Now().UTC(),
		Status:             result.Status,
		TotalCount:         result.TotalCount,
		FailedCount:        result.FailedCount,
		IncompleteReason:   result.IncompleteReason,
		DurationMs:         result.Duration.Milliseconds(),
		FailedExpectations: result.FailedExpectations,
		Specs:              result.Specs,
	}
	if out.FailedExpectations == nil {
		out.FailedExpectations = []types.FailedExpectation{}
	}
	if out.Specs == nil {
		out.Specs = []types.SpecResult{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	path := filepath.Join(s.logger.GetDirectory(), ResultsJSONFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
