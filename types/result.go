package types

import (
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the overall outcome reported by the harness
type TestStatus string

const (
	TestStatusPassed     TestStatus = "passed"
	TestStatusFailed     TestStatus = "failed"
	TestStatusIncomplete TestStatus = "incomplete"
)

// FailedExpectation is one failed assertion reported by the harness
type FailedExpectation struct {
	Spec    string `json:"spec,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// SpecResult is the outcome of a single spec as reported by the harness
type SpecResult struct {
	FullName           string              `json:"fullName"`
	Status             string              `json:"status"`
	DurationMs         float64             `json:"duration"`
	FailedExpectations []FailedExpectation `json:"failedExpectations,omitempty"`
}

// Duration returns the spec duration reported by the harness
func (s SpecResult) Duration() time.Duration {
	return time.Duration(s.DurationMs * float64(time.Millisecond))
}

// CompletionPayload is the object the harness assigns to the completion flag.
// It is set exactly once, after every spec has finished.
type CompletionPayload struct {
	OverallStatus      string              `json:"overallStatus"`
	TotalCount         int                 `json:"totalCount"`
	FailedCount        int                 `json:"failedCount"`
	IncompleteReason   string              `json:"incompleteReason,omitempty"`
	FailedExpectations []FailedExpectation `json:"failedExpectations"`
	Specs              []SpecResult        `json:"specs,omitempty"`
}

// TestRunResult captures the outcome of one browser test run.
// It is built once from the completion payload and must not be modified afterwards.
type TestRunResult struct {
	Status             TestStatus
	TotalCount         int
	FailedCount        int
	IncompleteReason   string
	FailedExpectations []FailedExpectation
	Specs              []SpecResult
	Duration           time.Duration
}

// NewTestRunResult converts a completion payload into a TestRunResult
func NewTestRunResult(p CompletionPayload, duration time.Duration) *TestRunResult {
	status := TestStatus(strings.ToLower(strings.TrimSpace(p.OverallStatus)))
	switch status {
	case TestStatusPassed, TestStatusFailed, TestStatusIncomplete:
	default:
		// Anything the harness did not explicitly call a pass is a failure
		status = TestStatusFailed
	}

	failed := p.FailedCount
	if failed == 0 {
		for _, spec := range p.Specs {
			if spec.Status == "failed" {
				failed++
			}
		}
	}

	total := p.TotalCount
	if total == 0 {
		total = len(p.Specs)
	}

	expectations := make([]FailedExpectation, len(p.FailedExpectations))
	copy(expectations, p.FailedExpectations)
	specs := make([]SpecResult, len(p.Specs))
	copy(specs, p.Specs)

	return &TestRunResult{
		Status:             status,
		TotalCount:         total,
		FailedCount:        failed,
		IncompleteReason:   p.IncompleteReason,
		FailedExpectations: expectations,
		Specs:              specs,
		Duration:           duration,
	}
}

// Passed reports whether the run counts as a success
func (r *TestRunResult) Passed() bool {
	return r != nil && r.Status == TestStatusPassed
}

// String returns the human-readable summary of the run
func (r *TestRunResult) String() string {
	if r == nil {
		return "no test result"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Test Results: %s\n", r.Status)
	fmt.Fprintf(&b, "Total specs: %d\n", r.TotalCount)
	fmt.Fprintf(&b, "Failed specs: %d", r.FailedCount)
	if r.IncompleteReason != "" {
		fmt.Fprintf(&b, "\nIncomplete: %s", r.IncompleteReason)
	}
	return b.String()
}
