package templates

import (
	"fmt"
	"html/template"
	"time"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// GetTemplateFunc returns the centralized template functions used across the application
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"getStatusClass": func(status types.TestStatus) string {
			return getStatusString(status)
		},
		"getStatusText": func(status types.TestStatus) string {
			return getStatusString(status)
		},
		"getSpecStatusClass": func(status string) string {
			return getStatusString(types.TestStatus(status))
		},
		"add": func(a, b int) int {
			return a + b
		},
	}
}

// FormatDuration renders sub-second durations in milliseconds
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// getStatusString returns a consistent lowercase status string
func getStatusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPassed:
		return "pass"
	case types.TestStatusFailed:
		return "fail"
	case types.TestStatusIncomplete:
		return "incomplete"
	case "pending", "excluded":
		return "skip"
	default:
		return "unknown"
	}
}
