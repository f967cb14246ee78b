package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "browser_acceptor"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPassed, types.TestStatusFailed, types.TestStatusIncomplete}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	phaseDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of each orchestration phase",
	}, []string{
		"run_id",
		"phase",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of browser test runs",
	}, []string{
		"run_id",
		"result",
	})

	specsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "specs_total",
		Help:      "Total number of specs executed in the browser",
	}, []string{
		"run_id",
	})

	specsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "specs_failed",
		Help:      "Number of failed specs",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the whole run",
	}, []string{
		"run_id",
	})

	consoleMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "browser_console_messages_total",
		Help:      "Console messages relayed from the browser page",
	}, []string{
		"level",
	})

	liveProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "live_processes",
		Help:      "Number of supervised processes currently running",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordPhase records how long one orchestration phase took
func RecordPhase(runID string, phase string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if Debug {
		log.Debug("metric set",
			"m", "phase_duration_seconds",
			"run_id", runID,
			"phase", phase,
			"result", result,
			"duration", duration)
	}
	phaseDuration.WithLabelValues(runID, phase, result).Set(duration.Seconds())
}

func RecordRun(runID string, result types.TestStatus, total int, failed int, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordRun - invalid result", "result", result)
		return
	}
	runResults.WithLabelValues(runID, string(result)).Set(1)
	specsTotal.WithLabelValues(runID).Add(float64(total))
	specsFailed.WithLabelValues(runID).Add(float64(failed))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func RecordConsoleMessage(level string) {
	if level == "" {
		level = "log"
	}
	consoleMessages.WithLabelValues(level).Inc()
}

func SetLiveProcesses(n int) {
	liveProcesses.Set(float64(n))
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
