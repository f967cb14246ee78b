package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/browser-acceptor/browser"
	"github.com/ethereum-optimism/infra/browser-acceptor/exitcodes"
	"github.com/ethereum-optimism/infra/browser-acceptor/logging"
	"github.com/ethereum-optimism/infra/browser-acceptor/metrics"
	"github.com/ethereum-optimism/infra/browser-acceptor/reporting"
	"github.com/ethereum-optimism/infra/browser-acceptor/supervisor"
	"github.com/ethereum-optimism/infra/browser-acceptor/testhost"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// Phase names, used for spans, metrics and progress logs
const (
	PhaseBuild   = "build"
	PhaseStart   = "start"
	PhaseBundle  = "bundle"
	PhaseServe   = "serve"
	PhaseBrowser = "browser"
	PhaseReport  = "report"
)

// ProcessSupervisor builds and runs the backend roles
type ProcessSupervisor interface {
	Build(ctx context.Context, role types.Role) error
	Start(ctx context.Context, role types.Role, args []string) (*supervisor.ManagedProcess, error)
	StopAll()
}

// SpecBundler turns spec sources into one script
type SpecBundler interface {
	Bundle(ctx context.Context, sources []string) (string, error)
}

// HarnessHost serves the harness page and the bundle
type HarnessHost interface {
	Serve(ctx context.Context, harness testhost.HarnessDocument, bundlePath string) error
	URL() string
	Close() error
}

// BrowserDriver loads the harness and collects the result. Implementations
// release the browser before returning.
type BrowserDriver interface {
	Run(ctx context.Context, url string, timeout time.Duration) (*types.TestRunResult, error)
}

// HarnessBuilder produces the harness document served to the browser
type HarnessBuilder func() (testhost.HarnessDocument, error)

// Config holds configuration for creating a new Orchestrator
type Config struct {
	Log        log.Logger
	RunID      string
	Supervisor ProcessSupervisor
	Bundler    SpecBundler
	Host       HarnessHost
	Driver     BrowserDriver
	Harness    HarnessBuilder
	Roles      []types.Role  // Start order; defaults to types.Roles
	Specs      []string      // Spec sources, in bundle order
	Timeout    time.Duration // Upper bound for the browser run
	SkipBuild  bool          // Reuse existing binaries
	FileLogger *logging.FileLogger
	Output     io.Writer // Where the results table is printed
	Styled     bool      // Colour the results table
	Progress   ProgressIndicator
}

// Orchestrator drives one complete browser test run
type Orchestrator struct {
	log        log.Logger
	runID      string
	supervisor ProcessSupervisor
	bundler    SpecBundler
	host       HarnessHost
	driver     BrowserDriver
	harness    HarnessBuilder
	roles      []types.Role
	specs      []string
	timeout    time.Duration
	skipBuild  bool
	fileLogger *logging.FileLogger
	output     io.Writer
	styled     bool
	progress   ProgressIndicator
	tracer     trace.Tracer
}

// New creates an Orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if cfg.Bundler == nil {
		return nil, errors.New("bundler is required")
	}
	if cfg.Host == nil {
		return nil, errors.New("test host is required")
	}
	if cfg.Driver == nil {
		return nil, errors.New("browser driver is required")
	}
	if cfg.Harness == nil {
		return nil, errors.New("harness builder is required")
	}
	if len(cfg.Specs) == 0 {
		return nil, errors.New("at least one spec source is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.RunID == "" {
		if cfg.FileLogger != nil {
			cfg.RunID = cfg.FileLogger.GetRunID()
		} else {
			cfg.RunID = uuid.New().String()
		}
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = types.Roles
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = browser.DefaultTimeout
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}

	return &Orchestrator{
		log:        cfg.Log.New("run_id", cfg.RunID),
		runID:      cfg.RunID,
		supervisor: cfg.Supervisor,
		bundler:    cfg.Bundler,
		host:       cfg.Host,
		driver:     cfg.Driver,
		harness:    cfg.Harness,
		roles:      cfg.Roles,
		specs:      cfg.Specs,
		timeout:    cfg.Timeout,
		skipBuild:  cfg.SkipBuild,
		fileLogger: cfg.FileLogger,
		output:     cfg.Output,
		styled:     cfg.Styled,
		progress:   cfg.Progress,
		tracer:     otel.Tracer("browser-acceptor runner"),
	}, nil
}

// RunID returns the identifier of this run
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run performs the whole lifecycle and returns the process exit code. The
// error is nil for a completed run, passed or failed; it is set when the run
// could not produce a result, including a browser timeout. Every acquired
// resource is released before Run returns.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "browser test run", trace.WithAttributes(
		attribute.String("run_id", o.runID),
		attribute.Int("specs", len(o.specs)),
	))
	defer span.End()
	defer o.progress.Stop()

	start := time.Now()
	o.log.Info("Starting browser test run", "specs", len(o.specs), "timeout", o.timeout, "skipBuild", o.skipBuild)

	teardown := newTeardownStack(o.log)
	result, err := o.execute(ctx, teardown)
	if tdErr := teardown.unwind(); tdErr != nil {
		o.log.Error("Teardown incomplete", "err", tdErr)
		metrics.RecordErrorDetails("teardown", tdErr)
	}

	code := o.exitCode(ctx, result, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRun(o.runID, types.TestStatusFailed, 0, 0, time.Since(start))
	}
	o.log.Info("Browser test run finished", "exitCode", code, "duration", time.Since(start))
	return code, err
}

func (o *Orchestrator) execute(ctx context.Context, teardown *teardownStack) (*types.TestRunResult, error) {
	if o.skipBuild {
		o.log.Info("Skipping build, reusing existing binaries")
	} else if err := o.phase(ctx, PhaseBuild, o.buildAll); err != nil {
		return nil, err
	}

	// registered before the first spawn so a half-started set is still torn down
	teardown.push("processes", func() error {
		o.supervisor.StopAll()
		return nil
	})
	if err := o.phase(ctx, PhaseStart, o.startAll); err != nil {
		return nil, err
	}

	var bundlePath string
	if err := o.phase(ctx, PhaseBundle, func(ctx context.Context) error {
		o.log.Info("Bundling specs", "specs", len(o.specs))
		var err error
		bundlePath, err = o.bundler.Bundle(ctx, o.specs)
		return err
	}); err != nil {
		return nil, err
	}

	if err := o.phase(ctx, PhaseServe, func(ctx context.Context) error {
		harness, err := o.harness()
		if err != nil {
			return fmt.Errorf("failed to build harness: %w", err)
		}
		if err := o.host.Serve(ctx, harness, bundlePath); err != nil {
			return err
		}
		teardown.push("test host", o.host.Close)
		return nil
	}); err != nil {
		return nil, err
	}

	var result *types.TestRunResult
	if err := o.phase(ctx, PhaseBrowser, func(ctx context.Context) error {
		var err error
		result, err = o.driver.Run(ctx, o.host.URL(), o.timeout)
		return err
	}); err != nil {
		return nil, err
	}

	if err := o.phase(ctx, PhaseReport, func(ctx context.Context) error {
		return o.report(result)
	}); err != nil {
		// the run itself completed, a reporting failure does not change its outcome
		o.log.Error("Failed to report results", "err", err)
	}
	return result, nil
}

// phase runs fn inside a span and records its duration
func (o *Orchestrator) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("phase %s", name))
	defer span.End()

	o.progress.StartPhase(name)
	start := time.Now()
	err := fn(ctx)
	metrics.RecordPhase(o.runID, name, err, time.Since(start))
	o.progress.CompletePhase(name, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Error("Phase failed", "phase", name, "err", err)
	}
	return err
}

// buildAll compiles every role concurrently; the first failure cancels the rest
func (o *Orchestrator) buildAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, role := range o.roles {
		g.Go(func() error {
			return o.supervisor.Build(gctx, role)
		})
	}
	return g.Wait()
}

// startAll starts the roles one after another; each must be ready before the next
func (o *Orchestrator) startAll(ctx context.Context) error {
	for _, role := range o.roles {
		proc, err := o.supervisor.Start(ctx, role, nil)
		if err != nil {
			if proc != nil {
				if out := strings.TrimSpace(proc.Output()); out != "" {
					o.log.Error("Role output before failure", "role", role, "output", out, "truncated", proc.OutputTruncated())
				}
			}
			return err
		}
	}
	return nil
}

func (o *Orchestrator) report(result *types.TestRunResult) error {
	title := fmt.Sprintf("Browser Test Results (run %s)", o.runID)
	if err := reporting.NewTableReporter(title, o.styled).Print(o.output, result); err != nil {
		return fmt.Errorf("failed to print results: %w", err)
	}

	for _, line := range strings.Split(result.String(), "\n") {
		o.log.Info(line)
	}
	for _, fe := range result.FailedExpectations {
		o.log.Error("Failed expectation", "spec", fe.Spec, "message", fe.Message)
	}
	metrics.RecordRun(o.runID, result.Status, result.TotalCount, result.FailedCount, result.Duration)

	if o.fileLogger != nil {
		if err := o.fileLogger.LogResult(result); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
	}
	return nil
}

// exitCode maps the run outcome onto the process exit code
func (o *Orchestrator) exitCode(ctx context.Context, result *types.TestRunResult, err error) int {
	switch {
	case err == nil && result.Passed():
		return exitcodes.Success
	case err == nil:
		return exitcodes.TestFailure
	case ctx.Err() != nil:
		o.log.Warn("Run cancelled", "err", err)
		return exitcodes.RuntimeErr
	case browser.IsTestTimeoutError(err):
		o.log.Error("Browser tests did not complete in time", "timeout", o.timeout)
		o.printTimeoutSummary()
		return exitcodes.TestFailure
	default:
		return exitcodes.RuntimeErr
	}
}

// printTimeoutSummary reports a run that never delivered a result
func (o *Orchestrator) printTimeoutSummary() {
	summary := fmt.Sprintf("Test Results: %s (timeout)\nNo result within %s", types.TestStatusFailed, o.timeout)
	if _, err := fmt.Fprintln(o.output, summary); err != nil {
		o.log.Warn("Failed to print timeout summary", "err", err)
	}
	for _, line := range strings.Split(summary, "\n") {
		o.log.Info(line)
	}
}
