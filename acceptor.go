package acceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ethereum-optimism/infra/browser-acceptor/browser"
	"github.com/ethereum-optimism/infra/browser-acceptor/bundler"
	"github.com/ethereum-optimism/infra/browser-acceptor/exitcodes"
	"github.com/ethereum-optimism/infra/browser-acceptor/logging"
	"github.com/ethereum-optimism/infra/browser-acceptor/registry"
	"github.com/ethereum-optimism/infra/browser-acceptor/reporting"
	"github.com/ethereum-optimism/infra/browser-acceptor/runner"
	"github.com/ethereum-optimism/infra/browser-acceptor/supervisor"
	"github.com/ethereum-optimism/infra/browser-acceptor/testhost"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// acceptor implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &acceptor{}

// acceptor runs one browser test run and exits.
type acceptor struct {
	config       *Config
	version      string
	registry     *registry.Registry
	fileLogger   *logging.FileLogger
	supervisor   *supervisor.Supervisor
	host         *testhost.Host
	orchestrator *runner.Orchestrator
	lineWriters  []*logging.LineWriter

	running  atomic.Bool
	stopOnce sync.Once

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Options carries collaborators that have no command line representation
type Options struct {
	// Launcher starts the browser; nil uses Chromium through rod
	Launcher browser.Launcher
	// CmdBuilder creates build and role commands; nil kills the whole process group on cancellation
	CmdBuilder supervisor.CmdBuilder
	// Output receives the results table; nil uses stdout
	Output io.Writer
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error), opts Options) (*acceptor, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating browser-acceptor with config",
		"workDir", config.WorkDir,
		"manifest", config.ManifestFile,
		"specs", config.Specs,
		"bundler", config.BundlerCmd,
		"hostAddr", config.HostAddr,
		"timeout", config.Timeout,
		"skipBuild", config.SkipBuild)

	reg, err := registry.NewRegistry(registry.Config{
		Log:          config.Log,
		ManifestFile: config.ManifestFile,
		Defaults: types.ManifestConfig{
			Roles: config.Roles,
			Specs: config.Specs,
		},
		BaseDir: config.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	runID := uuid.New().String()
	fileLogger, err := logging.NewFileLogger(config.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.AddSink(reporting.NewTextSummarySink(config.LogDir))
	htmlSink, err := reporting.NewHTMLSink(config.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML sink: %w", err)
	}
	fileLogger.AddSink(htmlSink)
	fileLogger.AddSink(logging.NewJSONSink(fileLogger))

	a := &acceptor{
		config:           config,
		version:          version,
		registry:         reg,
		fileLogger:       fileLogger,
		shutdownCallback: shutdownCallback,
	}
	runLog := config.Log.New("run_id", runID)

	roles := reg.Roles()
	outputs := make(map[types.Role]io.Writer, len(roles))
	for _, rc := range roles {
		w, err := a.teeWriter(runLog, logging.ProcessLogFilename(rc.Name), string(rc.Name))
		if err != nil {
			return nil, err
		}
		outputs[rc.Name] = w
	}

	sup, err := supervisor.New(supervisor.Config{
		Log:             runLog,
		Roles:           roles,
		WorkDir:         config.WorkDir,
		GoBinary:        config.GoBinary,
		SettleDelay:     config.SettleDelay,
		ReadyTimeout:    config.ReadyTimeout,
		StopGracePeriod: config.StopGracePeriod,
		Output: func(role types.Role) io.Writer {
			if w, ok := outputs[role]; ok {
				return w
			}
			return io.Discard
		},
		CmdBuilder: opts.CmdBuilder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor: %w", err)
	}
	a.supervisor = sup

	bundlerOut, err := a.teeWriter(runLog, logging.BundlerLogFilename, "bundler")
	if err != nil {
		return nil, err
	}
	b, err := bundler.New(bundler.Config{
		Log:       runLog,
		Command:   config.BundlerCmd,
		WorkDir:   config.WorkDir,
		OutputDir: config.BundleDir,
		Output:    bundlerOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bundler: %w", err)
	}

	a.host = testhost.New(testhost.Config{Log: runLog, Addr: config.HostAddr})

	consoleOut, err := fileLogger.Writer(logging.BrowserLogFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser log: %w", err)
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = &browser.RodLauncher{
			Log:       runLog,
			Bin:       config.BrowserBin,
			Headless:  config.Headless,
			NoSandbox: config.NoSandbox,
		}
	}
	driver, err := browser.New(browser.Config{
		Log:           runLog,
		Launcher:      launcher,
		ConsoleOutput: consoleOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser driver: %w", err)
	}

	output := opts.Output
	styled := false
	if output == nil {
		output = os.Stdout
		styled = isTerminal(os.Stdout)
	}

	roleOrder := make([]types.Role, 0, len(roles))
	for _, rc := range roles {
		roleOrder = append(roleOrder, rc.Name)
	}

	jasmineDir := config.JasmineDir
	orch, err := runner.New(runner.Config{
		Log:        config.Log,
		RunID:      runID,
		Supervisor: sup,
		Bundler:    b,
		Host:       a.host,
		Driver:     driver,
		Harness: func() (testhost.HarnessDocument, error) {
			return testhost.NewHarnessDocument(jasmineDir)
		},
		Roles:      roleOrder,
		Specs:      reg.Specs(),
		Timeout:    config.Timeout,
		SkipBuild:  config.SkipBuild,
		FileLogger: fileLogger,
		Output:     output,
		Styled:     styled,
		Progress:   runner.NewConsoleProgressIndicator(runLog, config.ProgressInterval),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orchestrator = orch

	config.Log.Info("browser-acceptor.New: created registry and orchestrator", "run_id", runID, "specs", len(reg.Specs()))
	return a, nil
}

// teeWriter copies output to a file in the run directory and to the logger
func (a *acceptor) teeWriter(logger log.Logger, filename, source string) (io.Writer, error) {
	fw, err := a.fileLogger.Writer(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	lw := logging.NewLineWriter(logger, source)
	a.lineWriters = append(a.lineWriters, lw)
	return io.MultiWriter(fw, lw), nil
}

// RunID returns the identifier of the run
func (a *acceptor) RunID() string {
	return a.orchestrator.RunID()
}

// Start performs the browser test run.
// Start implements the cliapp.Lifecycle interface.
func (a *acceptor) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("Runtime error occurred", "error", r)
			a.release()
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.running.Store(true)
	defer a.running.Store(false)

	a.config.Log.Info("Starting browser-acceptor", "version", a.version, "run_id", a.RunID())

	code, err := a.orchestrator.Run(ctx)
	for _, lw := range a.lineWriters {
		lw.Flush()
	}
	if cerr := a.fileLogger.Complete(); cerr != nil {
		a.config.Log.Error("Failed to write run artifacts", "err", cerr)
	}
	a.config.Log.Info("Run artifacts written", "dir", a.fileLogger.GetDirectory())

	return a.conclude(code, err)
}

// conclude turns the orchestrator outcome into the lifecycle result
func (a *acceptor) conclude(code int, err error) error {
	switch code {
	case exitcodes.Success:
		a.config.Log.Info("Browser tests passed, exiting")
		go func() {
			a.shutdownCallback(nil)
		}()
		return nil
	case exitcodes.TestFailure:
		msg := fmt.Sprintf("one or more specs failed, see %s", a.fileLogger.GetSummaryFile())
		if err != nil {
			msg = err.Error()
		}
		a.config.Log.Warn("Browser test run completed with failures, returning exit code 1")
		return NewTestFailureError(msg)
	default:
		if err == nil {
			err = fmt.Errorf("run ended with exit code %d", code)
		}
		a.config.Log.Error("Runtime error running browser tests", "error", err)
		return NewRuntimeError(err)
	}
}

// Stop releases anything the run still holds. The orchestrator tears down on
// its own; this covers an interrupt that arrives mid-run.
// Stop implements the cliapp.Lifecycle interface.
func (a *acceptor) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping browser-acceptor")
	var err error
	a.stopOnce.Do(func() {
		err = a.release()
	})
	a.running.Store(false)
	return err
}

func (a *acceptor) release() error {
	var errs *multierror.Error
	if err := a.host.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("close test host: %w", err))
	}
	a.supervisor.StopAll()
	return errs.ErrorOrNil()
}

// Stopped returns true if no run is in progress.
// Stopped implements the cliapp.Lifecycle interface.
func (a *acceptor) Stopped() bool {
	return !a.running.Load()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
