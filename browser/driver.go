// Package browser drives one headless browser page through a harness run and
// extracts the result the harness publishes.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/browser-acceptor/metrics"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

const (
	// DefaultTimeout bounds the wait for the completion flag
	DefaultTimeout = 120 * time.Second

	// DefaultCompletionFlag is the window property holding the result payload
	DefaultCompletionFlag = "jasmineResults"
)

// ConsoleMessage is one console call made by the page
type ConsoleMessage struct {
	Level string
	Text  string
}

// Observers receive page output. Both callbacks may be invoked from a
// goroutine other than the caller of Run.
type Observers struct {
	Console   func(ConsoleMessage)
	PageError func(message string)
}

// Page is the narrow capability the driver needs from an automated browser
type Page interface {
	// Observe registers the observers; it must be called before Navigate
	Observe(obs Observers) error
	Navigate(ctx context.Context, url string) error
	// WaitForFlag blocks until window[name] is defined or ctx is done
	WaitForFlag(ctx context.Context, name string) error
	// ReadFlag returns window[name] serialised as JSON
	ReadFlag(ctx context.Context, name string) ([]byte, error)
	// Close releases the page and the browser behind it
	Close() error
}

// Launcher starts a browser and opens one page in it
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// State is a step of the driver's lifecycle
type State string

const (
	StateLaunched           State = "launched"
	StateNavigatePending    State = "navigate_pending"
	StateNavigated          State = "navigated"
	StateAwaitingCompletion State = "awaiting_completion"
	StateCompleted          State = "completed"
	StateTimedOut           State = "timed_out"
	StateClosed             State = "closed"
)

// Config holds configuration for creating a new Driver
type Config struct {
	Log            log.Logger
	Launcher       Launcher
	CompletionFlag string
	// ConsoleOutput receives every console line and page error, ANSI intact
	ConsoleOutput io.Writer
}

// Driver runs the harness in a browser
type Driver struct {
	log      log.Logger
	launcher Launcher
	flag     string
	out      io.Writer
	outMu    sync.Mutex

	mu     sync.Mutex
	states []State
}

func New(cfg Config) (*Driver, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("browser launcher is required")
	}
	if cfg.CompletionFlag == "" {
		cfg.CompletionFlag = DefaultCompletionFlag
	}
	if cfg.ConsoleOutput == nil {
		cfg.ConsoleOutput = io.Discard
	}
	return &Driver{
		log:      cfg.Log,
		launcher: cfg.Launcher,
		flag:     cfg.CompletionFlag,
		out:      cfg.ConsoleOutput,
	}, nil
}

// States returns the lifecycle states visited by the most recent Run
func (d *Driver) States() []State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]State(nil), d.states...)
}

func (d *Driver) transition(s State) {
	d.mu.Lock()
	d.states = append(d.states, s)
	d.mu.Unlock()
	d.log.Debug("Browser state", "state", s)
}

// Run loads url in a fresh page and waits up to timeout for the completion
// flag. The browser is always released before Run returns.
func (d *Driver) Run(ctx context.Context, url string, timeout time.Duration) (*types.TestRunResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d.mu.Lock()
	d.states = nil
	d.mu.Unlock()

	d.log.Info("Launching browser")
	page, err := d.launcher.Launch(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.RecordErrorDetails("browser_launch", err)
		return nil, &BrowserLaunchError{Err: err}
	}
	d.transition(StateLaunched)

	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			d.log.Warn("Failed to close browser", "err", closeErr)
		}
		d.transition(StateClosed)
		d.log.Info("Browser closed")
	}()

	d.transition(StateNavigatePending)
	if err := page.Observe(Observers{Console: d.onConsole, PageError: d.onPageError}); err != nil {
		return nil, fmt.Errorf("failed to register page observers: %w", err)
	}

	d.log.Info("Loading test page", "url", url)
	if err := page.Navigate(ctx, url); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	d.transition(StateNavigated)

	d.log.Info("Waiting for tests to complete", "timeout", timeout)
	d.transition(StateAwaitingCompletion)
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.WaitForFlag(waitCtx, d.flag); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
			d.transition(StateTimedOut)
			d.log.Error("Timed out waiting for tests to complete", "timeout", timeout)
			return nil, &TestTimeoutError{Timeout: timeout}
		}
		return nil, fmt.Errorf("failed waiting for completion flag: %w", err)
	}
	elapsed := time.Since(start)

	raw, err := page.ReadFlag(ctx, d.flag)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion flag: %w", err)
	}
	var payload types.CompletionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode completion flag: %w", err)
	}

	d.transition(StateCompleted)
	result := types.NewTestRunResult(payload, elapsed)
	d.log.Info("Tests completed", "status", result.Status, "total", result.TotalCount, "failed", result.FailedCount, "duration", elapsed)
	return result, nil
}

func (d *Driver) onConsole(msg ConsoleMessage) {
	metrics.RecordConsoleMessage(msg.Level)
	d.log.Info("[Browser]: "+msg.Text, "level", msg.Level)
	d.write("[Browser]: " + msg.Text)
}

func (d *Driver) onPageError(message string) {
	metrics.RecordError("browser_page_error")
	d.log.Error("[Page Error]: " + message)
	d.write("[Page Error]: " + message)
}

func (d *Driver) write(line string) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, _ = io.WriteString(d.out, line)
}
