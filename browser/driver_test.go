package browser

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// fakePage records every call in order and publishes flag after flagDelay
type fakePage struct {
	mu    sync.Mutex
	calls []string

	flag        string // JSON published once flagDelay has passed; empty means never
	flagDelay   time.Duration
	navigateErr error
	consoleMsgs []ConsoleMessage
	pageErrors  []string

	closed int
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Observe(obs Observers) error {
	p.record("observe")
	// replay page output as soon as navigation happens
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs, errs := p.consoleMsgs, p.pageErrors
	p.consoleMsgs = nil
	p.pageErrors = nil
	go func() {
		for _, m := range msgs {
			obs.Console(m)
		}
		for _, e := range errs {
			obs.PageError(e)
		}
	}()
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate " + url)
	return p.navigateErr
}

func (p *fakePage) WaitForFlag(ctx context.Context, name string) error {
	p.record("wait " + name)
	if p.flag == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-time.After(p.flagDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePage) ReadFlag(ctx context.Context, name string) ([]byte, error) {
	p.record("read " + name)
	return []byte(p.flag), nil
}

func (p *fakePage) Close() error {
	p.record("close")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakeLauncher struct {
	page *fakePage
	err  error
}

func (l *fakeLauncher) Launch(ctx context.Context) (Page, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

func newTestDriver(t *testing.T, l Launcher, out *bytes.Buffer) *Driver {
	t.Helper()
	cfg := Config{Log: log.NewLogger(log.DiscardHandler()), Launcher: l}
	if out != nil {
		cfg.ConsoleOutput = out
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

const passedFlag = `{"overallStatus":"passed","totalCount":5,"failedCount":0,"failedExpectations":[]}`

func TestRunPassed(t *testing.T) {
	page := &fakePage{flag: passedFlag}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	result, err := d.Run(context.Background(), "http://localhost:8000/", time.Second)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Passed())
	assert.Equal(t, 5, result.TotalCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Contains(t, result.String(), "Total specs: 5")
	assert.Contains(t, result.String(), "Failed specs: 0")

	assert.Equal(t, []string{
		"observe",
		"navigate http://localhost:8000/",
		"wait jasmineResults",
		"read jasmineResults",
		"close",
	}, page.Calls())
	assert.Equal(t, []State{
		StateLaunched,
		StateNavigatePending,
		StateNavigated,
		StateAwaitingCompletion,
		StateCompleted,
		StateClosed,
	}, d.States())
}

func TestRunFailedSpecs(t *testing.T) {
	page := &fakePage{flag: `{"overallStatus":"failed","totalCount":3,"failedCount":1,
		"failedExpectations":[{"spec":"echo works","message":"Expected 1 to be 2."}]}`}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	result, err := d.Run(context.Background(), "http://localhost:8000/", time.Second)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	assert.Equal(t, types.TestStatusFailed, result.Status)
	require.Len(t, result.FailedExpectations, 1)
	assert.Equal(t, "Expected 1 to be 2.", result.FailedExpectations[0].Message)
}

func TestRunTimeout(t *testing.T) {
	page := &fakePage{}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	timeout := 200 * time.Millisecond
	start := time.Now()
	result, err := d.Run(context.Background(), "http://localhost:8000/", timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsTestTimeoutError(err))
	assert.GreaterOrEqual(t, elapsed, timeout, "must not give up before the timeout")
	assert.Less(t, elapsed, timeout+time.Second, "must not wait unboundedly past the timeout")

	assert.Equal(t, 1, page.closed)
	assert.Equal(t, []State{
		StateLaunched,
		StateNavigatePending,
		StateNavigated,
		StateAwaitingCompletion,
		StateTimedOut,
		StateClosed,
	}, d.States())
}

func TestRunFlagJustBeforeTimeout(t *testing.T) {
	page := &fakePage{flag: passedFlag, flagDelay: 100 * time.Millisecond}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	result, err := d.Run(context.Background(), "http://localhost:8000/", 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.Passed())
}

func TestRunCancelled(t *testing.T) {
	page := &fakePage{}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := d.Run(ctx, "http://localhost:8000/", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTestTimeoutError(err))
	assert.Equal(t, 1, page.closed)
}

func TestRunLaunchFailure(t *testing.T) {
	d := newTestDriver(t, &fakeLauncher{err: errors.New("chrome not found")}, nil)

	_, err := d.Run(context.Background(), "http://localhost:8000/", time.Second)
	require.Error(t, err)
	assert.True(t, IsBrowserLaunchError(err))
	assert.Empty(t, d.States())
}

func TestRunNavigateFailureClosesBrowser(t *testing.T) {
	page := &fakePage{navigateErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	_, err := d.Run(context.Background(), "http://localhost:8000/", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	assert.Equal(t, 1, page.closed)
	assert.Equal(t, StateClosed, d.States()[len(d.States())-1])
}

func TestRunMalformedFlag(t *testing.T) {
	page := &fakePage{flag: `{"overallStatus":`}
	d := newTestDriver(t, &fakeLauncher{page: page}, nil)

	_, err := d.Run(context.Background(), "http://localhost:8000/", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode completion flag")
	assert.Equal(t, 1, page.closed)
}

func TestRunRelaysConsole(t *testing.T) {
	page := &fakePage{
		flag:        passedFlag,
		flagDelay:   50 * time.Millisecond,
		consoleMsgs: []ConsoleMessage{{Level: "log", Text: "Suite: EchoService"}},
		pageErrors:  []string{"ReferenceError: foo is not defined"},
	}
	var out syncBuffer
	d, err := New(Config{Log: log.NewLogger(log.DiscardHandler()), Launcher: &fakeLauncher{page: page}, ConsoleOutput: &out})
	require.NoError(t, err)

	_, err = d.Run(context.Background(), "http://localhost:8000/", time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := out.String()
		return bytes.Contains([]byte(s), []byte("[Browser]: Suite: EchoService")) &&
			bytes.Contains([]byte(s), []byte("[Page Error]: ReferenceError: foo is not defined"))
	}, time.Second, 10*time.Millisecond)
}

func TestNewRequiresLauncher(t *testing.T) {
	_, err := New(Config{Log: log.NewLogger(log.DiscardHandler())})
	require.Error(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
