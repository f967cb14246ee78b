package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/browser-acceptor/browser"
	"github.com/ethereum-optimism/infra/browser-acceptor/bundler"
	"github.com/ethereum-optimism/infra/browser-acceptor/exitcodes"
	"github.com/ethereum-optimism/infra/browser-acceptor/logging"
	"github.com/ethereum-optimism/infra/browser-acceptor/supervisor"
	"github.com/ethereum-optimism/infra/browser-acceptor/testhost"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// callLog records the order in which collaborators are invoked
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeSupervisor struct {
	calls    *callLog
	buildErr map[types.Role]error
	startErr map[types.Role]error

	mu       sync.Mutex
	started  int
	live     int
	stopAlls int
}

func (s *fakeSupervisor) Build(ctx context.Context, role types.Role) error {
	s.calls.add("build %s", role)
	return s.buildErr[role]
}

func (s *fakeSupervisor) Start(ctx context.Context, role types.Role, args []string) (*supervisor.ManagedProcess, error) {
	s.calls.add("start %s", role)
	s.mu.Lock()
	s.started++
	s.live++
	s.mu.Unlock()
	return nil, s.startErr[role]
}

func (s *fakeSupervisor) StopAll() {
	s.calls.add("stopAll")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = 0
	s.stopAlls++
}

type fakeBundler struct {
	calls *callLog
	path  string
	err   error
}

func (b *fakeBundler) Bundle(ctx context.Context, sources []string) (string, error) {
	b.calls.add("bundle %d", len(sources))
	return b.path, b.err
}

type fakeHost struct {
	calls      *callLog
	serveErr   error
	closePanic bool

	served int
	closed int
}

func (h *fakeHost) Serve(ctx context.Context, harness testhost.HarnessDocument, bundlePath string) error {
	h.calls.add("serve %s", bundlePath)
	if h.serveErr != nil {
		return h.serveErr
	}
	h.served++
	return nil
}

func (h *fakeHost) URL() string {
	return "http://localhost:8000/"
}

func (h *fakeHost) Close() error {
	h.calls.add("closeHost")
	h.closed++
	if h.closePanic {
		panic("listener already gone")
	}
	return nil
}

type fakeDriver struct {
	calls  *callLog
	result *types.TestRunResult
	err    error
	block  bool // wait for cancellation
}

func (d *fakeDriver) Run(ctx context.Context, url string, timeout time.Duration) (*types.TestRunResult, error) {
	d.calls.add("browser %s", url)
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.result, d.err
}

type fixture struct {
	calls      *callLog
	supervisor *fakeSupervisor
	bundler    *fakeBundler
	host       *fakeHost
	driver     *fakeDriver
	output     *bytes.Buffer
	logs       *bytes.Buffer
}

func newFixture() *fixture {
	calls := &callLog{}
	return &fixture{
		calls:      calls,
		supervisor: &fakeSupervisor{calls: calls},
		bundler:    &fakeBundler{calls: calls, path: "/tmp/bundle/spec.js"},
		host:       &fakeHost{calls: calls},
		driver: &fakeDriver{calls: calls, result: types.NewTestRunResult(types.CompletionPayload{
			OverallStatus: "passed",
			TotalCount:    5,
		}, time.Second)},
		output: &bytes.Buffer{},
		logs:   &bytes.Buffer{},
	}
}

func (f *fixture) config() Config {
	return Config{
		Log:        log.NewLogger(log.NewTerminalHandler(f.logs, false)),
		RunID:      "run-1",
		Supervisor: f.supervisor,
		Bundler:    f.bundler,
		Host:       f.host,
		Driver:     f.driver,
		Harness: func() (testhost.HarnessDocument, error) {
			return testhost.HarnessDocument("<html></html>"), nil
		},
		Specs:   []string{"spec/echo_spec.js", "spec/health_spec.js"},
		Timeout: time.Second,
		Output:  f.output,
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, mutate ...func(*Config)) (int, error) {
	t.Helper()
	cfg := f.config()
	for _, m := range mutate {
		m(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o.Run(ctx)
}

// assertReleased checks that everything acquired was released
func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	assert.Zero(t, f.supervisor.live, "child processes left running")
	assert.Equal(t, f.host.served, f.host.closed, "host listener leaked")
	if f.supervisor.started > 0 {
		assert.Equal(t, 1, f.supervisor.stopAlls)
	}
}

func TestRunPassed(t *testing.T) {
	f := newFixture()
	code, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, exitcodes.Success, code)

	calls := f.calls.list()
	builds := calls[:2]
	sort.Strings(builds)
	assert.Equal(t, []string{"build gateway", "build server"}, builds)
	assert.Equal(t, []string{
		"start server",
		"start gateway",
		"bundle 2",
		"serve /tmp/bundle/spec.js",
		"browser http://localhost:8000/",
		"closeHost",
		"stopAll",
	}, calls[2:])

	assert.Contains(t, f.output.String(), "Total specs: 5")
	assert.Contains(t, f.output.String(), "Failed specs: 0")
	assert.Contains(t, f.logs.String(), "Total specs: 5")
	f.assertReleased(t)
}

func TestRunFailedSpecs(t *testing.T) {
	f := newFixture()
	f.driver.result = types.NewTestRunResult(types.CompletionPayload{
		OverallStatus: "failed",
		TotalCount:    3,
		FailedCount:   1,
		FailedExpectations: []types.FailedExpectation{
			{Spec: "EchoService echoes", Message: "Expected 'a' to equal 'b'."},
		},
	}, time.Second)

	code, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, exitcodes.TestFailure, code)
	assert.Contains(t, f.output.String(), "Failed specs: 1")
	assert.Contains(t, f.logs.String(), "Expected 'a' to equal 'b'.")
	f.assertReleased(t)
}

func TestRunIncompleteIsFailure(t *testing.T) {
	f := newFixture()
	f.driver.result = types.NewTestRunResult(types.CompletionPayload{
		OverallStatus:    "incomplete",
		IncompleteReason: "No specs found",
	}, time.Second)

	code, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, exitcodes.TestFailure, code)
}

func TestRunBuildFailureSpawnsNothing(t *testing.T) {
	f := newFixture()
	f.supervisor.buildErr = map[types.Role]error{
		types.RoleServer: &supervisor.BuildError{Role: types.RoleServer, ExitCode: 1, Err: errors.New("exit status 1")},
	}

	code, err := f.run(t, context.Background())
	require.Error(t, err)
	assert.True(t, supervisor.IsBuildError(err))
	assert.Equal(t, exitcodes.RuntimeErr, code)

	for _, c := range f.calls.list() {
		assert.NotContains(t, c, "start", "nothing may be spawned after a failed build")
		assert.NotContains(t, c, "bundle")
	}
	assert.Contains(t, f.logs.String(), "Phase failed")
	assert.Contains(t, f.logs.String(), "build server")
	f.assertReleased(t)
}

func TestRunStartFailureStopsStartedRoles(t *testing.T) {
	f := newFixture()
	f.supervisor.startErr = map[types.Role]error{
		types.RoleGateway: &supervisor.NotReadyError{Role: types.RoleGateway, Err: errors.New("connection refused")},
	}

	code, err := f.run(t, context.Background())
	require.Error(t, err)
	assert.True(t, supervisor.IsNotReadyError(err))
	assert.Equal(t, exitcodes.RuntimeErr, code)

	calls := f.calls.list()
	assert.Equal(t, "stopAll", calls[len(calls)-1])
	assert.NotContains(t, calls, "bundle 2")
	assert.Zero(t, f.host.served)
	f.assertReleased(t)
}

func TestRunBundleFailure(t *testing.T) {
	f := newFixture()
	f.bundler.err = &bundler.BundleError{ExitCode: 2, Err: errors.New("Module not found")}

	code, err := f.run(t, context.Background())
	require.Error(t, err)
	assert.True(t, bundler.IsBundleError(err))
	assert.Equal(t, exitcodes.RuntimeErr, code)
	assert.Zero(t, f.host.served)
	f.assertReleased(t)
}

func TestRunPortInUse(t *testing.T) {
	f := newFixture()
	f.host.serveErr = &testhost.PortInUseError{Addr: "localhost:8000", Err: errors.New("address already in use")}

	code, err := f.run(t, context.Background())
	require.Error(t, err)
	assert.True(t, testhost.IsPortInUseError(err))
	assert.Equal(t, exitcodes.RuntimeErr, code)
	assert.Zero(t, f.host.closed, "a listener that was never bound is not released")
	f.assertReleased(t)
}

func TestRunHarnessFailure(t *testing.T) {
	f := newFixture()
	code, err := f.run(t, context.Background(), func(cfg *Config) {
		cfg.Harness = func() (testhost.HarnessDocument, error) {
			return nil, errors.New("jasmine.js not found")
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jasmine.js not found")
	assert.Equal(t, exitcodes.RuntimeErr, code)
	f.assertReleased(t)
}

func TestRunBrowserLaunchFailure(t *testing.T) {
	f := newFixture()
	f.driver.err = &browser.BrowserLaunchError{Err: errors.New("chromium not found")}

	code, err := f.run(t, context.Background())
	require.Error(t, err)
	assert.True(t, browser.IsBrowserLaunchError(err))
	assert.Equal(t, exitcodes.RuntimeErr, code)
	f.assertReleased(t)
}

func TestRunTimeout(t *testing.T) {
	f := newFixture()
	f.driver.result = nil
	f.driver.err = &browser.TestTimeoutError{Timeout: time.Second}

	code, err := f.run(t, context.Background())
	require.Error(t, err)
	assert.True(t, browser.IsTestTimeoutError(err))
	assert.NotEqual(t, exitcodes.Success, code)
	assert.Equal(t, exitcodes.TestFailure, code)
	assert.Contains(t, f.logs.String(), "did not complete in time")
	assert.Contains(t, f.output.String(), "Test Results: failed (timeout)")
	assert.Contains(t, f.logs.String(), "Test Results: failed (timeout)")

	calls := f.calls.list()
	assert.Equal(t, []string{"closeHost", "stopAll"}, calls[len(calls)-2:])
	f.assertReleased(t)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture()
	f.driver.block = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	code, err := f.run(t, ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, exitcodes.RuntimeErr, code)
	f.assertReleased(t)
}

func TestRunSkipBuild(t *testing.T) {
	f := newFixture()
	code, err := f.run(t, context.Background(), func(cfg *Config) {
		cfg.SkipBuild = true
	})
	require.NoError(t, err)
	assert.Equal(t, exitcodes.Success, code)
	for _, c := range f.calls.list() {
		assert.NotContains(t, c, "build")
	}
}

func TestRunTeardownContinuesAfterPanic(t *testing.T) {
	f := newFixture()
	f.host.closePanic = true

	code, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, exitcodes.Success, code)
	assert.Equal(t, 1, f.supervisor.stopAlls)
	assert.Contains(t, f.logs.String(), "Teardown incomplete")
	f.assertReleased(t)
}

func TestRunWritesRunArtifacts(t *testing.T) {
	f := newFixture()
	fileLogger, err := logging.NewFileLogger(t.TempDir(), "run-1")
	require.NoError(t, err)
	fileLogger.AddSink(logging.NewJSONSink(fileLogger))

	code, err := f.run(t, context.Background(), func(cfg *Config) {
		cfg.FileLogger = fileLogger
	})
	require.NoError(t, err)
	assert.Equal(t, exitcodes.Success, code)
	require.NoError(t, fileLogger.Complete())

	data, err := os.ReadFile(filepath.Join(fileLogger.GetDirectory(), logging.ResultsJSONFilename))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"totalCount": 5`)
}

func TestNewValidation(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no supervisor", func(c *Config) { c.Supervisor = nil }},
		{"no bundler", func(c *Config) { c.Bundler = nil }},
		{"no host", func(c *Config) { c.Host = nil }},
		{"no driver", func(c *Config) { c.Driver = nil }},
		{"no harness", func(c *Config) { c.Harness = nil }},
		{"no specs", func(c *Config) { c.Specs = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := f.config()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	f := newFixture()
	cfg := f.config()
	cfg.RunID = ""
	cfg.Timeout = 0
	o, err := New(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, o.RunID())
	assert.Equal(t, browser.DefaultTimeout, o.timeout)
	assert.Equal(t, types.Roles, o.roles)
}
