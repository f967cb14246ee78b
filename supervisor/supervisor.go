// Package supervisor builds and runs the backend binaries exercised by the
// browser tests. A Supervisor owns every child process it starts; nothing else
// may signal them.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/browser-acceptor/metrics"
	"github.com/ethereum-optimism/infra/browser-acceptor/procgroup"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

const (
	DefaultGoBinary        = "go"
	DefaultSettleDelay     = time.Second
	DefaultReadyTimeout    = 30 * time.Second
	DefaultStopGracePeriod = 5 * time.Second
)

// CmdBuilder creates the command for a compiler invocation. The returned
// cleanup func runs after the command finishes.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// DefaultCmdBuilder builds a command whose process group is killed on cancellation
func DefaultCmdBuilder(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	return procgroup.CommandContext(ctx, name, arg...), func() {}
}

// Config holds configuration for creating a new Supervisor
type Config struct {
	Log             log.Logger
	Roles           []types.RoleConfig
	WorkDir         string        // Directory builds and relative binaries resolve against
	GoBinary        string        // Path to the Go binary
	SettleDelay     time.Duration // Fallback wait for roles without a readiness probe
	ReadyTimeout    time.Duration // Upper bound for readiness polling
	StopGracePeriod time.Duration // Time between SIGTERM and SIGKILL
	// Output returns where a role's stdout/stderr is copied, in addition to the in-memory tail
	Output     func(role types.Role) io.Writer
	CmdBuilder CmdBuilder
}

// Supervisor builds, starts and stops the managed roles
type Supervisor struct {
	log          log.Logger
	roles        map[types.Role]types.RoleConfig
	workDir      string
	goBinary     string
	settleDelay  time.Duration
	readyTimeout time.Duration
	stopGrace    time.Duration
	output       func(role types.Role) io.Writer
	cmdBuilder   CmdBuilder

	startMu sync.Mutex // serialises Start so the one-live-handle-per-role rule holds
	mu      sync.Mutex
	procs   map[types.Role]*ManagedProcess
	order   []types.Role // start order, most recent last
}

// New creates a Supervisor for the given roles
func New(cfg Config) (*Supervisor, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if len(cfg.Roles) == 0 {
		return nil, errors.New("at least one role is required")
	}

	roles := make(map[types.Role]types.RoleConfig, len(cfg.Roles))
	for _, rc := range cfg.Roles {
		if !rc.Name.IsValid() {
			return nil, fmt.Errorf("unknown role %q", rc.Name)
		}
		if _, dup := roles[rc.Name]; dup {
			return nil, fmt.Errorf("role %q defined twice", rc.Name)
		}
		if rc.Binary == "" {
			return nil, fmt.Errorf("role %q has no binary path", rc.Name)
		}
		if err := rc.Ready.Validate(); err != nil {
			return nil, fmt.Errorf("role %q: %w", rc.Name, err)
		}
		roles[rc.Name] = rc
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = DefaultStopGracePeriod
	}
	if cfg.Output == nil {
		cfg.Output = func(types.Role) io.Writer { return io.Discard }
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = DefaultCmdBuilder
	}

	return &Supervisor{
		log:          cfg.Log,
		roles:        roles,
		workDir:      cfg.WorkDir,
		goBinary:     cfg.GoBinary,
		settleDelay:  cfg.SettleDelay,
		readyTimeout: cfg.ReadyTimeout,
		stopGrace:    cfg.StopGracePeriod,
		output:       cfg.Output,
		cmdBuilder:   cfg.CmdBuilder,
		procs:        make(map[types.Role]*ManagedProcess),
	}, nil
}

// BinaryPath returns the absolute path the role's binary is built to
func (s *Supervisor) BinaryPath(role types.Role) (string, error) {
	rc, ok := s.roles[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return s.resolve(rc.Binary), nil
}

func (s *Supervisor) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.workDir, p)
}

// Build compiles the role's module into its binary path
func (s *Supervisor) Build(ctx context.Context, role types.Role) error {
	rc, ok := s.roles[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	if err := ValidateModulePath(rc.Module); err != nil {
		return &BuildError{Role: role, Module: rc.Module, Err: err}
	}

	bin := s.resolve(rc.Binary)
	if err := os.MkdirAll(filepath.Dir(bin), 0755); err != nil {
		return &BuildError{Role: role, Module: rc.Module, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	s.log.Info("Building role", "role", role, "module", rc.Module, "output", bin)
	start := time.Now()

	cmd, cleanup := s.cmdBuilder(ctx, s.goBinary, "build", "-o", bin, rc.Module)
	defer cleanup()
	cmd.Dir = s.workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// go build is silent on success, so anything printed is worth surfacing
	if out := strings.TrimSpace(stdout.String()); out != "" {
		s.log.Info("Build output", "role", role, "stdout", out)
	}
	if out := strings.TrimSpace(stderr.String()); out != "" {
		s.log.Warn("Build output", "role", role, "stderr", out)
	}

	if runErr != nil {
		berr := &BuildError{Role: role, Module: rc.Module, Output: stderr.String(), Err: runErr}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			berr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			berr.Err = fmt.Errorf("%w: %w", ctxErr, runErr)
		}
		s.log.Error("Failed to build role", "role", role, "err", berr)
		metrics.RecordErrorDetails("build_"+string(role), runErr)
		return berr
	}

	s.log.Info("Role built successfully", "role", role, "duration", time.Since(start))
	return nil
}

// Start spawns the role's binary and waits for it to become ready. args
// replaces the manifest arguments when non-nil. A still-live handle for the
// same role is stopped first.
func (s *Supervisor) Start(ctx context.Context, role types.Role, args []string) (*ManagedProcess, error) {
	rc, ok := s.roles[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if args == nil {
		args = rc.Args
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	old := s.procs[role]
	s.mu.Unlock()
	if old != nil && old.Alive() {
		s.log.Warn("Role already running, stopping previous instance", "role", role, "pid", old.Pid())
		if err := old.stop(s.stopGrace); err != nil {
			s.log.Error("Failed to stop previous instance", "role", role, "err", err)
		}
	}

	bin := s.resolve(rc.Binary)
	dir := s.workDir
	if rc.Dir != "" {
		dir = s.resolve(rc.Dir)
	}

	tail := newTailBuffer(defaultOutputTailBytes)
	sink := io.MultiWriter(tail, s.output(role))

	cmd := exec.Command(bin, args...)
	procgroup.Isolate(cmd)
	cmd.WaitDelay = procgroup.WaitDelay
	cmd.Dir = dir
	cmd.Stdout = sink
	cmd.Stderr = sink
	// trace context is handed to the child so its spans join the run's trace
	cmd.Env = telemetry.InstrumentEnvironment(ctx, append(os.Environ(), rc.Env...))

	s.log.Info("Starting role", "role", role, "binary", bin, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		metrics.RecordErrorDetails("spawn_"+string(role), err)
		return nil, &ProcessSpawnError{Role: role, Path: bin, Err: err}
	}

	proc := &ManagedProcess{
		Role:    role,
		Path:    bin,
		Args:    args,
		Dir:     dir,
		cmd:     cmd,
		output:  tail,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go s.monitor(proc)

	s.mu.Lock()
	s.procs[role] = proc
	s.order = append(removeRole(s.order, role), role)
	s.mu.Unlock()
	metrics.SetLiveProcesses(len(s.Live()))

	s.log.Info("Role started", "role", role, "pid", proc.Pid())

	if err := s.waitReady(ctx, proc, rc.Ready); err != nil {
		return proc, &NotReadyError{Role: role, Err: err}
	}
	return proc, nil
}

// monitor reaps the process. Unexpected exits are logged but never restarted.
func (s *Supervisor) monitor(proc *ManagedProcess) {
	err := proc.cmd.Wait()
	proc.exitErr = err
	close(proc.done)

	if proc.stopping.Load() {
		s.log.Debug("Role exited", "role", proc.Role, "pid", proc.Pid(), "err", err)
		return
	}
	s.log.Warn("Role exited unexpectedly", "role", proc.Role, "pid", proc.Pid(), "err", err, "uptime", proc.Uptime())
	metrics.RecordErrorDetails("unexpected_exit_"+string(proc.Role), err)
	metrics.SetLiveProcesses(len(s.Live()))
}

// Process returns the most recent handle for the role
func (s *Supervisor) Process(role types.Role) (*ManagedProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[role]
	return p, ok
}

// Live returns the roles that currently have a running process
func (s *Supervisor) Live() []types.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []types.Role
	for _, role := range s.order {
		if p := s.procs[role]; p != nil && p.Alive() {
			live = append(live, role)
		}
	}
	return live
}

// StopAll terminates every live process in reverse start order. It is
// idempotent, safe for concurrent use and never panics.
func (s *Supervisor) StopAll() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered while stopping processes", "panic", r)
		}
	}()

	s.mu.Lock()
	procs := make([]*ManagedProcess, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if p := s.procs[s.order[i]]; p != nil {
			procs = append(procs, p)
		}
	}
	s.mu.Unlock()

	for _, p := range procs {
		wasAlive := p.Alive()
		if err := p.stop(s.stopGrace); err != nil {
			s.log.Error("Failed to stop role", "role", p.Role, "pid", p.Pid(), "err", err)
			continue
		}
		if wasAlive {
			s.log.Info("Role stopped", "role", p.Role, "pid", p.Pid())
		}
	}
	metrics.SetLiveProcesses(len(s.Live()))
}

func removeRole(order []types.Role, role types.Role) []types.Role {
	out := order[:0]
	for _, r := range order {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}
