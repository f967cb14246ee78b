package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum-optimism/infra/browser-acceptor/procgroup"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// ManagedProcess is one spawned child owned by the Supervisor
type ManagedProcess struct {
	Role types.Role
	Path string
	Args []string
	Dir  string

	cmd      *exec.Cmd
	output   *tailBuffer
	started  time.Time
	done     chan struct{}
	exitErr  error
	stopping atomic.Bool
	stopOnce sync.Once
}

// Alive returns true until the process has exited
func (p *ManagedProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and its output is drained
func (p *ManagedProcess) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the error from Wait, only meaningful once Done is closed
func (p *ManagedProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Output returns the most recent captured stdout/stderr
func (p *ManagedProcess) Output() string {
	return p.output.String()
}

// OutputTruncated reports whether Output lost the start of the stream
func (p *ManagedProcess) OutputTruncated() bool {
	return p.output.Truncated()
}

// Pid returns the OS process id
func (p *ManagedProcess) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Uptime returns how long the process has been (or was) running
func (p *ManagedProcess) Uptime() time.Duration {
	return time.Since(p.started)
}

// stop asks the process to terminate and kills it after the grace period.
// Concurrent and repeated calls are safe; all of them wait for the exit.
func (p *ManagedProcess) stop(grace time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		if !p.Alive() {
			return
		}
		if sigErr := procgroup.Signal(p.cmd, syscall.SIGTERM); sigErr != nil {
			err = p.kill()
		}
		select {
		case <-p.done:
		case <-time.After(grace):
			err = p.kill()
		}
	})

	select {
	case <-p.done:
	case <-time.After(grace):
		// Kill was sent; never block teardown forever on a wedged reaper.
	}
	return err
}

func (p *ManagedProcess) kill() error {
	if err := procgroup.Kill(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
