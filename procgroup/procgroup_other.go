//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// Isolate is a no-op where process groups are not available
func Isolate(cmd *exec.Cmd) {}

// Signal delivers sig to the process itself
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}

// Kill terminates the process
func Kill(cmd *exec.Cmd) error {
	return Signal(cmd, syscall.SIGKILL)
}
