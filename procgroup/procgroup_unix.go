//go:build unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// Isolate makes cmd the leader of a new process group once started
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal delivers sig to every process in the group led by cmd
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		// no such group: never isolated, or every member is gone
		return cmd.Process.Signal(sig)
	}
	return nil
}

// Kill sends SIGKILL to the whole group
func Kill(cmd *exec.Cmd) error {
	return Signal(cmd, syscall.SIGKILL)
}
