// Package procgroup starts external commands in a process group of their own
// so that stopping a command also stops everything it forked.
package procgroup

import (
	"context"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps reading output after the group was
// killed. A descendant that escaped the group cannot hold Wait open longer.
const WaitDelay = 2 * time.Second

// CommandContext is exec.CommandContext for a command that runs in its own
// process group. Cancelling ctx kills the whole group.
func CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, arg...)
	Isolate(cmd)
	cmd.Cancel = func() error {
		return Kill(cmd)
	}
	cmd.WaitDelay = WaitDelay
	return cmd
}
