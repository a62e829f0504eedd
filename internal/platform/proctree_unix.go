//go:build !windows

package platform

import (
	"errors"
	"os/exec"
	"syscall"
)

// SetProcessGroup starts cmd in its own process group so the whole tree
// (a shell script and everything it starts) can be killed together.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillTree sends SIGKILL to cmd's process group, falling back to the
// process itself when the group is already gone.
func KillTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil || !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return cmd.Process.Kill()
}
