//go:build windows

package platform

import (
	"os/exec"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const createNoWindow = 0x08000000

func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | createNoWindow,
	}
}

// KillTree kills descendants first (cmd.exe does not forward termination to
// the interpreter it started), then the process itself.
func KillTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if p, err := gopsproc.NewProcess(int32(cmd.Process.Pid)); err == nil {
		killDescendants(p)
	}
	return cmd.Process.Kill()
}

func killDescendants(p *gopsproc.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		killDescendants(c)
		_ = c.Kill()
	}
}
