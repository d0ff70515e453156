//go:build linux

package claudecode

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the CLI in its own process group so its children
// (MCP stdio servers, shells) are stopped with it. Pdeathsig covers the
// runner dying without calling Disconnect.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

func killProcessGroup(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
