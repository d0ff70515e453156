//go:build !unix

package claudecode

import "os/exec"

func setProcGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
