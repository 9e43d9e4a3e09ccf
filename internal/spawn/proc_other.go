//go:build !linux && !darwin

package spawn

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on platforms without POSIX process groups;
// Cancel falls back to killing the direct child only.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func connectConsole(cmd *exec.Cmd) {
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
}
