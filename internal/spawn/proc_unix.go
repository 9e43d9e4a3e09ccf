//go:build linux || darwin

package spawn

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts cmd in its own process group so that
// killProcessGroup can take down everything it spawned, not just the
// shell.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGTERM to cmd's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}

// connectConsole wires the command directly to kiln's own stdout/stderr,
// for the implicit "console" pool: at most one edge at a
// time gets unbuffered terminal access, e.g. for an interactive test
// runner or a tool that draws its own progress bar.
func connectConsole(cmd *exec.Cmd) {
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
}
