// Package spawn runs edge commands as subprocesses and reports their
// outcome back to the scheduler: exec.Cmd through the shell, a combined
// stdout+stderr buffer, one goroutine per in-flight command reporting on
// a channel. Cancellation kills the whole process group (via
// golang.org/x/sys/unix on platforms that have process groups) so a
// command's own children do not outlive it.
package spawn

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"sync"
)

// Result is the outcome of running one command.
type Result struct {
	Output   string
	ExitCode int
	Err      error // non-nil only for a failure to start or wait, or cancellation
}

// Success reports whether the command ran and exited zero.
func (r Result) Success() bool { return r.Err == nil && r.ExitCode == 0 }

// Runner starts edge commands and reports their outcome over a channel, so
// the scheduler's single coordinator goroutine never blocks in a syscall.
type Runner interface {
	// Start launches command asynchronously under ctx and returns a
	// channel that receives exactly one Result when it completes (or
	// fails to start, or is canceled via ctx). useConsole requests direct
	// passthrough of stdout/stderr, for edges in the implicit "console"
	// pool, instead of output capture.
	Start(ctx context.Context, command string, useConsole bool) <-chan Result
}

// ProcessRunner is the default Runner, one OS process per command.
type ProcessRunner struct {
	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
}

// NewProcessRunner returns a ready-to-use ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{running: make(map[*exec.Cmd]struct{})}
}

func shellInvocation(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/c", command}
	}
	return "/bin/sh", []string{"-c", command}
}

// Start implements Runner.
func (r *ProcessRunner) Start(ctx context.Context, command string, useConsole bool) <-chan Result {
	ch := make(chan Result, 1)
	shell, args := shellInvocation(command)
	cmd := exec.CommandContext(ctx, shell, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	var buf bytes.Buffer
	if useConsole {
		connectConsole(cmd)
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}

	if err := cmd.Start(); err != nil {
		ch <- Result{Err: err}
		close(ch)
		return ch
	}

	r.mu.Lock()
	r.running[cmd] = struct{}{}
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		delete(r.running, cmd)
		r.mu.Unlock()

		res := Result{Output: buf.String()}
		switch {
		case err == nil:
		case ctx.Err() != nil:
			res.Err = ctx.Err()
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				res.ExitCode = exitErr.ExitCode()
			} else {
				res.Err = err
			}
		}
		ch <- res
		close(ch)
	}()

	return ch
}
