package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExitError reports a build command that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("build command %q exited with code %d", e.Command, e.Code)
}

type Options struct {
	Command string
	Dir     string
	Stdout  io.Writer
	Stderr  io.Writer
	Env     []string

	// How long to wait after SIGTERM before killing the process group on
	// cancellation. Zero means 10s.
	KillGrace time.Duration
}

// Run executes the build command through `sh -c` in its own process group so
// a cancelled build takes its children down with it.
func Run(ctx context.Context, opts Options) error {
	if opts.Command == "" {
		return errors.New("build: empty command")
	}

	cmd := exec.Command("sh", "-c", opts.Command)
	cmd.Dir = opts.Dir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("build: start: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		stop(cmd.Process.Pid, done, opts.KillGrace)
		return fmt.Errorf("build: %w", ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Command: opts.Command, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

// stop sends SIGTERM to the process group and escalates to SIGKILL after the
// grace period.
func stop(pid int, done <-chan error, grace time.Duration) {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(grace):
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}
