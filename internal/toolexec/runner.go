// Package toolexec runs external command-line tools (FFmpeg, ImageMagick)
// with a bounded runtime and bounded captured output.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

const (
	// DefaultTimeout bounds a single tool invocation when Command.Timeout is zero.
	DefaultTimeout = 2 * time.Minute

	// maxOutputSize caps captured stdout and stderr (1MB each).
	maxOutputSize = 1024 * 1024

	// waitDelay bounds how long Wait blocks on output pipes after a kill.
	waitDelay = 5 * time.Second
)

// ErrNotFound is returned when the tool binary cannot be located.
var ErrNotFound = errors.New("tool not found")

// ErrTimeout is returned when a tool exceeds its time limit.
var ErrTimeout = errors.New("tool execution timed out")

// Command describes one tool invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// Result carries what a finished process left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError is returned when a tool ran but exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, truncate(e.Stderr, 500))
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct{}

// Run starts cmd and waits for it. On timeout the whole process group is
// killed and ErrTimeout is returned; a non-zero exit yields *ExitError.
//
// Returned errors:
//   - ErrNotFound (wrapped) if the binary does not exist
//   - ErrTimeout (wrapped) if the deadline passed
//   - *ExitError if the process exited non-zero
func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{ExitCode: -1}, fmt.Errorf("%w: %s", ErrNotFound, c.Name)
		}
		return Result{ExitCode: -1}, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	err := cmd.Wait()
	res := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	if execCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, c.Name)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Name: c.Name, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("failed to run %s: %w", c.Name, err)
}

// Available reports whether name resolves to an executable on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// limitedWriter wraps a writer and discards anything past limit.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err := lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
