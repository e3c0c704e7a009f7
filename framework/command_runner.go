package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds subprocesses that do not specify a timeout.
const DefaultCommandTimeout = 30 * time.Second

// CommandRequest captures process execution metadata.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Input   string
	Timeout time.Duration
}

// CommandResult holds everything observed about a finished process.
type CommandResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// CommandRunner describes a primitive capable of executing commands.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// LocalCommandRunner runs commands directly on the host. A non-zero exit code
// is not an error; only failure to start and timeouts are.
type LocalCommandRunner struct {
	// MaxOutputBytes caps each of stdout and stderr. Zero means 64 KiB.
	MaxOutputBytes int
	// KillGrace is how long to wait for pipes after the process is killed.
	KillGrace time.Duration
}

// Run executes the request, killing the process (and its group where the
// platform allows) once the timeout elapses.
func (r *LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("%w: command arguments required", ErrInvalidArgument)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	limit := r.MaxOutputBytes
	if limit <= 0 {
		limit = 64 << 10
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcessGroup(cmd)
	grace := r.KillGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	cmd.WaitDelay = grace

	start := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  -1,
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, fmt.Errorf("%w: %s after %s", ErrTimeout, req.Args[0], timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: executable %s", ErrNotFound, req.Args[0])
		}
		return result, err
	}
	return result, nil
}

// cappedBuffer keeps the first limit bytes and silently discards the rest so a
// chatty process cannot exhaust memory.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
