package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// maxLogTail bounds how much engine output is retained per invocation.
// Diagnostics keep the tail; everything earlier is discarded as it streams.
const maxLogTail = 4096

// Invocation describes one external engine call.
type Invocation struct {
	Argv    []string
	Dir     string
	Timeout time.Duration
}

// RunResult is the observed outcome of an invocation. ExitCode is -1 when
// the process was killed (including on timeout).
type RunResult struct {
	ExitCode int
	LogTail  string
	TimedOut bool
	Duration time.Duration
}

// Runner executes external engine processes. The real implementation shells
// out; tests substitute a scripted one.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (RunResult, error)
}

// execRunner runs invocations through os/exec with a hard timeout. The
// process is killed on expiry rather than allowed to block the job.
type execRunner struct{}

// NewExecRunner returns the production Runner.
func NewExecRunner() Runner {
	return &execRunner{}
}

func (e *execRunner) Run(ctx context.Context, inv Invocation) (RunResult, error) {
	if len(inv.Argv) == 0 {
		return RunResult{ExitCode: -1}, errors.New("empty command")
	}

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir

	tail := newTailBuffer(maxLogTail)
	cmd.Stdout = tail
	cmd.Stderr = tail

	start := time.Now()
	err := cmd.Run()
	res := RunResult{
		ExitCode: 0,
		LogTail:  tail.String(),
		TimedOut: runCtx.Err() == context.DeadlineExceeded,
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || res.TimedOut {
		// The engine started and failed (or was killed); that is a
		// result, not a runner error.
		res.ExitCode = -1
		if exitErr != nil {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, nil
	}

	// Could not start the process at all.
	res.ExitCode = -1
	return res, err
}

// tailBuffer is an io.Writer retaining only the last max bytes written.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
