package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"
)

// MaxPromptBytes is the largest prompt passed as a single argv entry. Linux
// caps one argument at 128 KiB.
const MaxPromptBytes = 120 * 1024

const (
	defaultTimeout        = 120 * time.Second
	defaultMaxConcurrent  = 4
	defaultMaxOutputBytes = 1 << 20
	stderrExcerptBytes    = 2048
	waitDelay             = 2 * time.Second
)

// Options configures a Bridge.
type Options struct {
	// Command is the worker executable. Empty means the running binary.
	Command string
	// Args precede "--prompt <prompt>".
	Args []string
	// Env is appended to the parent environment.
	Env            []string
	Timeout        time.Duration
	MaxConcurrent  int
	MaxOutputBytes int
	LenientFraming bool
}

// Outcome is a successful run.
type Outcome struct {
	Message  string
	Duration time.Duration
}

// Bridge spawns a fresh worker process per call. Safe for concurrent use.
type Bridge struct {
	opts Options
	sem  *semaphore.Weighted
}

// NewBridge creates a Bridge, resolving the default command.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		opts.Command = exe
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Bridge{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}, nil
}

// Run executes one worker for prompt and returns its final reply.
// Cancelling ctx kills the worker's process group.
func (b *Bridge) Run(ctx context.Context, prompt string) (Outcome, error) {
	if len(prompt) > MaxPromptBytes {
		return Outcome{}, &SpawnError{Command: b.opts.Command, Err: fmt.Errorf("prompt is %d bytes, limit %d", len(prompt), MaxPromptBytes)}
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, &SpawnError{Command: b.opts.Command, Err: err}
	}
	defer b.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	args := make([]string, 0, len(b.opts.Args)+2)
	args = append(args, b.opts.Args...)
	args = append(args, "--prompt", prompt)

	cmd := exec.CommandContext(runCtx, b.opts.Command, args...)
	cmd.Env = append(os.Environ(), b.opts.Env...)
	stdout := &boundedBuffer{max: b.opts.MaxOutputBytes}
	stderr := &boundedBuffer{max: b.opts.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, &SpawnError{Command: b.opts.Command, Err: err}
	}
	pid := cmd.Process.Pid
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if stderr.Len() > 0 {
		slog.Debug("Worker stderr", "pid", pid, "stderr", stderr.Tail(stderrExcerptBytes))
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		reason := "canceled"
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			reason = "timed out"
		}
		slog.Warn("Worker killed", "pid", pid, "reason", reason, "elapsed", elapsed)
		return Outcome{}, &ExitError{Code: exitCode(cmd), Reason: reason, Stderr: stderr.Tail(stderrExcerptBytes)}
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		ee := &ExitError{Code: exitCode(cmd), Stderr: stderr.Tail(stderrExcerptBytes)}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			ee.Reason = waitErr.Error()
		}
		slog.Warn("Worker failed", "pid", pid, "code", ee.Code, "stderr", ee.Stderr)
		return Outcome{}, ee
	}
	if waitErr != nil {
		slog.Warn("Worker left output pipes open", "pid", pid)
	}

	if stdout.Truncated() {
		slog.Warn("Worker output truncated", "pid", pid, "limit", b.opts.MaxOutputBytes)
	}
	msg, err := ParseOutput(stdout.Bytes(), b.opts.LenientFraming)
	if err != nil {
		slog.Warn("Worker output rejected", "pid", pid, "error", err)
		return Outcome{}, err
	}
	slog.Debug("Worker finished", "pid", pid, "elapsed", elapsed, "reply_len", len(msg))
	return Outcome{Message: msg, Duration: elapsed}, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// boundedBuffer keeps the first max bytes written and discards the rest.
type boundedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte   { return b.buf }
func (b *boundedBuffer) Len() int        { return len(b.buf) }
func (b *boundedBuffer) Truncated() bool { return b.truncated }

// Tail returns at most n trailing bytes as a string.
func (b *boundedBuffer) Tail(n int) string {
	if len(b.buf) <= n {
		return string(b.buf)
	}
	return string(b.buf[len(b.buf)-n:])
}
