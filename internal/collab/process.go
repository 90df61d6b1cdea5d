package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultMaxOutput caps captured stdout and stderr per stream.
const DefaultMaxOutput = 4 << 20

// waitDelay bounds how long Wait blocks on pipes after the process is killed.
const waitDelay = 2 * time.Second

// Command describes one subprocess invocation.
type Command struct {
	Argv    []string
	Dir     string
	Env     []string
	Stdin   string
	Timeout time.Duration
}

// processResult is the captured outcome of a finished process.
type processResult struct {
	Stdout    string
	Stderr    string
	Truncated bool
	Duration  time.Duration
}

// run executes cmd and maps every failure onto an *Error for op.
func run(ctx context.Context, op string, c Command, maxOutput int, logger *slog.Logger) (*processResult, error) {
	if len(c.Argv) == 0 || strings.TrimSpace(c.Argv[0]) == "" {
		return nil, newError(op, CodeSpawn, "no command configured", nil)
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = waitDelay
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	logger.Debug("executing collaborator",
		slog.String("op", op),
		slog.String("command", c.Argv[0]),
		slog.Int("args", len(c.Argv)-1),
		slog.Duration("timeout", c.Timeout),
	)

	start := time.Now()
	err := cmd.Run()
	result := &processResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
		Duration:  time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("collaborator timed out",
			slog.String("op", op),
			slog.Duration("timeout", c.Timeout),
		)
		e := newError(op, CodeTimeout, "deadline exceeded after "+c.Timeout.String(), ctx.Err())
		e.Stderr = tail(result.Stderr)
		return result, e
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("collaborator failed",
				slog.String("op", op),
				slog.Int("exit_code", exitErr.ExitCode()),
			)
			e := newError(op, CodeExit, fmt.Sprintf("exit status %d", exitErr.ExitCode()), err)
			e.Stderr = tail(result.Stderr)
			return result, e
		}
		return result, newError(op, CodeSpawn, "start "+c.Argv[0], err)
	}

	if result.Truncated {
		logger.Warn("collaborator output truncated", slog.String("op", op), slog.Int("limit", maxOutput))
	}
	return result, nil
}

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil
	}
	n := len(p)
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	w, err := lw.w.Write(p)
	lw.written += w
	return n, err
}

// tail keeps the last 2 KiB of stderr for error reports.
func tail(s string) string {
	const keep = 2048
	s = strings.TrimSpace(s)
	if len(s) <= keep {
		return s
	}
	return s[len(s)-keep:]
}
