package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the child is
// killed, in case it left grandchildren holding them open.
const waitDelay = 2 * time.Second

// SubprocessRunner runs the script with an isolated interpreter as a
// child process. On timeout the whole process group is killed and partial
// output is discarded.
type SubprocessRunner struct {
	Python    string
	Dir       string
	Limit     time.Duration
	MaxOutput int
	Env       []string
	Logger    *slog.Logger
}

// Name implements Runner.
func (r *SubprocessRunner) Name() string { return "subprocess" }

// Timeout implements Runner.
func (r *SubprocessRunner) Timeout() time.Duration { return r.Limit }

// Run implements Runner.
func (r *SubprocessRunner) Run(ctx context.Context, s Script) (*Result, error) {
	return runProcess(ctx, process{
		python:    r.Python,
		args:      []string{s.Path},
		dir:       r.Dir,
		env:       r.Env,
		timeout:   r.Limit,
		maxOutput: r.MaxOutput,
		logger:    loggerOr(r.Logger).With("runner", r.Name(), "request_id", s.RequestID),
	})
}

type process struct {
	python    string
	args      []string
	dir       string
	env       []string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

func runProcess(ctx context.Context, p process) (*Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	capture := NewCapture(p.maxOutput)
	cmd := exec.CommandContext(ctx, p.python, p.args...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1")
	cmd.Env = append(cmd.Env, p.env...)
	cmd.Stdout = capture.Stdout()
	cmd.Stderr = capture.Stderr()
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	res := &Result{Duration: time.Since(start)}

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			p.logger.Info("script timed out", "timeout", p.timeout, "duration", res.Duration)
			res.TimedOut = true
			res.ExitCode = -1
			return res, nil
		case ctx.Err() != nil:
			return nil, fmt.Errorf("run cancelled: %w", ctx.Err())
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("starting %s: %w", p.python, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	capture.Apply(res)
	res.classify()
	p.logger.Debug("script finished", "exit_code", res.ExitCode, "duration", res.Duration,
		"stdout_len", len(res.Stdout), "stderr_len", len(res.Stderr))
	return res, nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
