package runner

import (
	"context"
	"log/slog"
	"time"
)

// hostWrapper executes a file in a fresh namespace and reports uncaught
// exceptions as "Error: <message>" followed by the traceback, so a failing
// script exits cleanly with its diagnostics on stderr.
const hostWrapper = `import sys, traceback
path = sys.argv[1]
sys.argv = sys.argv[1:]
namespace = {"__name__": "__main__", "__file__": path}
try:
    with open(path, encoding="utf-8") as f:
        code = compile(f.read(), path, "exec")
    exec(code, namespace)
except Exception as e:
    print("Error: " + str(e), file=sys.stderr)
    traceback.print_exc(file=sys.stderr)
`

// HostRunner is the non-isolated strategy used when no virtual environment
// is available. It runs the host interpreter directly, without a separate
// package set, in a child process so the engine's own streams are never
// redirected and the timeout is still enforced.
type HostRunner struct {
	Python    string
	Dir       string
	Limit     time.Duration
	MaxOutput int
	Env       []string
	Logger    *slog.Logger
}

// Name implements Runner.
func (r *HostRunner) Name() string { return "host" }

// Timeout implements Runner.
func (r *HostRunner) Timeout() time.Duration { return r.Limit }

// Run implements Runner.
func (r *HostRunner) Run(ctx context.Context, s Script) (*Result, error) {
	return runProcess(ctx, process{
		python:    r.Python,
		args:      []string{"-c", hostWrapper, s.Path},
		dir:       r.Dir,
		env:       r.Env,
		timeout:   r.Limit,
		maxOutput: r.MaxOutput,
		logger:    loggerOr(r.Logger).With("runner", r.Name(), "request_id", s.RequestID),
	})
}
