package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/sktools/pkg/pyexec/runner"
)

var _ runner.Runner = (*Runner)(nil)

// Acquirer hands out a sandbox server for one run.
type Acquirer interface {
	// Acquire returns the server's base URL and a release function that
	// must be called once the run is over.
	Acquire(ctx context.Context) (baseURL string, release func(), err error)
}

// StaticAcquirer always returns the same server.
type StaticAcquirer struct {
	URL string
}

// Acquire implements Acquirer.
func (a StaticAcquirer) Acquire(context.Context) (string, func(), error) {
	return a.URL, func() {}, nil
}

// Runner sends scripts to a sandbox server. Dependencies travel as
// requirements and are installed by the server.
type Runner struct {
	acquirer  Acquirer
	client    *Client
	limit     time.Duration
	maxOutput int
	logger    *slog.Logger
}

// New creates a remote Runner.
func New(acquirer Acquirer, timeout time.Duration, maxOutput int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		acquirer:  acquirer,
		client:    NewClient(timeout),
		limit:     timeout,
		maxOutput: maxOutput,
		logger:    logger,
	}
}

// Name implements runner.Runner.
func (r *Runner) Name() string { return "remote" }

// Timeout implements runner.Runner.
func (r *Runner) Timeout() time.Duration { return r.limit }

// Run implements runner.Runner.
func (r *Runner) Run(ctx context.Context, s runner.Script) (*runner.Result, error) {
	baseURL, release, err := r.acquirer.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sandbox: %w", err)
	}
	defer release()

	start := time.Now()
	resp, err := r.client.Execute(ctx, baseURL, &ExecuteRequest{
		RequestID:      s.RequestID,
		Code:           s.Source,
		TimeoutSeconds: int(r.limit.Round(time.Second) / time.Second),
		MaxOutput:      r.maxOutput,
		Requirements:   s.Requirements,
	})
	if err != nil {
		r.logger.Warn("remote execution failed", "request_id", s.RequestID, "sandbox", baseURL, "error", err)
		return nil, err
	}

	res := &runner.Result{
		ExitCode:   resp.ExitCode,
		TimedOut:   resp.TimedOut || resp.Status == StatusTimeout,
		Duration:   time.Since(start),
		InstallLog: resp.InstallLog,
	}
	if res.TimedOut {
		res.ExitCode = -1
		return res, nil
	}
	res.Stdout, res.StdoutTruncated = runner.Truncate(resp.Stdout, r.maxOutput)
	res.Stderr, res.StderrTruncated = runner.Truncate(resp.Stderr, r.maxOutput)
	res.Success = res.Stderr == ""
	return res, nil
}
