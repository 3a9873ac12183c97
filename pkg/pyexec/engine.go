package pyexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rhuss/sktools/pkg/observability"
	"github.com/rhuss/sktools/pkg/pyexec/deps"
	"github.com/rhuss/sktools/pkg/pyexec/runner"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
	"github.com/rhuss/sktools/pkg/pyexec/sandbox"
	"github.com/rhuss/sktools/pkg/storage"
)

// Default limits.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 4000
)

// Config is fixed at construction; nothing changes it for the lifetime of
// an Engine. Use DefaultConfig as the starting point, since several
// options default to true.
type Config struct {
	// Timeout is the wall-clock limit of one run.
	Timeout time.Duration

	// MaxOutput is the per-stream truncation threshold in characters.
	MaxOutput int

	// RestrictedModules is the denylist for safety analysis and dependency
	// resolution. Ignored when Policy is set.
	RestrictedModules []string

	// Policy overrides RestrictedModules, for example with rules loaded by
	// safety.LoadPolicy.
	Policy *safety.Policy

	// AllowNetworking permits networking modules despite the denylist and
	// enables package installation.
	AllowNetworking bool

	// AllowFileWrite is advisory. It is reported but not enforced.
	AllowFileWrite bool

	// AutoInstall toggles the dependency resolver.
	AutoInstall bool

	// Isolated requests a dedicated virtual environment.
	Isolated bool

	// SerializeInstalls holds the sandbox install lock while resolving, so
	// concurrent requests never install into one environment at once.
	SerializeInstalls bool

	// WarnOnDegraded prefixes reports with a warning when provisioning the
	// isolated runtime failed.
	WarnOnDegraded bool

	InstallTimeout time.Duration
	Aliases        map[string]string

	// Sandbox holds the provisioning options. Its Isolated and Logger
	// fields are set from this Config.
	Sandbox sandbox.Options

	// Runner replaces the runner chosen from the sandbox state, for
	// example with a remote.Runner. The sandbox is then only used for
	// script files and no virtual environment is created.
	Runner runner.Runner

	// Store receives a record of every execution. Nil disables history.
	Store storage.Store

	Logger *slog.Logger
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		MaxOutput:         DefaultMaxOutput,
		RestrictedModules: append([]string(nil), safety.DefaultRestricted...),
		AllowNetworking:   true,
		AllowFileWrite:    true,
		AutoInstall:       true,
		Isolated:          true,
		SerializeInstalls: true,
		WarnOnDegraded:    true,
		InstallTimeout:    deps.DefaultInstallTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxOutput <= 0 {
		errs = append(errs, errors.New("max output length must be positive"))
	}
	if c.InstallTimeout < 0 {
		errs = append(errs, errors.New("install timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Engine executes code against one shared sandbox.
type Engine struct {
	cfg      Config
	analyzer *safety.Analyzer
	resolver *deps.Resolver
	sandbox  *sandbox.Sandbox
	runner   runner.Runner
	store    storage.Store
	warning  string
	logger   *slog.Logger

	// mu is held for reading by every Execute and for writing by Close,
	// so Close waits for in-flight executions.
	mu     sync.RWMutex
	closed bool
}

// New provisions the sandbox and selects the runner. Provisioning can take
// tens of seconds; a failed isolated runtime degrades the engine instead of
// failing it.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := cfg.Policy
	if policy == nil {
		policy = safety.NewPolicy(cfg.RestrictedModules, cfg.AllowNetworking)
	}

	opts := cfg.Sandbox
	opts.Isolated = cfg.Isolated && cfg.Runner == nil
	opts.Logger = logger
	sb, err := sandbox.Provision(ctx, opts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		analyzer: safety.NewAnalyzer(policy, logger),
		sandbox:  sb,
		store:    cfg.Store,
		logger:   logger,
	}
	e.runner = selectRunner(cfg, sb, logger)

	if cfg.AutoInstall {
		dc := deps.Config{
			Policy:         policy,
			Aliases:        cfg.Aliases,
			InstallTimeout: cfg.InstallTimeout,
			Logger:         logger,
		}
		// a replaced runner installs requirements in its own environment
		if cfg.Runner == nil {
			dc.Installer = sb
			if cfg.SerializeInstalls {
				dc.Lock = sb.InstallLock()
			}
		}
		e.resolver = deps.New(dc)
	}

	if reason := sb.Reason(); reason != "" {
		logger.Warn("executing with reduced isolation", "state", sb.State(), "reason", reason)
		if cfg.WarnOnDegraded {
			e.warning = "Warning: " + reason
		}
	}
	observability.SetSandboxState(sb.State().String())

	logger.Info("python executor ready",
		"runner", e.runner.Name(),
		"sandbox_state", sb.State(),
		"timeout", cfg.Timeout,
		"auto_install", cfg.AutoInstall,
		"allow_networking", policy.AllowNetworking(),
		"allow_file_write", cfg.AllowFileWrite,
		"restricted", policy.Modules(),
	)
	return e, nil
}

// selectRunner picks the execution strategy once, from the sandbox state.
func selectRunner(cfg Config, sb *sandbox.Sandbox, logger *slog.Logger) runner.Runner {
	if cfg.Runner != nil {
		return cfg.Runner
	}
	switch sb.State() {
	case sandbox.Ready, sandbox.Degraded:
		return &runner.SubprocessRunner{
			Python:    sb.Python(),
			Dir:       sb.Dir(),
			Limit:     cfg.Timeout,
			MaxOutput: cfg.MaxOutput,
			Logger:    logger,
		}
	default:
		return &runner.HostRunner{
			Python:    sb.Python(),
			Dir:       sb.Dir(),
			Limit:     cfg.Timeout,
			MaxOutput: cfg.MaxOutput,
			Logger:    logger,
		}
	}
}

// Sandbox returns the engine's sandbox.
func (e *Engine) Sandbox() *sandbox.Sandbox { return e.sandbox }

// Runner returns the selected runner.
func (e *Engine) Runner() runner.Runner { return e.runner }

// Analyzer returns the safety analyzer.
func (e *Engine) Analyzer() *safety.Analyzer { return e.analyzer }

// Execute runs code and returns its report. It never returns an error and
// never panics; every failure is described in the report text.
func (e *Engine) Execute(ctx context.Context, code string) (rep *Report) {
	start := time.Now()
	req := newRequest(ctx, code)
	logger := e.logger.With("request_id", req.ID)

	observability.ExecutionsInFlight.Inc()
	defer observability.ExecutionsInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("execution panicked", "panic", r, "stack", string(debug.Stack()))
			rep = e.newReport(req)
			rep.Text = fmt.Sprintf("%s%v", msgUnexpected, r)
		}
		rep.Duration = time.Since(start)
		e.finish(ctx, req, rep, logger)
	}()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		rep = e.newReport(req)
		rep.Text = msgUnexpected + ErrClosed.Error()
		return rep
	}
	return e.execute(ctx, req, logger)
}

func (e *Engine) execute(ctx context.Context, req *Request, logger *slog.Logger) *Report {
	rep := e.newReport(req)

	if err := e.extract(req, logger); err != nil {
		e.advance(req, Formatted, logger)
		rep.Text = MsgNoCode
		return rep
	}

	verdict := e.analyzer.Analyze(req.Source)
	rep.Verdict = &verdict
	if !verdict.Allowed {
		e.advance(req, Blocked, logger)
		logger.Info("code blocked", "reason", verdict.Reason, "line", verdict.Line)
		rep.Blocked = true
		rep.Text = MsgBlocked
		return rep
	}
	e.advance(req, SafetyChecked, logger)

	var set *deps.Set
	if e.resolver != nil {
		set = e.resolver.Resolve(ctx, req.Source)
		rep.Dependencies = set
	}
	e.advance(req, DependenciesResolved, logger)

	res, err := e.run(ctx, req, set, logger)
	if err != nil {
		logger.Error("execution failed", "error", err)
		e.advance(req, Formatted, logger)
		rep.Text = msgUnexpected + err.Error()
		return rep
	}

	rep.Stdout, rep.Stderr = res.Stdout, res.Stderr
	rep.StdoutTruncated, rep.StderrTruncated = res.StdoutTruncated, res.StderrTruncated
	rep.ExitCode = res.ExitCode

	if res.TimedOut {
		e.advance(req, TimedOut, logger)
		rep.TimedOut = true
		rep.Text = runner.TimeoutMessage(e.runner.Timeout())
	} else {
		e.advance(req, Completed, logger)
		rep.Success = res.Success
		rep.Text = FormatReport(joinLogs(set.Log(), res.InstallLog), res.Stdout, res.Stderr)
	}
	if e.warning != "" {
		rep.Warning = e.warning
		rep.Text = e.warning + "\n\n" + rep.Text
	}
	e.advance(req, Formatted, logger)
	return rep
}

// extract fills in req.Source and fails with ErrEmptySource when nothing
// is left to run.
func (e *Engine) extract(req *Request, logger *slog.Logger) error {
	req.Source = Extract(req.Raw)
	if req.Source == "" {
		return ErrEmptySource
	}
	e.advance(req, Extracted, logger)
	return nil
}

// run writes the script file, runs it and removes the file on every path.
func (e *Engine) run(ctx context.Context, req *Request, set *deps.Set, logger *slog.Logger) (*runner.Result, error) {
	path := filepath.Join(e.sandbox.Dir(), req.FileName())
	if err := os.WriteFile(path, []byte(req.Source), 0o600); err != nil {
		return nil, fmt.Errorf("writing script: %w", err)
	}
	defer removeQuietly(path, logger)

	return e.runner.Run(ctx, runner.Script{
		RequestID:    req.ID,
		Path:         path,
		Source:       req.Source,
		Requirements: set.Names(deps.OutcomePending),
	})
}

// ExecuteAll runs blocks strictly in order, since later blocks may depend
// on packages or files left by earlier ones. A request ID in ctx applies to
// the first block only.
func (e *Engine) ExecuteAll(ctx context.Context, blocks []string) []*Report {
	reports := make([]*Report, 0, len(blocks))
	for i, b := range blocks {
		if i == 1 {
			ctx = ContextWithRequestID(ctx, "")
		}
		reports = append(reports, e.Execute(ctx, b))
	}
	return reports
}

// Close waits for in-flight executions and removes the sandbox directory.
// Later calls to Execute report ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.sandbox.Cleanup()
}

func (e *Engine) newReport(req *Request) *Report {
	return &Report{
		RequestID:    req.ID,
		Runner:       e.runner.Name(),
		SandboxState: e.sandbox.State().String(),
	}
}

func (e *Engine) advance(req *Request, to State, logger *slog.Logger) {
	if !CanTransition(req.State, to) {
		logger.Warn("unexpected request state transition", "from", req.State, "to", to)
	}
	logger.Debug("request state", "from", req.State, "to", to)
	req.State = to
}

// finish records metrics and the history entry.
func (e *Engine) finish(ctx context.Context, req *Request, rep *Report, logger *slog.Logger) {
	outcome := outcomeOf(rep)
	observability.ExecutionsTotal.WithLabelValues(outcome, rep.Runner).Inc()
	observability.ExecutionDuration.WithLabelValues(rep.Runner).Observe(rep.Duration.Seconds())
	if rep.Dependencies != nil {
		for _, p := range rep.Dependencies.Packages {
			observability.PackageInstallsTotal.WithLabelValues(string(p.Outcome)).Inc()
		}
	}

	logger.Info("execution finished", "outcome", outcome, "duration", rep.Duration)

	if e.store == nil {
		return
	}
	rec := &storage.Record{
		ID:           req.ID,
		Tenant:       storage.GetTenant(ctx),
		Source:       req.Source,
		Report:       rep.Text,
		Outcome:      outcome,
		SandboxState: rep.SandboxState,
		Runner:       rep.Runner,
		DurationMs:   rep.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if rep.Blocked && rep.Verdict != nil {
		rec.BlockReason = rep.Verdict.Reason
	}
	if rep.Dependencies != nil {
		for _, p := range rep.Dependencies.Packages {
			rec.Packages = append(rec.Packages, storage.PackageOutcome{Name: p.Name, Outcome: string(p.Outcome)})
		}
	}
	// the caller may already be gone; the record is still worth keeping
	if err := e.store.SaveExecution(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("recording execution failed", "error", err)
	}
}

func outcomeOf(rep *Report) string {
	switch {
	case rep.Text == MsgNoCode:
		return storage.OutcomeEmpty
	case rep.Blocked:
		return storage.OutcomeBlocked
	case rep.TimedOut:
		return storage.OutcomeTimeout
	case rep.Success:
		return storage.OutcomeSuccess
	}
	return storage.OutcomeError
}

func joinLogs(logs ...string) string {
	var out string
	for _, l := range logs {
		if l == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += l
	}
	return out
}

// removeQuietly deletes a per-call file, logging instead of failing.
func removeQuietly(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug("removing script file failed", "path", path, "error", err)
	}
}
