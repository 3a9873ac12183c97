package pythonexec

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/rhuss/sktools/pkg/auth"
	"github.com/rhuss/sktools/pkg/pyexec"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
	"github.com/rhuss/sktools/pkg/storage"
	"github.com/rhuss/sktools/pkg/tools"
	"github.com/rhuss/sktools/pkg/tools/registry"
	"github.com/rhuss/sktools/pkg/transport"
)

// Tool names.
const (
	ToolExecute = "execute_python_code"
	ToolAnalyze = "analyze_python_code"
)

// MsgNoCodeToAnalyze is returned by the analyze tool for blank input.
const MsgNoCodeToAnalyze = "No code provided to analyze."

var _ registry.FunctionProvider = (*Provider)(nil)

// Executor runs code. *pyexec.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, code string) *pyexec.Report
	ExecuteAll(ctx context.Context, blocks []string) []*pyexec.Report
	Analyzer() *safety.Analyzer
}

// Config configures a Provider.
type Config struct {
	Executor Executor

	// InFlight tracks running executions. Nil creates a private registry.
	InFlight *transport.InFlightRegistry

	// MaxBodyBytes bounds HTTP request bodies. Zero means
	// transport.DefaultMaxBodySize.
	MaxBodyBytes int64

	Logger *slog.Logger
}

// Provider is the FunctionProvider for Python execution.
type Provider struct {
	exec     Executor
	inflight *transport.InFlightRegistry
	maxBody  int64
	logger   *slog.Logger
	defs     []tools.ToolDefinition
}

// ExecuteArgs are the arguments of execute_python_code.
type ExecuteArgs struct {
	Code string `json:"code" jsonschema:"Python source, optionally wrapped in a markdown code fence"`
	All  bool   `json:"all,omitempty" jsonschema:"run every fenced block in order instead of only the first"`
}

// AnalyzeArgs are the arguments of analyze_python_code.
type AnalyzeArgs struct {
	Code string `json:"code" jsonschema:"Python source to analyze"`
}

// Analysis is the structured result of analyze_python_code.
type Analysis struct {
	Verdict  safety.Verdict   `json:"verdict"`
	Findings []safety.Finding `json:"findings"`
	Text     string           `json:"text"`
}

// New creates a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("pythonexec: executor is required")
	}
	execSchema, err := jsonschema.For[ExecuteArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("pythonexec: building %s schema: %w", ToolExecute, err)
	}
	analyzeSchema, err := jsonschema.For[AnalyzeArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("pythonexec: building %s schema: %w", ToolAnalyze, err)
	}

	p := &Provider{
		exec:     cfg.Executor,
		inflight: cfg.InFlight,
		maxBody:  cfg.MaxBodyBytes,
		logger:   cfg.Logger,
		defs: []tools.ToolDefinition{
			{
				Name:        ToolExecute,
				Description: "Execute Python code safely and return the result",
				InputSchema: execSchema,
			},
			{
				Name:        ToolAnalyze,
				Description: "Analyze Python code for errors and suggest improvements",
				InputSchema: analyzeSchema,
			},
		},
	}
	if p.inflight == nil {
		p.inflight = transport.NewInFlightRegistry()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

func (p *Provider) Name() string { return "pythonexec" }

func (p *Provider) Tools() []tools.ToolDefinition { return p.defs }

func (p *Provider) CanExecute(name string) bool {
	return name == ToolExecute || name == ToolAnalyze
}

// Execute runs one tool call. Engine failures arrive as report text, so the
// error return is reserved for argument problems.
func (p *Provider) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	switch call.Name {
	case ToolExecute:
		var args ExecuteArgs
		if err := call.Decode(&args); err != nil {
			return tools.ErrorResult(call.ID, "%v", err), nil
		}
		text, data := p.execute(ctx, uuid.NewString(), args)
		return &tools.ToolResult{CallID: call.ID, Output: text, Data: data}, nil

	case ToolAnalyze:
		var args AnalyzeArgs
		if err := call.Decode(&args); err != nil {
			return tools.ErrorResult(call.ID, "%v", err), nil
		}
		a := p.analyze(args.Code)
		if a == nil {
			return &tools.ToolResult{CallID: call.ID, Output: MsgNoCodeToAnalyze}, nil
		}
		return &tools.ToolResult{CallID: call.ID, Output: a.Text, Data: a}, nil
	}
	return nil, fmt.Errorf("pythonexec: unknown tool %q", call.Name)
}

// execute runs args under id and returns the combined text and the
// report(s). id is always minted here, never taken from the caller, so it
// is unique among running executions and history records.
func (p *Provider) execute(ctx context.Context, id string, args ExecuteArgs) (string, any) {
	ctx, done := p.inflight.Track(pyexec.ContextWithRequestID(ctx, id), id, storage.GetTenant(ctx))
	defer done()

	if !args.All {
		rep := p.exec.Execute(ctx, args.Code)
		return rep.Text, rep
	}

	blocks := pyexec.ExtractAll(args.Code)
	if len(blocks) < 2 {
		rep := p.exec.Execute(ctx, args.Code)
		return rep.Text, rep
	}
	reports := p.exec.ExecuteAll(ctx, blocks)
	return FormatBatch(reports), reports
}

func (p *Provider) analyze(code string) *Analysis {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	findings := safety.Lint(code)
	verdict := p.exec.Analyzer().Analyze(code)

	text := safety.FormatFindings(findings)
	if verdict.Allowed {
		text += "\n✅ No restricted operations found."
	} else {
		text += "\n⛔ Execution would be blocked: " + verdict.Reason
	}
	if findings == nil {
		findings = []safety.Finding{}
	}
	return &Analysis{Verdict: verdict, Findings: findings, Text: text}
}

// FormatBatch joins the reports of sequential blocks.
func FormatBatch(reports []*pyexec.Report) string {
	parts := make([]string, len(reports))
	for i, r := range reports {
		parts[i] = fmt.Sprintf("Block %d:\n%s", i+1, strings.TrimRight(r.Text, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// Routes returns the HTTP endpoints. Both require the execute scope.
func (p *Provider) Routes() []registry.Route {
	return []registry.Route{
		{Method: http.MethodPost, Pattern: "/v1/execute", Handler: scoped(p.handleExecute)},
		{Method: http.MethodPost, Pattern: "/v1/analyze", Handler: scoped(p.handleAnalyze)},
	}
}

func scoped(h http.HandlerFunc) http.HandlerFunc {
	return auth.RequireScope(auth.ScopeExecute, h).ServeHTTP
}

func (p *Provider) handleExecute(w http.ResponseWriter, r *http.Request) {
	var args ExecuteArgs
	if apiErr := transport.DecodeJSON(w, r, p.maxBody, &args); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}

	id := uuid.NewString()
	w.Header().Set("X-Execution-ID", id)
	p.logger.DebugContext(r.Context(), "execution started",
		"execution_id", id, "request_id", transport.RequestIDFromContext(r.Context()))
	_, data := p.execute(r.Context(), id, args)
	if reports, ok := data.([]*pyexec.Report); ok {
		transport.WriteJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"text":   FormatBatch(reports),
			"data":   reports,
		})
		return
	}
	transport.WriteJSON(w, http.StatusOK, data)
}

func (p *Provider) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var args AnalyzeArgs
	if apiErr := transport.DecodeJSON(w, r, p.maxBody, &args); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	a := p.analyze(args.Code)
	if a == nil {
		a = &Analysis{Verdict: safety.Verdict{Allowed: true}, Findings: []safety.Finding{}, Text: MsgNoCodeToAnalyze}
	}
	transport.WriteJSON(w, http.StatusOK, a)
}

// Close is a no-op; the engine is owned by the caller.
func (p *Provider) Close() error { return nil }
