package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rhuss/sktools/pkg/observability"
	"github.com/rhuss/sktools/pkg/tools"
)

var _ tools.ToolExecutor = (*FunctionRegistry)(nil)

// FunctionRegistry routes tool calls to providers.
type FunctionRegistry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	providers []FunctionProvider
	owners    map[string]FunctionProvider
	defs      []tools.ToolDefinition
}

// New creates an empty registry.
func New(logger *slog.Logger) *FunctionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FunctionRegistry{
		logger: logger,
		owners: make(map[string]FunctionProvider),
	}
}

// Register adds a provider. When two providers define the same tool name
// the first one keeps it and the duplicate definition is dropped.
func (r *FunctionRegistry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	for _, td := range p.Tools() {
		if owner, ok := r.owners[td.Name]; ok {
			r.logger.Warn("tool name conflict, keeping first provider",
				"tool", td.Name,
				"winner", owner.Name(),
				"loser", p.Name(),
			)
			continue
		}
		r.owners[td.Name] = p
		r.defs = append(r.defs, td)
	}
	r.logger.Info("registered tool provider",
		"provider", p.Name(),
		"tools", len(p.Tools()),
		"routes", len(p.Routes()),
	)
}

// CanExecute reports whether a provider owns the named tool.
func (r *FunctionRegistry) CanExecute(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[name]
	return ok
}

// Tools returns the definitions of all executable tools in registration
// order.
func (r *FunctionRegistry) Tools() []tools.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]tools.ToolDefinition(nil), r.defs...)
}

// Execute dispatches the call, records metrics and turns a provider panic
// into an error result.
func (r *FunctionRegistry) Execute(ctx context.Context, call tools.ToolCall) (result *tools.ToolResult, err error) {
	r.mu.RLock()
	p, ok := r.owners[call.Name]
	r.mu.RUnlock()
	if !ok {
		observability.ToolExecutionsTotal.WithLabelValues("unknown", "not_found").Inc()
		return tools.ErrorResult(call.ID, "unknown tool %q", call.Name), nil
	}

	start := time.Now()
	status := "success"
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool provider panicked",
				"provider", p.Name(),
				"tool", call.Name,
				"panic", rec,
			)
			result, err = tools.ErrorResult(call.ID, "internal error: tool %q panicked", call.Name), nil
			status = "panic"
		}
		observability.ToolExecutionsTotal.WithLabelValues(call.Name, status).Inc()
		observability.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}()

	result, err = p.Execute(ctx, call)
	switch {
	case err != nil:
		status = "error"
	case result == nil:
		result, err = nil, fmt.Errorf("tool %q returned no result", call.Name)
		status = "error"
	case result.IsError:
		status = "tool_error"
	}
	if result != nil && result.CallID == "" {
		result.CallID = call.ID
	}
	return result, err
}

// HTTPHandler serves the routes of all providers.
func (r *FunctionRegistry) HTTPHandler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mux := http.NewServeMux()
	for _, p := range r.providers {
		for _, route := range p.Routes() {
			pattern := route.Pattern
			if route.Method != "" {
				pattern = route.Method + " " + pattern
			}
			mux.HandleFunc(pattern, route.Handler)
		}
	}
	return mux
}

// Routes returns the patterns served by HTTPHandler, for mounting.
func (r *FunctionRegistry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, p := range r.providers {
		for _, route := range p.Routes() {
			pattern := route.Pattern
			if route.Method != "" {
				pattern = route.Method + " " + pattern
			}
			out = append(out, pattern)
		}
	}
	return out
}

// Close closes every provider and joins their errors.
func (r *FunctionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			r.logger.Warn("closing tool provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
