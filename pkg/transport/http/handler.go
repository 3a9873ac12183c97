package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rhuss/sktools/pkg/auth"
	"github.com/rhuss/sktools/pkg/observability"
	"github.com/rhuss/sktools/pkg/storage"
	"github.com/rhuss/sktools/pkg/transport"
)

// RouteSource provides mounted routes. *registry.FunctionRegistry
// implements it.
type RouteSource interface {
	HTTPHandler() http.Handler
	Routes() []string
}

// Handlers groups what the HTTP API serves. Nil fields disable the
// corresponding endpoints.
type Handlers struct {
	Tools RouteSource

	// Store backs the history endpoints.
	Store storage.Store

	// InFlight lets DELETE /v1/executions/{id} cancel a running execution.
	InFlight *transport.InFlightRegistry

	MCP     http.Handler
	MCPPath string

	// MetricsPath mounts promhttp when non-empty.
	MetricsPath string

	// SandboxState reports the engine's sandbox state for /readyz.
	SandboxState func() string

	Authenticator auth.Authenticator
	RateLimiter   auth.RateLimiter

	Logger *slog.Logger
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(h Handlers) http.Handler {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := &api{store: h.Store, inflight: h.InFlight, sandboxState: h.SandboxState, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.handleHealth)
	mux.HandleFunc("GET /readyz", api.handleReady)
	if h.MetricsPath != "" {
		mux.Handle("GET "+h.MetricsPath, promhttp.Handler())
	}
	if h.MCP != nil {
		path := h.MCPPath
		if path == "" {
			path = "/mcp"
		}
		mux.Handle(path, auth.RequireScope(auth.ScopeExecute, h.MCP))
	}
	if h.Tools != nil {
		toolHandler := h.Tools.HTTPHandler()
		for _, pattern := range h.Tools.Routes() {
			mux.Handle(pattern, toolHandler)
		}
	}
	if h.Store != nil {
		mux.Handle("GET /v1/executions", auth.RequireScope(auth.ScopeHistory, http.HandlerFunc(api.handleList)))
		mux.Handle("GET /v1/executions/{id}", auth.RequireScope(auth.ScopeHistory, http.HandlerFunc(api.handleGet)))
	}
	mux.Handle("DELETE /v1/executions/{id}", auth.RequireScope(auth.ScopeExecute, http.HandlerFunc(api.handleDelete)))

	chain := []transport.Middleware{
		transport.Recovery(logger),
		transport.RequestID(),
		transport.Logging(logger),
	}
	if h.Authenticator != nil {
		bypass := auth.DefaultBypassPaths
		if h.MetricsPath != "" {
			bypass = append(bypass[:len(bypass):len(bypass)], h.MetricsPath)
		}
		chain = append(chain, auth.Middleware(h.Authenticator, h.RateLimiter, logger, bypass...))
	}
	// metrics read r.Pattern, so they must wrap the mux directly
	return transport.Chain(chain...)(observability.MetricsMiddleware(mux))
}

type api struct {
	store        storage.Store
	inflight     *transport.InFlightRegistry
	sandboxState func() string
	logger       *slog.Logger
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness is the /readyz body.
type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (a *api) handleReady(w http.ResponseWriter, r *http.Request) {
	res := readiness{Status: "ready", Checks: map[string]string{}}
	if a.store != nil {
		if err := a.store.HealthCheck(r.Context()); err != nil {
			res.Status = "not_ready"
			res.Checks["storage"] = err.Error()
		} else {
			res.Checks["storage"] = "ok"
		}
	}
	if a.sandboxState != nil {
		state := a.sandboxState()
		res.Checks["sandbox"] = state
		if state == "" || state == "uninitialized" {
			res.Status = "not_ready"
		}
	}
	status := http.StatusOK
	if res.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	transport.WriteJSON(w, status, res)
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	list, err := a.store.ListExecutions(r.Context(), opts)
	if err != nil {
		a.writeStoreError(w, r.Context(), err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, list)
}

func listOptions(r *http.Request) (storage.ListOptions, *transport.APIError) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		After:   q.Get("after"),
		Order:   q.Get("order"),
		Outcome: q.Get("outcome"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, transport.InvalidRequest("limit", "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	switch opts.Order {
	case "", "asc", "desc":
	default:
		return opts, transport.InvalidRequest("order", `order must be "asc" or "desc"`)
	}
	switch opts.Outcome {
	case "", storage.OutcomeSuccess, storage.OutcomeError, storage.OutcomeBlocked, storage.OutcomeTimeout, storage.OutcomeEmpty:
	default:
		return opts, transport.InvalidRequest("outcome", "unknown outcome "+strconv.Quote(opts.Outcome))
	}
	return opts, nil
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeStoreError(w, r.Context(), err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, rec)
}

// handleDelete cancels a running execution, or deletes a finished one from
// the history. Both are limited to the caller's tenant.
func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.inflight != nil && a.inflight.Cancel(id, storage.GetTenant(r.Context())) {
		transport.WriteJSON(w, http.StatusAccepted, map[string]any{
			"id":        id,
			"object":    "execution",
			"cancelled": true,
		})
		return
	}
	if a.store == nil {
		transport.WriteError(w, transport.NotFound("execution "+id+" is not running"))
		return
	}
	if err := a.store.DeleteExecution(r.Context(), id); err != nil {
		a.writeStoreError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) writeStoreError(w http.ResponseWriter, ctx context.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteError(w, transport.NotFound(err.Error()))
		return
	}
	a.logger.ErrorContext(ctx, "history store failed", "request_id", transport.RequestIDFromContext(ctx), "error", err)
	transport.WriteError(w, transport.ServerError("history store failed"))
}
