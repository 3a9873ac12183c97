// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring sktools.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecBuckets defines histogram buckets for script runs, from 50ms up to
// the longest configurable timeout plus dependency installation.
var ExecBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// Sandbox states reported by SandboxState.
var sandboxStates = []string{"uninitialized", "ready", "degraded", "disabled"}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sktools_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sktools_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ExecBuckets,
		},
		[]string{"method", "route"},
	)

	// ExecutionsTotal counts executions by outcome and runner.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sktools_executions_total",
			Help: "Code executions",
		},
		[]string{"outcome", "runner"},
	)

	// ExecutionDuration records end-to-end execution time in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sktools_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecBuckets,
		},
		[]string{"runner"},
	)

	// ExecutionsInFlight tracks executions currently running.
	ExecutionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sktools_executions_in_flight",
			Help: "Executions in flight",
		},
	)

	// PackageInstallsTotal counts dependency resolution outcomes per package.
	PackageInstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sktools_package_installs_total",
			Help: "Dependency resolution outcomes",
		},
		[]string{"outcome"},
	)

	// SandboxState is 1 for the current sandbox state and 0 for the others.
	SandboxState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sktools_sandbox_state",
			Help: "Sandbox provisioning state",
		},
		[]string{"state"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sktools_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// ToolDuration records tool execution time in seconds.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sktools_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: ExecBuckets,
		},
		[]string{"tool_name"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sktools_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsInFlight,
		PackageInstallsTotal,
		SandboxState,
		ToolExecutionsTotal,
		ToolDuration,
		RateLimitRejectedTotal,
	)
}

// SetSandboxState marks state as the current sandbox state.
func SetSandboxState(state string) {
	for _, s := range sandboxStates {
		v := 0.0
		if s == state {
			v = 1
		}
		SandboxState.WithLabelValues(s).Set(v)
	}
}
