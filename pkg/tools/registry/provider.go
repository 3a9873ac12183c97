// Package registry collects tool providers behind one executor. The HTTP
// API and the MCP server both dispatch through a FunctionRegistry, so
// every call gets the same metrics and panic recovery.
package registry

import (
	"context"
	"net/http"

	"github.com/rhuss/sktools/pkg/tools"
)

// FunctionProvider contributes a set of tools and, optionally, HTTP routes
// that expose them directly.
type FunctionProvider interface {
	// Name identifies the provider in logs.
	Name() string

	// Tools returns the tool definitions this provider contributes.
	Tools() []tools.ToolDefinition

	// Execute runs a call for one of the provider's tools.
	Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error)

	// Routes returns HTTP endpoints served by the provider.
	Routes() []Route

	// Close releases provider resources.
	Close() error
}

// Route is an HTTP endpoint exposed by a provider. Pattern uses
// net/http.ServeMux syntax without the method.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}
