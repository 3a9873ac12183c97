package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/sktools/pkg/debug"
	"github.com/rhuss/sktools/pkg/tools"
)

// Registry is the tool source behind the server. *registry.FunctionRegistry
// implements it.
type Registry interface {
	Tools() []tools.ToolDefinition
	Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error)
}

// Config configures a Server.
type Config struct {
	Name    string
	Version string

	// Tools limits the exposed tools. Empty exposes all.
	Tools []string

	Logger *slog.Logger
}

// Server is an MCP server exposing registry tools.
type Server struct {
	server  *mcp.Server
	tools   []string
	logger  *slog.Logger
	handler http.Handler
}

// New builds the server. Names in cfg.Tools that no provider offers are an
// error, so a typo in the config does not silently hide a tool.
func New(reg Registry, cfg Config) (*Server, error) {
	if reg == nil {
		return nil, errors.New("mcp: registry is required")
	}
	if cfg.Name == "" {
		cfg.Name = "sktools"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defs, unknown := tools.Filter(reg.Tools(), cfg.Tools)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("mcp: unknown tools: %s", strings.Join(unknown, ", "))
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		logger: logger,
	}
	for _, def := range defs {
		schema := def.InputSchema
		if schema == nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		s.server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, s.callHandler(reg, def.Name))
		s.tools = append(s.tools, def.Name)
	}
	s.handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
	return s, nil
}

func (s *Server) callHandler(reg Registry, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.ToolCall{Name: name}
		if req != nil && req.Params != nil {
			call.Arguments = req.Params.Arguments
		}
		debug.Log(debug.MCP, "mcp tool call", "tool", name, "arguments", debug.Preview(string(call.Arguments), 200))
		res, err := reg.Execute(ctx, call)
		if err != nil {
			s.logger.Warn("mcp tool call failed", "tool", name, "error", err)
			return errorResult(err.Error()), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Output}},
			IsError: res.IsError,
		}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Tools returns the names of the exposed tools.
func (s *Server) Tools() []string { return s.tools }

// Run serves over t until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("mcp server starting", "tools", s.tools)
	return s.server.Run(ctx, t)
}

// RunStdio serves over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }
