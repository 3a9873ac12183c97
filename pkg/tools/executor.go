package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolDefinition describes a tool to callers.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// ToolExecutor runs tool calls.
type ToolExecutor interface {
	// CanExecute reports whether the executor handles the named tool.
	CanExecute(toolName string) bool

	// Execute runs the tool. Failures the caller should see are returned as
	// a result with IsError set; err is reserved for infrastructure faults.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolCall is a request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Decode unmarshals the call arguments into v. Missing arguments decode as
// an empty object.
func (c ToolCall) Decode(v any) error {
	args := c.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", c.Name, err)
	}
	return nil
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	CallID  string
	Output  string
	IsError bool

	// Data optionally carries a structured form of Output.
	Data any
}

// ErrorResult builds an IsError result.
func ErrorResult(callID, format string, args ...any) *ToolResult {
	return &ToolResult{CallID: callID, Output: fmt.Sprintf(format, args...), IsError: true}
}
