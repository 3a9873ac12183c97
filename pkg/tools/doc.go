// Package tools defines the tool contract shared by the HTTP API and the
// MCP server: a ToolDefinition describes a callable capability, a ToolCall
// invokes it with JSON arguments and a ToolResult carries its text output.
package tools
