// Package mcp serves the tool registry over the Model Context Protocol, so
// an orchestration host can discover and call the Python tools. The same
// server runs over stdio (sktools mcp) or as a streamable HTTP handler
// mounted by the HTTP server.
package mcp
