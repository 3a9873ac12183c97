// Package http is the HTTP front end of sktools. It mounts the tool
// provider routes (/v1/execute, /v1/analyze), the execution history API,
// the MCP endpoint, health probes and Prometheus metrics behind one
// middleware chain, and runs the server with graceful shutdown.
package http
