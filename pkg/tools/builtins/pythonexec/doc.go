// Package pythonexec exposes the Python execution engine as tools: a
// FunctionProvider with execute_python_code and analyze_python_code, and
// the matching HTTP routes POST /v1/execute and POST /v1/analyze.
//
// Every execution gets a server-minted ID, returned in X-Execution-ID, and
// is tracked in a transport.InFlightRegistry under it and its tenant so
// that DELETE /v1/executions/{id} can cancel it.
package pythonexec
