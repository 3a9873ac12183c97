// Package remote runs scripts on a sandbox server (cmd/sandbox-server)
// reached over HTTP, either at a fixed URL or through a per-run Kubernetes
// SandboxClaim.
package remote

// ExecuteRequest is the body of POST /execute on the sandbox server.
type ExecuteRequest struct {
	RequestID      string            `json:"request_id,omitempty"`
	Code           string            `json:"code"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	MaxOutput      int               `json:"max_output,omitempty"`
	Requirements   []string          `json:"requirements,omitempty"`
	Files          map[string]string `json:"files,omitempty"`
}

// ExecuteResponse is the sandbox server's reply.
type ExecuteResponse struct {
	Status          string            `json:"status"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ExitCode        int               `json:"exit_code"`
	TimedOut        bool              `json:"timed_out,omitempty"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	InstallLog      string            `json:"install_log,omitempty"`
	FilesProduced   map[string]string `json:"files_produced,omitempty"`
}

// Status values of ExecuteResponse.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)
