package pyexec

import (
	"strings"
	"time"

	"github.com/rhuss/sktools/pkg/pyexec/deps"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
)

// FormatReport merges the dependency log and the captured streams into the
// report text. Sections appear only when their content is non-empty.
func FormatReport(depLog, stdout, stderr string) string {
	var b strings.Builder
	if depLog != "" {
		b.WriteString("Dependency installation:\n")
		b.WriteString(depLog)
		b.WriteString("\n\n")
	}
	if stdout != "" {
		b.WriteString("Output:\n")
		b.WriteString(stdout)
		b.WriteString("\n")
	}
	if stderr != "" {
		b.WriteString("Error:\n")
		b.WriteString(stderr)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return MsgNoOutput
	}
	return b.String()
}

// Report is the outcome of one Execute call.
type Report struct {
	RequestID string `json:"request_id"`

	// Text is the report returned to the caller.
	Text string `json:"text"`

	Success         bool `json:"success"`
	Blocked         bool `json:"blocked,omitempty"`
	TimedOut        bool `json:"timed_out,omitempty"`
	StdoutTruncated bool `json:"stdout_truncated,omitempty"`
	StderrTruncated bool `json:"stderr_truncated,omitempty"`

	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
	ExitCode int             `json:"exit_code"`
	Verdict  *safety.Verdict `json:"verdict,omitempty"`

	Dependencies *deps.Set `json:"dependencies,omitempty"`

	Runner       string `json:"runner,omitempty"`
	SandboxState string `json:"sandbox_state"`

	// Warning is set when the sandbox runs with weaker isolation than
	// configured. Text then starts with it.
	Warning string `json:"warning,omitempty"`

	Duration time.Duration `json:"duration"`
}

func (r *Report) String() string {
	if r == nil {
		return ""
	}
	return r.Text
}
