// Package runner executes a script file that has already been written to
// the sandbox. Each Runner is one execution strategy; the engine picks one
// at construction and never switches.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks a run stopped by its wall-clock limit.
var ErrTimeout = errors.New("execution timed out")

// Script is one execution request as seen by a Runner.
type Script struct {
	RequestID string
	Path      string
	Source    string

	// Requirements lists packages for runners whose environment installs
	// its own dependencies. Local runners ignore it.
	Requirements []string
}

// Result is what one run produced. Stdout and Stderr are already truncated.
type Result struct {
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
	ExitCode        int           `json:"exit_code"`
	TimedOut        bool          `json:"timed_out,omitempty"`
	Duration        time.Duration `json:"duration"`
	Success         bool          `json:"success"`

	// InstallLog is set by runners whose environment installed the
	// script's requirements itself.
	InstallLog string `json:"install_log,omitempty"`
}

// Runner runs a script under a timeout. A timeout is reported through
// Result.TimedOut, not as an error; errors mean the script could not be
// run at all.
type Runner interface {
	Name() string
	Timeout() time.Duration
	Run(ctx context.Context, s Script) (*Result, error)
}

// TimeoutMessage is the report text for a run that hit its limit.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Execution timed out after %d seconds.", int(timeout.Round(time.Second)/time.Second))
}

// classify fills in Success: nothing on stderr and no timeout.
func (r *Result) classify() {
	r.Success = !r.TimedOut && r.Stderr == ""
}
