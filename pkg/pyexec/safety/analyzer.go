package safety

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhuss/sktools/pkg/debug"
)

// Verdict is the outcome of analyzing one source text.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ReasonSyntaxDeferred marks sources that failed to parse. They are allowed
// through so the interpreter reports the error itself.
const ReasonSyntaxDeferred = "deferred: syntax error"

// Calls that are blocked when made through a bare name.
var (
	dynamicImportCalls = map[string]bool{"__import__": true}
	evalCalls          = map[string]bool{"eval": true, "exec": true}
)

// Analyzer is a syntactic denylist filter. It inspects only direct,
// unaliased imports and calls and is not a security boundary.
type Analyzer struct {
	policy *Policy
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer for the given policy.
func NewAnalyzer(policy *Policy, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{policy: policy, logger: logger}
}

// Policy returns the policy the analyzer enforces.
func (a *Analyzer) Policy() *Policy {
	return a.policy
}

// Analyze parses source and returns the first violation found.
func (a *Analyzer) Analyze(source string) Verdict {
	mod, err := Parse(source)
	if err != nil {
		if errors.Is(err, ErrSyntax) {
			a.logger.Debug("safety analysis deferred", "error", err)
			return Verdict{Allowed: true, Reason: ReasonSyntaxDeferred}
		}
		return Verdict{Allowed: true, Reason: err.Error()}
	}
	return a.Check(mod)
}

// Check evaluates an already parsed module.
func (a *Analyzer) Check(mod *Module) Verdict {
	verdict := Verdict{Allowed: true}
	Walk(mod, func(n Node) bool {
		if reason := a.violation(n); reason != "" {
			verdict = Verdict{Allowed: false, Reason: reason, Line: n.Pos()}
			return false
		}
		return true
	})
	debug.Log(debug.Safety, "safety verdict", "allowed", verdict.Allowed, "reason", verdict.Reason, "line", verdict.Line)
	return verdict
}

func (a *Analyzer) violation(n Node) string {
	switch n := n.(type) {
	case *Import:
		for _, alias := range n.Names {
			if a.policy.Denied(alias.Name) {
				return fmt.Sprintf("import of restricted module %q", Root(alias.Name))
			}
		}
	case *ImportFrom:
		// "from .subprocess import x" is checked like its absolute form;
		// "from . import subprocess" names no module and passes.
		if n.Module != "" && a.policy.Denied(n.Module) {
			return fmt.Sprintf("import from restricted module %q", Root(n.Module))
		}
	case *Call:
		if n.Attribute {
			return ""
		}
		if dynamicImportCalls[n.Func] {
			return fmt.Sprintf("call to dynamic import %s()", n.Func)
		}
		if evalCalls[n.Func] {
			return fmt.Sprintf("call to dynamic evaluation %s()", n.Func)
		}
	}
	return ""
}
