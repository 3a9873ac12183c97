package safety

import (
	"errors"
	"fmt"
	"strings"
)

// Lint rule identifiers.
const (
	RuleSyntax        = "syntax"
	RuleBareExcept    = "bare-except"
	RuleSystemCommand = "system-command"
	RuleOpenNoContext = "open-without-with"
)

// Finding is one lint result.
type Finding struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// Lint reports common problems in source. Unlike Analyze it never blocks
// anything; it is advisory output for the caller.
func Lint(source string) []Finding {
	mod, err := Parse(source)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			return []Finding{{Rule: RuleSyntax, Line: se.Line, Message: "Syntax error: " + se.Error()}}
		}
		return []Finding{{Rule: RuleSyntax, Message: "Syntax error: " + err.Error()}}
	}

	l := &linter{seen: map[string]bool{}}
	l.nodes(mod.Body, false)
	return l.findings
}

type linter struct {
	findings []Finding
	seen     map[string]bool
}

// add records a finding once per rule.
func (l *linter) add(rule string, line int, msg string) {
	if l.seen[rule] {
		return
	}
	l.seen[rule] = true
	l.findings = append(l.findings, Finding{Rule: rule, Line: line, Message: msg})
}

func (l *linter) nodes(nodes []Node, inWith bool) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *Block:
			if n.Keyword == "except" && n.Bare {
				l.add(RuleBareExcept, n.Line, "Bare except clause found. Consider catching specific exceptions.")
			}
			l.nodes(n.Header, n.Keyword == "with")
			l.nodes(n.Body, false)
		case *Import:
			for _, a := range n.Names {
				if Root(a.Name) == "subprocess" {
					l.add(RuleSystemCommand, n.Line, "Code uses system commands which may pose security risks.")
				}
			}
		case *ImportFrom:
			if Root(n.Module) == "subprocess" {
				l.add(RuleSystemCommand, n.Line, "Code uses system commands which may pose security risks.")
			}
		case *Call:
			if isSystemCommand(n) {
				l.add(RuleSystemCommand, n.Line, "Code uses system commands which may pose security risks.")
			}
			if n.Func == "open" && !n.Attribute && !inWith {
				l.add(RuleOpenNoContext, n.Line, "File operations not using context manager (with statement).")
			}
		}
	}
}

func isSystemCommand(c *Call) bool {
	if !c.Attribute {
		return false
	}
	switch {
	case c.Receiver == "os" && (c.Func == "system" || strings.HasPrefix(c.Func, "popen") || strings.HasPrefix(c.Func, "exec") || strings.HasPrefix(c.Func, "spawn")):
		return true
	case Root(c.Receiver) == "subprocess":
		return true
	}
	return false
}

// FormatFindings renders findings as the text returned by the analyze tool.
func FormatFindings(findings []Finding) string {
	var b strings.Builder
	syntaxOK := true
	for _, f := range findings {
		if f.Rule == RuleSyntax {
			syntaxOK = false
		}
	}
	if syntaxOK {
		b.WriteString("✅ No syntax errors detected.")
	}
	for _, f := range findings {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if f.Rule == RuleSyntax {
			fmt.Fprintf(&b, "❌ %s", f.Message)
			continue
		}
		if f.Line > 0 {
			fmt.Fprintf(&b, "⚠️ %s (line %d)", f.Message, f.Line)
		} else {
			fmt.Fprintf(&b, "⚠️ %s", f.Message)
		}
	}
	return b.String()
}
