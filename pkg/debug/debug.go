// Package debug gates verbose logging by category.
//
// Categories say WHAT to trace and come from SKTOOLS_DEBUG or
// logging.debug; the slog level says HOW MUCH. Both must allow a message
// for it to appear:
//
//	SKTOOLS_DEBUG=safety,runner sktools serve --log-level debug
//
// At TRACE the remote runner also logs request and response bodies.
package debug

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// EnvCategories overrides the configured categories.
const EnvCategories = "SKTOOLS_DEBUG"

// Categories.
const (
	All       = "all"
	Safety    = "safety"
	Deps      = "deps"
	Runner    = "runner"
	Sandbox   = "sandbox"
	MCP       = "mcp"
	Transport = "transport"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

var enabled atomic.Pointer[map[string]bool]

func init() {
	Configure("")
}

// Configure sets the enabled categories from a comma-separated list. The
// environment variable wins when set.
func Configure(list string) {
	if env := os.Getenv(EnvCategories); env != "" {
		list = env
	}
	m := parseCategories(list)
	enabled.Store(&m)
}

// Enabled reports whether category is switched on.
func Enabled(category string) bool {
	m := *enabled.Load()
	return m[All] || m[category]
}

// Log emits a debug record tagged with category when it is enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits at LevelTrace when category is enabled.
func Trace(category, msg string, args ...any) {
	if !TraceEnabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceEnabled guards expensive formatting before Trace.
func TraceEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level name, including "trace", to a slog.Level.
// Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// List returns the enabled categories, sorted.
func List() []string {
	m := *enabled.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Preview shortens s to at most n bytes for log attributes.
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}
