package pyexec

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Received, Extracted, true},
		{Received, Formatted, true},
		{Extracted, Blocked, true},
		{Extracted, SafetyChecked, true},
		{SafetyChecked, DependenciesResolved, true},
		{DependenciesResolved, TimedOut, true},
		{DependenciesResolved, Completed, true},
		{TimedOut, Formatted, true},
		{Completed, Formatted, true},
		{Blocked, Formatted, false},
		{Received, SafetyChecked, false},
		{Formatted, Received, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{Blocked, Formatted} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if Received.Terminal() || Completed.Terminal() {
		t.Error("non-terminal state reported terminal")
	}
	if State(42).String() != "unknown" {
		t.Errorf("State(42) = %s", State(42))
	}
}

func TestRequest_FileName(t *testing.T) {
	a, b := newRequest(context.Background(), "x"), newRequest(context.Background(), "x")
	if a.ID == b.ID {
		t.Fatal("request IDs must be unique")
	}
	if !regexp.MustCompile(`^code_[0-9a-f]{32}\.py$`).MatchString(a.FileName()) {
		t.Errorf("FileName = %q", a.FileName())
	}
	if a.State != Received {
		t.Errorf("initial state = %s", a.State)
	}
	if a.FileName() != a.FileName() {
		t.Error("FileName changed between calls")
	}

	ctx := ContextWithRequestID(context.Background(), "6f1c2a7e-0d4b-4c1e-9a8f-3b2d1e0f9c8a")
	c, d := newRequest(ctx, "x"), newRequest(ctx, "x")
	if c.ID != d.ID {
		t.Errorf("IDs %s and %s, want the context ID", c.ID, d.ID)
	}
	if c.FileName() == d.FileName() {
		t.Errorf("requests sharing an ID share the file %s", c.FileName())
	}
}

func TestRequest_IDFromContext(t *testing.T) {
	const id = "6f1c2a7e-0d4b-4c1e-9a8f-3b2d1e0f9c8a"
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "uuid honoured", ctx: ContextWithRequestID(context.Background(), id), want: id},
		{name: "uppercase normalised", ctx: ContextWithRequestID(context.Background(), strings.ToUpper(id)), want: id},
		{name: "path-like id replaced", ctx: ContextWithRequestID(context.Background(), "../../etc/passwd")},
		{name: "no id", ctx: context.Background()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(tt.ctx, "x")
			if tt.want != "" && req.ID != tt.want {
				t.Errorf("ID = %q, want %q", req.ID, tt.want)
			}
			if _, err := uuid.Parse(req.ID); err != nil {
				t.Errorf("ID %q is not a UUID", req.ID)
			}
		})
	}
}
