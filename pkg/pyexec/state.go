package pyexec

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// State is the lifecycle position of one request.
type State int

const (
	Received State = iota
	Extracted
	Blocked
	SafetyChecked
	DependenciesResolved
	TimedOut
	Completed
	Formatted
)

var stateNames = [...]string{
	Received:             "received",
	Extracted:            "extracted",
	Blocked:              "blocked",
	SafetyChecked:        "safety_checked",
	DependenciesResolved: "dependencies_resolved",
	TimedOut:             "timed_out",
	Completed:            "completed",
	Formatted:            "formatted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the states reachable from each state. Received may go
// straight to Formatted when there is nothing to run.
var transitions = map[State][]State{
	Received:             {Extracted, Formatted},
	Extracted:            {Blocked, SafetyChecked},
	SafetyChecked:        {DependenciesResolved},
	DependenciesResolved: {TimedOut, Completed, Formatted},
	TimedOut:             {Formatted},
	Completed:            {Formatted},
}

// CanTransition reports whether a request may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Request is one execution as it moves through the engine. It belongs to a
// single Execute call.
type Request struct {
	ID     string
	Raw    string
	Source string
	State  State

	// file names the script inside the sandbox. It is fresh for every
	// request even when callers reuse an ID.
	file string
}

type requestIDKey struct{}

// ContextWithRequestID makes Execute use id for the request it creates.
// Only UUIDs are honoured. The ID labels the report and its history record;
// it never names a file, so two calls sharing one ID still run apart.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func newRequest(ctx context.Context, raw string) *Request {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if u, err := uuid.Parse(id); err == nil {
		id = u.String()
	} else {
		id = uuid.NewString()
	}
	return &Request{ID: id, Raw: raw, State: Received, file: scriptName()}
}

func scriptName() string {
	return "code_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".py"
}

// FileName is the per-call script name inside the sandbox.
func (r *Request) FileName() string {
	if r.file == "" {
		r.file = scriptName()
	}
	return r.file
}
