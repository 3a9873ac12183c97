package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks running executions by ID so a client can cancel
// one. Each entry remembers its owner, and only the same owner may cancel
// it. All methods are safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]inflightEntry
}

type inflightEntry struct {
	owner  string
	cancel context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]inflightEntry)}
}

// Track derives a cancellable context for id, owned by owner (the tenant,
// empty when auth is off). The returned done function must be called when
// the execution ends.
func (r *InFlightRegistry) Track(ctx context.Context, id, owner string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.entries[id] = inflightEntry{owner: owner, cancel: cancel}
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel cancels a running execution of owner. It reports false when id is
// not running or belongs to someone else.
func (r *InFlightRegistry) Cancel(id, owner string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok && e.owner != owner {
		ok = false
	}
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Len returns the number of running executions.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
