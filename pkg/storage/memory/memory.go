// Package memory is an in-memory execution history for tests and
// single-process deployments. Records are lost when the process restarts.
// A size bound evicts the oldest saved record first.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/sktools/pkg/storage"
)

type entry struct {
	rec  *storage.Record
	elem *list.Element
}

// Store is an in-memory storage.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	saved   *list.List // record IDs in save order, oldest at the front
	maxSize int        // 0 = unlimited
}

var _ storage.Store = (*Store)(nil)

// New creates a store holding at most maxSize records, or any number when
// maxSize is 0. Reads never change which record is evicted next.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		saved:   list.New(),
		maxSize: maxSize,
	}
}

// SaveExecution stores a record. The tenant comes from the context when
// the record does not carry one.
func (s *Store) SaveExecution(ctx context.Context, rec *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[rec.ID]; exists {
		return storage.ErrConflict
	}
	if rec.Tenant == "" {
		rec.Tenant = storage.GetTenant(ctx)
	}
	for s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}
	s.entries[rec.ID] = &entry{rec: rec, elem: s.saved.PushBack(rec.ID)}
	return nil
}

// GetExecution returns a record by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || !visible(ctx, e.rec) {
		return nil, storage.ErrNotFound
	}
	return e.rec, nil
}

// DeleteExecution removes a record.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !visible(ctx, e.rec) {
		return storage.ErrNotFound
	}
	s.saved.Remove(e.elem)
	delete(s.entries, id)
	return nil
}

// ListExecutions returns a page of records ordered by creation time.
func (s *Store) ListExecutions(ctx context.Context, opts storage.ListOptions) (*storage.RecordList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*storage.Record
	for _, e := range s.entries {
		if !visible(ctx, e.rec) {
			continue
		}
		if opts.Outcome != "" && e.rec.Outcome != opts.Outcome {
			continue
		}
		matches = append(matches, e.rec)
	}

	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.After != "" {
		idx := -1
		for i, r := range matches {
			if r.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	}

	limit := opts.PageLimit()
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}
	return storage.NewRecordList(matches, hasMore), nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func visible(ctx context.Context, rec *storage.Record) bool {
	tenantID := storage.GetTenant(ctx)
	return tenantID == "" || rec.Tenant == tenantID
}

// evictOldest drops the earliest saved record. s.mu must be held.
func (s *Store) evictOldest() {
	front := s.saved.Front()
	if front == nil {
		return
	}
	delete(s.entries, s.saved.Remove(front).(string))
}
