package storage

import (
	"context"
	"time"
)

// Outcome values of a Record.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeBlocked = "blocked"
	OutcomeTimeout = "timeout"
	OutcomeEmpty   = "empty"
)

// PackageOutcome is what happened to one dependency of an execution.
type PackageOutcome struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
}

// Record is the history entry of one execution.
type Record struct {
	ID           string           `json:"id"`
	Tenant       string           `json:"tenant,omitempty"`
	Source       string           `json:"source"`
	Report       string           `json:"report"`
	Outcome      string           `json:"outcome"`
	BlockReason  string           `json:"block_reason,omitempty"`
	SandboxState string           `json:"sandbox_state"`
	Runner       string           `json:"runner,omitempty"`
	Packages     []PackageOutcome `json:"packages,omitempty"`
	DurationMs   int64            `json:"duration_ms"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ListOptions controls pagination and filtering for ListExecutions.
type ListOptions struct {
	// Limit is the page size. Zero means 20, and values above 100 are capped.
	Limit int

	// After is the ID of the record the page starts after.
	After string

	// Order is "asc" or "desc" (default) by creation time.
	Order string

	// Outcome keeps only records with this outcome when set.
	Outcome string
}

// PageLimit returns the effective page size.
func (o ListOptions) PageLimit() int {
	switch {
	case o.Limit <= 0:
		return 20
	case o.Limit > 100:
		return 100
	}
	return o.Limit
}

// RecordList is one page of records.
type RecordList struct {
	Object  string    `json:"object"`
	Data    []*Record `json:"data"`
	FirstID string    `json:"first_id,omitempty"`
	LastID  string    `json:"last_id,omitempty"`
	HasMore bool      `json:"has_more"`
}

// NewRecordList builds a page from records already cut to size.
func NewRecordList(records []*Record, hasMore bool) *RecordList {
	l := &RecordList{Object: "list", Data: records, HasMore: hasMore}
	if len(records) > 0 {
		l.FirstID = records[0].ID
		l.LastID = records[len(records)-1].ID
	}
	if l.Data == nil {
		l.Data = []*Record{}
	}
	return l
}

// Store persists execution records. Reads are scoped to the tenant in the
// context when one is set.
type Store interface {
	SaveExecution(ctx context.Context, rec *Record) error
	GetExecution(ctx context.Context, id string) (*Record, error)
	ListExecutions(ctx context.Context, opts ListOptions) (*RecordList, error)
	DeleteExecution(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
