// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and JSONB for the package list.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/sktools/pkg/storage"
)

// Store is a PostgreSQL-backed execution history.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const selectColumns = `id, tenant_id, source, report, outcome, block_reason,
	sandbox_state, runner, packages, duration_ms, created_at`

// SaveExecution inserts a record.
func (s *Store) SaveExecution(ctx context.Context, rec *storage.Record) error {
	if rec.Tenant == "" {
		rec.Tenant = storage.GetTenant(ctx)
	}

	var packagesJSON []byte
	if len(rec.Packages) > 0 {
		var err error
		packagesJSON, err = json.Marshal(rec.Packages)
		if err != nil {
			return fmt.Errorf("marshaling packages: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, tenant_id, source, report, outcome, block_reason,
			sandbox_state, runner, packages, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.Tenant, rec.Source, rec.Report, rec.Outcome, nullString(rec.BlockReason),
		rec.SandboxState, nullString(rec.Runner), nullJSON(packagesJSON), rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution returns a record by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*storage.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM executions WHERE id = $1`
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return rec, nil
}

// ListExecutions returns a page of records ordered by creation time. The
// After cursor is resolved to its (created_at, id) position.
func (s *Store) ListExecutions(ctx context.Context, opts storage.ListOptions) (*storage.RecordList, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		where = append(where, "tenant_id = "+arg(tenantID))
	}
	if opts.Outcome != "" {
		where = append(where, "outcome = "+arg(opts.Outcome))
	}

	dir, cmp := "DESC", "<"
	if opts.Order == "asc" {
		dir, cmp = "ASC", ">"
	}
	if opts.After != "" {
		cursor, err := s.GetExecution(ctx, opts.After)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.NewRecordList(nil, false), nil
			}
			return nil, err
		}
		where = append(where, fmt.Sprintf("(created_at, id) %s (%s, %s)", cmp, arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	limit := opts.PageLimit()
	query := `SELECT ` + selectColumns + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT %s", dir, dir, arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return storage.NewRecordList(records, hasMore), nil
}

// DeleteExecution removes a record.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	query := `DELETE FROM executions WHERE id = $1`
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*storage.Record, error) {
	var (
		rec          storage.Record
		blockReason  *string
		runner       *string
		packagesJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Tenant, &rec.Source, &rec.Report, &rec.Outcome, &blockReason,
		&rec.SandboxState, &runner, &packagesJSON, &rec.DurationMs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if blockReason != nil {
		rec.BlockReason = *blockReason
	}
	if runner != nil {
		rec.Runner = *runner
	}
	if len(packagesJSON) > 0 {
		if err := json.Unmarshal(packagesJSON, &rec.Packages); err != nil {
			return nil, fmt.Errorf("unmarshaling packages: %w", err)
		}
	}
	return &rec, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
