package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing used when Config leaves a field at zero.
const (
	DefaultMaxConns        int32 = 25
	DefaultMinConns        int32 = 5
	DefaultMaxConnLifetime       = 5 * time.Minute
)

// Config describes the history database.
type Config struct {
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// MigrateOnStart creates the executions table when it is missing.
	MigrateOnStart bool
}

// poolConfig parses the DSN and applies the pool sizing. MinConns is
// clamped to MaxConns.
func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	pc.MaxConns = orDefault(c.MaxConns, DefaultMaxConns)
	pc.MinConns = min(orDefault(c.MinConns, DefaultMinConns), pc.MaxConns)
	pc.MaxConnLifetime = orDefault(c.MaxConnLifetime, DefaultMaxConnLifetime)
	return pc, nil
}

// orDefault returns v, or def when v is not positive.
func orDefault[T int32 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
