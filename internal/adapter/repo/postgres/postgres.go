// Package postgres provides PostgreSQL database adapters.
//
// It implements the repository ports for data persistence. Every operation
// the core relies on is a single-statement write, so the state-machine and
// credit guarantees hold without explicit transactions.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Pinger is the connectivity check used by readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}
