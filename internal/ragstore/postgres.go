package ragstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxIface is the minimal surface shared by *pgxpool.Pool and pgx.Tx,
// letting the per-entity helpers run against either a pool connection or
// an open transaction without duplicating SQL.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx/pgxpool-backed Store implementation (C13's default
// backend), grounded on the teacher's persistence/databases Postgres
// stores (postgres_vector.go, postgres_search.go, chat_store_postgres.go).
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps pool and ensures the schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if err := ensureSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
