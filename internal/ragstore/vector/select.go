package vector

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config selects and parameterizes a vector Store backend.
type Config struct {
	Backend    string // "pgvector" (default) or "qdrant"
	Dimension  int
	Metric     string
	QdrantDSN  string
	Collection string
}

// New builds the configured Store backend. pgvector reuses the ragstore
// connection pool; qdrant dials its own gRPC client.
func New(ctx context.Context, pool *pgxpool.Pool, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "pgvector", "postgres":
		return NewPGVector(ctx, pool, cfg.Dimension, cfg.Metric)
	case "qdrant":
		return NewQdrant(cfg.QdrantDSN, cfg.Collection, cfg.Dimension, cfg.Metric)
	default:
		return NewPGVector(ctx, pool, cfg.Dimension, cfg.Metric)
	}
}
