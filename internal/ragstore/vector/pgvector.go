package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVector is the default Store backend: Postgres + the pgvector
// extension, reading and writing the document_chunks.embedding column the
// ingestion pipeline already populates (internal/ragstore).
// Grounded directly on the teacher's NewPostgresVector/pgVector type.
type PGVector struct {
	pool      *pgxpool.Pool
	dimension int
	metric    string // cosine|l2|ip
}

// NewPGVector ensures the pgvector extension is available and wraps pool.
// dimension is stored on the value only: it is not applied to the schema,
// whose vector columns are declared without a fixed width. metric selects
// the distance operator (default cosine).
func NewPGVector(ctx context.Context, pool *pgxpool.Pool, dimension int, metric string) (*PGVector, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, err
	}
	return &PGVector{pool: pool, dimension: dimension, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *PGVector) Upsert(ctx context.Context, chunkID, documentID, knowledgeBaseID string, embedding []float32, metadata map[string]any) error {
	// knowledgeBaseID and documentID are already set on the row by
	// ReplaceChunks; this backend only ever updates the embedding in place.
	_, err := p.pool.Exec(ctx, `
		UPDATE document_chunks SET embedding=$2::vector WHERE id=$1`,
		chunkID, toVectorLiteral(embedding))
	return err
}

func (p *PGVector) Delete(ctx context.Context, chunkID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE document_chunks SET embedding=NULL WHERE id=$1`, chunkID)
	return err
}

func (p *PGVector) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE document_chunks SET embedding=NULL WHERE document_id=$1`, documentID)
	return err
}

func (p *PGVector) Search(ctx context.Context, knowledgeBaseID string, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	op := "<=>"
	scoreExpr := "1 - (embedding <=> $2::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op = "<->"
		scoreExpr = "-(embedding <-> $2::vector)"
	case "ip", "dot":
		op = "<#>"
		scoreExpr = "-(embedding <#> $2::vector)"
	}
	query := fmt.Sprintf(`
		SELECT id, document_id, %s AS score, chunk_metadata
		FROM document_chunks
		WHERE knowledge_base_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding %s $2::vector
		LIMIT $3`, scoreExpr, op)

	rows, err := p.pool.Query(ctx, query, knowledgeBaseID, toVectorLiteral(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		var md map[string]any
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Score, &md); err != nil {
			return nil, err
		}
		m.Metadata = md
		out = append(out, m)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

var _ Store = (*PGVector)(nil)
