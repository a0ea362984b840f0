// Package vector is the nearest-neighbor search backend for document
// chunks, grounded on the teacher's persistence/databases VectorStore
// interface and its Postgres/Qdrant implementations (postgres_vector.go,
// qdrant_vector.go), adapted to the chunk-scoped search this domain needs.
package vector

import "context"

// Match is a single nearest-neighbor hit.
type Match struct {
	ChunkID    string
	DocumentID string
	Score      float64 // higher is closer, regardless of backing metric
	Metadata   map[string]any
}

// Store is the pluggable vector index used by chunk search (C11) and
// document profiling's synopsis/query embeddings. knowledgeBaseID is always
// passed explicitly to Upsert so backends that require an explicit scope
// filter (Qdrant) can record it on the point and enforce it on Search.
type Store interface {
	Upsert(ctx context.Context, chunkID, documentID, knowledgeBaseID string, embedding []float32, metadata map[string]any) error
	Delete(ctx context.Context, chunkID string) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, knowledgeBaseID string, embedding []float32, k int) ([]Match, error)
}
