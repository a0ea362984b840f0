// Package ingestion implements the document ingestion pipeline (C7) and
// its entry points (C12): a content-hash-idempotent state machine
// (PENDING → EXTRACTING → EMBEDDING → PROFILING → PROCESSED/ERROR) driven
// by enqueued stage-transition jobs, per spec.md §4.7. Grounded on the
// teacher's internal/rag ingest/chunker packages for the chunking
// algorithm and on internal/sefii.go for the upload/upsert-by-hash shape.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"ragcore/internal/embedder"
	"ragcore/internal/ingestevents"
	"ragcore/internal/profiling"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/ragstore/vector"
	"ragcore/internal/rawarchive"
	"ragcore/internal/staging"
	"ragcore/internal/textextract"
)

// Config tunes chunking and pipeline feature flags. Per-KB chunk_size and
// chunk_overlap (spec.md §3 KnowledgeBase) take precedence when set.
type Config struct {
	DefaultChunkSize    int
	DefaultChunkOverlap int
	ProfilingEnabled    bool
}

func (c Config) withDefaults() Config {
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = 1000
	}
	if c.DefaultChunkOverlap <= 0 {
		c.DefaultChunkOverlap = 100
	}
	return c
}

// Service is the C7/C12 facade: the only sanctioned way to place a
// document into the pipeline (spec.md §4.12).
type Service struct {
	Store     ragstore.Store
	Vectors   vector.Store
	Staging   *staging.Service
	Extractor textextract.Extractor
	Embedder  embedder.Embedder
	Queue     queue.Queue
	Profiler  *profiling.Orchestrator
	// Archiver persists original upload bytes to S3/MinIO ahead of OCR,
	// independent of Staging's short-TTL copy. Optional: nil skips
	// archival for deployments with no object-store backend configured.
	Archiver *rawarchive.Service
	// Events publishes stage-transition and maintenance-sweep events for
	// downstream consumers. A nil *ingestevents.Publisher is safe to call
	// and simply drops every event.
	Events *ingestevents.Publisher
	Cfg    Config
}

func NewService(store ragstore.Store, vectors vector.Store, stg *staging.Service, extractor textextract.Extractor, emb embedder.Embedder, q queue.Queue, profiler *profiling.Orchestrator, cfg Config) *Service {
	return &Service{Store: store, Vectors: vectors, Staging: stg, Extractor: extractor, Embedder: emb, Queue: q, Profiler: profiler, Cfg: cfg.withDefaults()}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func now() time.Time { return time.Now().UTC() }

// publishTransition emits a DocumentStatusChanged event for a pipeline
// stage change (spec.md §4.7.2). Safe to call with a nil s.Events.
func (s *Service) publishTransition(ctx context.Context, documentID, kbID string, from, to ragmodel.ProcessingStatus, reason string) {
	s.Events.PublishStatusChanged(ctx, ingestevents.DocumentStatusChanged{
		DocumentID:      documentID,
		KnowledgeBaseID: kbID,
		FromStatus:      string(from),
		ToStatus:        string(to),
		Reason:          reason,
	})
}
