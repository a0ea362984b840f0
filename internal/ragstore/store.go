// Package ragstore is the relational persistence layer (C13) for
// knowledge bases, documents, chunks, queries, and the scheduling tables
// (plugin executions, experiences, experience runs). Grounded on the
// teacher's internal/persistence/databases pgxpool/Manager pattern,
// adapted from a generic multi-backend facade to the fixed Postgres +
// pgvector schema this domain requires.
package ragstore

import (
	"context"
	"errors"
	"time"

	"ragcore/internal/ragmodel"
)

// ErrNotFound is returned when a lookup by ID finds nothing.
var ErrNotFound = errors.New("ragstore: not found")

// ErrConflict is returned when a write loses a race against a compensating
// unique constraint — e.g. two scheduler replicas both passing
// HasPendingOrRunning before either has inserted its PluginExecution
// (spec.md §4.9).
var ErrConflict = errors.New("ragstore: conflict")

// KnowledgeBaseStore persists knowledge bases and enforces ownership
// cascade deletes (spec.md §3: "deleting a KB deletes all of them").
type KnowledgeBaseStore interface {
	GetKnowledgeBase(ctx context.Context, id string) (ragmodel.KnowledgeBase, error)
	CreateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) (ragmodel.KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) error
	DeleteKnowledgeBase(ctx context.Context, id string) error
}

// DocumentStore persists documents and their chunks, and implements the
// idempotency lookup used by the ingestion entry points (spec.md §4.7.1).
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (ragmodel.Document, error)
	// FindBySource locates an existing document by (kb, source_type,
	// source_id) for idempotency checks.
	FindBySource(ctx context.Context, kbID, sourceType, sourceID string) (ragmodel.Document, bool, error)
	CreateDocument(ctx context.Context, d ragmodel.Document) (ragmodel.Document, error)
	UpdateDocument(ctx context.Context, d ragmodel.Document) error
	DeleteDocument(ctx context.Context, id string) error

	ReplaceChunks(ctx context.Context, documentID string, chunks []ragmodel.DocumentChunk) error
	GetChunks(ctx context.Context, documentID string) ([]ragmodel.DocumentChunk, error)

	// UpdateChunkProfile persists the profiler's per-chunk enrichment
	// (spec.md §4.8 step 5) without touching the chunk's content or
	// embedding.
	UpdateChunkProfile(ctx context.Context, chunkID, summary string, keywords, topics []string) error

	ReplaceQueries(ctx context.Context, documentID string, queries []ragmodel.DocumentQuery) error
}

// PluginExecutionStore persists scheduler-owned plugin execution records,
// with the row-locking primitives the unified scheduler (C9) needs.
type PluginExecutionStore interface {
	// ClaimDuePluginFeeds selects feeds due to run, locking each row with
	// SELECT ... FOR UPDATE SKIP LOCKED so concurrent scheduler instances
	// never double-claim the same feed (spec.md §4.9).
	ClaimDuePluginFeeds(ctx context.Context, limit int) ([]ragmodel.PluginFeed, error)

	// HasPendingOrRunning enforces "at most one pending|running execution
	// per schedule_id at any time" (spec.md §3).
	HasPendingOrRunning(ctx context.Context, scheduleID string) (bool, error)

	CreatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) (ragmodel.PluginExecution, error)
	GetPluginExecution(ctx context.Context, id string) (ragmodel.PluginExecution, error)
	UpdatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) error

	// ReclaimStaleRunning marks RUNNING executions whose updated_at
	// (heartbeat) has gone stale as FAILED with error "stale_timeout",
	// per the scheduler's stale-cleanup pass (spec.md §4.9).
	ReclaimStaleRunning(ctx context.Context, staleAfterSeconds int) (int, error)

	// UpdatePluginFeedSchedule advances a feed's next_run_at/last_run_at
	// after it has been claimed and dispatched.
	UpdatePluginFeedSchedule(ctx context.Context, feedID string, nextRunAt, lastRunAt *time.Time) error
}

// SearchQuery is a pre-validated field/operator query, resolved by
// internal/kbsearch's explicit field-type maps before it ever reaches the
// store: Column and Operator are never raw user input (spec.md §4.11).
type SearchQuery struct {
	KnowledgeBaseIDs []string
	Column           string
	Operator         string // eq, contains, icontains, has_key, has_any, path_contains
	Value            any
	Page             int
	PageSize         int
	SortOrder        string // asc or desc
}

// ChunkSearchResult is one page of a chunk search, with the total matching
// count for pagination.
type ChunkSearchResult struct {
	Chunks []ragmodel.DocumentChunk
	Total  int
}

// DocumentSearchResult is one page of a document search.
type DocumentSearchResult struct {
	Documents []ragmodel.Document
	Total     int
}

// SearchStore evaluates field/operator queries over chunks and documents,
// scoped to a bound set of knowledge bases (spec.md §4.11).
type SearchStore interface {
	SearchChunks(ctx context.Context, q SearchQuery) (ChunkSearchResult, error)
	SearchDocuments(ctx context.Context, q SearchQuery) (DocumentSearchResult, error)
}

// SecretStore persists plugin-host secrets, scoped per plugin and then
// in two further scopes: system (admin-managed, shared across all users of
// that plugin) and user (per-user), per spec.md §4.10's secrets.get/set
// capability.
type SecretStore interface {
	GetSecret(ctx context.Context, pluginName, scope, userID, key string) (string, bool, error)
	SetSecret(ctx context.Context, pluginName, scope, userID, key, value string) error
}

// ExperienceStore persists scheduled LLM workflows and their runs.
type ExperienceStore interface {
	ClaimDueExperiences(ctx context.Context, limit int) ([]ragmodel.Experience, error)
	GetExperience(ctx context.Context, id string) (ragmodel.Experience, error)
	UpdateExperience(ctx context.Context, e ragmodel.Experience) error

	CreateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) (ragmodel.ExperienceRun, error)
	UpdateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) error
}

// Store aggregates every persistence concern the ingestion pipeline,
// scheduler, and plugin-host need, mirroring the teacher's Manager
// aggregate-of-backends shape.
type Store interface {
	KnowledgeBaseStore
	DocumentStore
	PluginExecutionStore
	ExperienceStore
	SearchStore
	SecretStore

	Close()
}
