// Package scheduler implements the unified tick loop (C9): a single
// process-level loop that polls pluggable "schedulable sources" (recurring
// plugin feeds, scheduled experiences) under row-level locks, fans out
// work to per-user jobs, advances next-run timestamps, and cleans up
// stale RUNNING records (spec.md §4.9). Grounded on the teacher's
// orchestrator worker-pool tick shape (internal/orchestrator/kafka.go),
// adapted from a consumer loop to a polling scheduler loop.
package scheduler

import (
	"context"

	"ragcore/internal/queue"
)

// Counters summarizes one source's work during a single tick.
type Counters struct {
	Claimed              int
	Enqueued             int
	SkippedMissingPlugin int
	SkippedIdempotent    int
	StaleReclaimed       int
}

// Source is a schedulable input to the unified tick loop. Every source
// shares the same two-phase contract: reclaim abandoned work, then claim
// and dispatch due work.
type Source interface {
	Name() string
	CleanupStale(ctx context.Context) (int, error)
	EnqueueDue(ctx context.Context, q queue.Queue, limit int) (Counters, error)
}
