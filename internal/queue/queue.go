// Package queue implements the durable FIFO queue abstraction (C2):
// competing-consumer delivery, visibility timeouts, and bounded retry, per
// spec.md §4.2. Two implementations satisfy Queue and must pass identical
// property tests: a Redis-backed Shared backend for multi-replica
// deployments, and an in-process Local backend for single-process
// deployments.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Queue implementations.
var (
	ErrConnectionFailure = errors.New("queue: connection failure")
	ErrOperationFailed   = errors.New("queue: operation failed")
)

// Job is an in-flight unit of work on a queue (spec.md §3).
type Job struct {
	ID                       string
	QueueName                string
	Payload                  map[string]any
	Attempts                 int
	MaxAttempts              int
	VisibilityTimeoutSeconds int
	EnqueuedAt               time.Time
	LastDeliveredAt          time.Time
}

// Clone deep-copies the payload so callers and the backend never share
// mutable state across a lease boundary.
func (j Job) Clone() Job {
	c := j
	if j.Payload != nil {
		b, _ := json.Marshal(j.Payload)
		var p map[string]any
		_ = json.Unmarshal(b, &p)
		c.Payload = p
	}
	return c
}

// NewJob constructs a Job with a generated ID and enqueue timestamp, ready
// to pass to Queue.Enqueue. Defaults: MaxAttempts=3, VisibilityTimeoutSeconds=60.
func NewJob(queueName string, payload map[string]any) Job {
	return Job{
		ID:                      uuid.NewString(),
		QueueName:               queueName,
		Payload:                 payload,
		MaxAttempts:             3,
		VisibilityTimeoutSeconds: 60,
		EnqueuedAt:              time.Now().UTC(),
	}
}

// Queue is the durable FIFO queue backend contract. Implementations must
// only block on the backend itself, never on caller-supplied business
// logic (spec.md §4.2).
type Queue interface {
	// Enqueue appends job to job.QueueName. Payloads must round-trip any
	// JSON-serializable map plus arbitrary binary blobs carried as
	// base64-ish opaque string fields — callers pass staging references,
	// not raw bytes, so this primitive need not special-case binary data.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue atomically leases the head job of queueName for its
	// VisibilityTimeoutSeconds, incrementing Attempts. Returns ok=false if
	// the queue is empty.
	Dequeue(ctx context.Context, queueName string) (job Job, ok bool, err error)

	// Acknowledge permanently removes job from its queue.
	Acknowledge(ctx context.Context, job Job) error

	// Reject either returns job to the queue (requeue=true) or discards it
	// permanently (requeue=false).
	Reject(ctx context.Context, job Job, requeue bool) error

	// ExtendVisibility prolongs the lease of a job currently held by this
	// consumer by additionalSeconds. Returns false if the lease already
	// expired (the job may have been re-delivered elsewhere).
	ExtendVisibility(ctx context.Context, job Job, additionalSeconds int) (bool, error)

	// Depth reports the number of jobs immediately deliverable on
	// queueName, for scheduler/worker observability.
	Depth(ctx context.Context, queueName string) (int, error)
}
