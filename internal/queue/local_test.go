package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the property checklist from spec.md §4.2 and §8.2:
// visibility-timeout redelivery, ack removes the job, requeue restores
// availability, extend_visibility prolongs correctly, and a discard is
// observable. The Shared (Redis) backend must satisfy the same properties.

func TestLocal_EnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, NewJob("q1", map[string]any{"n": 1})))
	require.NoError(t, q.Enqueue(ctx, NewJob("q1", map[string]any{"n": 2})))

	j1, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(1), j1.Payload["n"])
	assert.Equal(t, 1, j1.Attempts)

	j2, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(2), j2.Payload["n"])
}

func TestLocal_DequeueEmptyReturnsNotOK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	_, ok, err := q.Dequeue(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_AcknowledgeRemovesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, NewJob("q1", nil)))
	job, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Acknowledge(ctx, job))

	ok, err = q.ExtendVisibility(ctx, job, 10)
	require.NoError(t, err)
	assert.False(t, ok, "acknowledged job has no lease left to extend")
}

func TestLocal_RejectWithRequeueRestoresAvailability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, NewJob("q1", map[string]any{"x": true})))
	job, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Reject(ctx, job, true))

	redelivered, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestLocal_RejectWithoutRequeueDiscards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, NewJob("q1", nil)))
	job, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Reject(ctx, job, false))

	depth, err := q.Depth(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestLocal_VisibilityTimeoutRedeliversAfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	job := NewJob("q1", nil)
	job.VisibilityTimeoutSeconds = 1
	require.NoError(t, q.Enqueue(ctx, job))

	leased, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	// Not yet expired: queue should be empty to other consumers.
	_, ok, err = q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(2500 * time.Millisecond) // past the 1s lease + reaper tick

	redelivered, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, leased.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestLocal_ExtendVisibilityProlongsLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	job := NewJob("q1", nil)
	job.VisibilityTimeoutSeconds = 1
	require.NoError(t, q.Enqueue(ctx, job))

	leased, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.ExtendVisibility(ctx, leased, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(1500 * time.Millisecond) // past the original 1s, not the extension

	_, ok, err = q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok, "extended lease must not have been reaped yet")
}

func TestLocal_ExtendVisibilityFailsAfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewLocal()
	defer q.Close()

	job := NewJob("q1", nil)
	job.VisibilityTimeoutSeconds = 1
	require.NoError(t, q.Enqueue(ctx, job))

	leased, ok, err := q.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(2500 * time.Millisecond)

	ok, err = q.ExtendVisibility(ctx, leased, 5)
	require.NoError(t, err)
	assert.False(t, ok, "lease already expired and redelivered")
}
