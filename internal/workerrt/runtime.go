// Package workerrt implements the per-process long-lived job consumer
// (C5): round-robin polling across queues, a process-shared capacity
// limiter per workload type, a dispatch table, and graceful shutdown on
// SIGTERM/SIGINT. Grounded on the worker-pool/backoff shape of the
// teacher's Kafka consumer, adapted to a lease-based queue.Queue.
package workerrt

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/queue"
	"ragcore/internal/telemetry"
)

// Handler processes one dequeued job. Returning nil acknowledges the job;
// returning an error triggers the bounded-retry reject contract.
type Handler func(ctx context.Context, job queue.Job) error

// QueueSpec binds a queue name to its workload type (for capacity
// accounting) and dispatch handler.
type QueueSpec struct {
	QueueName    string
	WorkloadType string
	Handler      Handler
}

// Config configures a Runtime.
type Config struct {
	Queues          []QueueSpec
	Concurrency     int           // number of cooperative workers sharing the limiter
	PollInterval    time.Duration // sleep when a round-robin pass finds nothing to do
	ShutdownTimeout time.Duration
	// CapacityLimits bounds concurrent in-flight jobs per workload type; 0
	// or absent means unlimited.
	CapacityLimits map[string]int
}

// Runtime is a single worker process serving a fixed set of queues.
type Runtime struct {
	q       queue.Queue
	cfg     Config
	limiter *capacityLimiter

	mu        sync.Mutex
	lastIndex int

	shuttingDown chan struct{}
	shutdownOnce sync.Once

	// Telemetry reports per-dispatch spans and job processed/acked/rejected
	// and queue-depth metrics (spec.md's telemetry ambient-stack bullet). A
	// nil Telemetry (the zero value) is a silent no-op.
	Telemetry *telemetry.Metrics
}

// New builds a Runtime over q with the given configuration, applying
// defaults for PollInterval/ShutdownTimeout/Concurrency when zero.
func New(q queue.Queue, cfg Config) *Runtime {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runtime{
		q:            q,
		cfg:          cfg,
		limiter:      newCapacityLimiter(cfg.CapacityLimits),
		shuttingDown: make(chan struct{}),
		lastIndex:    -1,
	}
}

// Run starts cfg.Concurrency cooperative workers and blocks until ctx is
// canceled or a shutdown signal is observed (when installSignals is true,
// the Runtime installs its own SIGTERM/SIGINT handler; pass false when the
// caller already owns signal handling, so multiple runtimes in one process
// share a single installation).
func (r *Runtime) Run(ctx context.Context, installSignals bool) error {
	runCtx := ctx
	var stop context.CancelFunc
	if installSignals {
		runCtx, stop = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer stop()
	}

	var wg sync.WaitGroup
	wg.Add(r.cfg.Concurrency)
	for i := 0; i < r.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			r.workerLoop(runCtx, workerID)
		}(i)
	}

	<-runCtx.Done()
	log.Info().Msg("worker_runtime_shutdown_signal_received")
	r.shutdownOnce.Do(func() { close(r.shuttingDown) })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("worker_runtime_shutdown_clean")
		return nil
	case <-time.After(r.cfg.ShutdownTimeout):
		log.Warn().Msg("worker_runtime_shutdown_timeout_exceeded")
		return context.DeadlineExceeded
	}
}

// workerLoop is the per-worker round-robin poll loop (spec.md §4.6).
func (r *Runtime) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := r.pollOnce(ctx, workerID)
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}
}

// pollOnce advances the shared round-robin index by one queue and
// attempts to process a single job from it, returning whether a job was
// found (processed or not — starvation avoidance requires the index to
// advance regardless of outcome).
func (r *Runtime) pollOnce(ctx context.Context, workerID int) bool {
	n := len(r.cfg.Queues)
	if n == 0 {
		return false
	}

	r.mu.Lock()
	r.lastIndex = (r.lastIndex + 1) % n
	idx := r.lastIndex
	r.mu.Unlock()

	spec := r.cfg.Queues[idx]

	if !r.limiter.TryAcquire(spec.WorkloadType) {
		return false
	}

	if depth, derr := r.q.Depth(ctx, spec.QueueName); derr == nil {
		r.Telemetry.RecordQueueDepth(ctx, spec.QueueName, int64(depth))
	}

	job, ok, err := r.q.Dequeue(ctx, spec.QueueName)
	if err != nil {
		r.limiter.Release(spec.WorkloadType)
		log.Warn().Err(err).Str("queue", spec.QueueName).Msg("worker_dequeue_failed")
		return false
	}
	if !ok {
		r.limiter.Release(spec.WorkloadType)
		return false
	}

	r.processJob(ctx, workerID, spec, job)
	r.limiter.Release(spec.WorkloadType)
	return true
}

// processJob runs the dispatch handler and applies the ack/reject
// contract: on success acknowledge; on error, requeue while attempts
// remain, otherwise discard.
func (r *Runtime) processJob(ctx context.Context, workerID int, spec QueueSpec, job queue.Job) {
	logCtx := log.With().
		Int("worker", workerID).
		Str("queue", spec.QueueName).
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Logger()

	ctx, span := r.Telemetry.StartSpan(ctx, "workerrt.dispatch")
	defer span.End()
	r.Telemetry.RecordJobProcessed(ctx, spec.WorkloadType)

	err := spec.Handler(ctx, job)
	if err == nil {
		r.Telemetry.RecordJobAcked(ctx, spec.WorkloadType)
		if ackErr := r.q.Acknowledge(ctx, job); ackErr != nil {
			logCtx.Warn().Err(ackErr).Msg("worker_acknowledge_failed")
		}
		return
	}

	logCtx.Warn().Err(err).Msg("worker_job_handler_failed")
	requeue := job.Attempts < job.MaxAttempts
	r.Telemetry.RecordJobRejected(ctx, spec.WorkloadType, requeue)
	if rejErr := r.q.Reject(ctx, job, requeue); rejErr != nil {
		logCtx.Warn().Err(rejErr).Bool("requeue", requeue).Msg("worker_reject_failed")
	}
	if !requeue {
		logCtx.Error().Msg("worker_job_discarded_after_max_attempts")
	}
}
