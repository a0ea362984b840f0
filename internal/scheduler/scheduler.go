package scheduler

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

// TickResult records one pass over every Source, kept in a bounded
// in-memory ring for observability (spec.md §4.9: "the last 500 ticks").
type TickResult struct {
	At      time.Time
	Sources map[string]Counters
	Errors  map[string]string
}

// Config configures a Scheduler.
type Config struct {
	TickInterval time.Duration // default 60s
	ClaimLimit   int           // per-source claim batch size, default 50
	HistorySize  int           // default 500
}

// Scheduler runs the unified tick loop: on every tick, each registered
// Source first reclaims stale work, then claims and dispatches due work.
// Safe to run from multiple replicas concurrently — every claim goes
// through FOR UPDATE SKIP LOCKED at the store layer, so two replicas
// ticking at once simply split the due work instead of double-processing
// it (spec.md §4.9).
type Scheduler struct {
	sources []Source
	q       queue.Queue
	cfg     Config

	mu      sync.Mutex
	history []TickResult

	// Telemetry reports a span per tick (spec.md's telemetry ambient-stack
	// bullet). A nil Telemetry is a silent no-op.
	Telemetry *telemetry.Metrics
}

func New(q queue.Queue, sources []Source, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 50
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	return &Scheduler{sources: sources, q: q, cfg: cfg}
}

// Run ticks every cfg.TickInterval until ctx is canceled or a shutdown
// signal arrives.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(runCtx)
	for {
		select {
		case <-runCtx.Done():
			log.Info().Msg("scheduler_shutdown")
			return nil
		case <-ticker.C:
			s.tick(runCtx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, span := s.Telemetry.StartSpan(ctx, "scheduler.tick")
	defer span.End()

	result := TickResult{
		At:      now(),
		Sources: make(map[string]Counters, len(s.sources)),
		Errors:  make(map[string]string),
	}

	for _, src := range s.sources {
		reclaimed, err := src.CleanupStale(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("scheduler_cleanup_stale_failed")
			result.Errors[src.Name()] = err.Error()
			continue
		}

		counters, err := src.EnqueueDue(ctx, s.q, s.cfg.ClaimLimit)
		counters.StaleReclaimed = reclaimed
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("scheduler_enqueue_due_failed")
			result.Errors[src.Name()] = err.Error()
		}
		result.Sources[src.Name()] = counters

		log.Info().
			Str("source", src.Name()).
			Int("claimed", counters.Claimed).
			Int("enqueued", counters.Enqueued).
			Int("skipped_missing_plugin", counters.SkippedMissingPlugin).
			Int("skipped_idempotent", counters.SkippedIdempotent).
			Int("stale_reclaimed", counters.StaleReclaimed).
			Msg("scheduler_tick_source")
	}

	s.recordHistory(result)
}

func (s *Scheduler) recordHistory(r TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

// History returns a copy of the most recent ticks, oldest first.
func (s *Scheduler) History() []TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TickResult, len(s.history))
	copy(out, s.history)
	return out
}

func now() time.Time { return time.Now().UTC() }
