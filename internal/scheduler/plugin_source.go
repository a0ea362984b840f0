package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ragcore/internal/ingestevents"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/workload"
)

// PluginRegistry reports whether a plugin name is currently registered and
// enabled, used by PluginSource.EnqueueDue to skip feeds for plugins that
// have been removed or disabled since the feed was created (spec.md
// §4.9). The concrete plugin registry lives outside this package's scope
// (C10's plugin loading is a deployment concern); tests and simple
// deployments can use AllowAllRegistry.
type PluginRegistry interface {
	IsRegisteredAndEnabled(pluginName string) bool
}

// AllowAllRegistry treats every plugin name as registered and enabled.
type AllowAllRegistry struct{}

func (AllowAllRegistry) IsRegisteredAndEnabled(string) bool { return true }

// PluginSource is the "plugin feed" schedulable source (spec.md §4.9).
type PluginSource struct {
	Store               ragstore.PluginExecutionStore
	Registry            PluginRegistry
	FallbackOwnerID     string
	StaleTimeoutSeconds int
	// Events publishes an enqueue/skip decision for every claimed feed
	// (SPEC_FULL.md DOMAIN STACK). A nil *ingestevents.Publisher is safe
	// to call and drops every event.
	Events *ingestevents.Publisher
}

// publishDecision reuses DocumentStatusChanged to report a feed's
// enqueue/skip decision: FeedID plays the role of DocumentID since a
// plugin feed, not a document, is what moved through the scheduler here.
func (s *PluginSource) publishDecision(ctx context.Context, feedID, pluginName, decision string) {
	s.Events.PublishStatusChanged(ctx, ingestevents.DocumentStatusChanged{
		DocumentID: feedID,
		FromStatus: "due",
		ToStatus:   decision,
		Reason:     pluginName,
	})
}

func (s *PluginSource) Name() string { return "plugin_feed" }

func (s *PluginSource) CleanupStale(ctx context.Context) (int, error) {
	if s.StaleTimeoutSeconds <= 0 {
		s.StaleTimeoutSeconds = 900
	}
	return s.Store.ReclaimStaleRunning(ctx, s.StaleTimeoutSeconds)
}

// EnqueueDue claims due plugin feeds and, for each, either skips it (no
// registered plugin, no owner, or a pending/running execution already
// exists) or creates a PluginExecution and enqueues an INGESTION job
// (spec.md §4.9). next_run_at/last_run_at always advance, even on skip.
func (s *PluginSource) EnqueueDue(ctx context.Context, q queue.Queue, limit int) (Counters, error) {
	var c Counters
	feeds, err := s.Store.ClaimDuePluginFeeds(ctx, limit)
	if err != nil {
		return c, err
	}
	c.Claimed = len(feeds)

	for _, feed := range feeds {
		nextRun, lastRun := scheduleNext(feed)

		if s.Registry != nil && !s.Registry.IsRegisteredAndEnabled(feed.PluginName) {
			c.SkippedMissingPlugin++
			log.Warn().Str("feed_id", feed.ID).Str("plugin_name", feed.PluginName).Msg("plugin_feed_missing_plugin")
			s.publishDecision(ctx, feed.ID, feed.PluginName, "skipped_missing_plugin")
			if err := s.Store.UpdatePluginFeedSchedule(ctx, feed.ID, nextRun, lastRun); err != nil {
				return c, err
			}
			continue
		}

		ownerID := feed.OwnerUserID
		if ownerID == "" {
			ownerID = s.FallbackOwnerID
		}
		if ownerID == "" {
			c.SkippedMissingPlugin++
			log.Warn().Str("feed_id", feed.ID).Msg("plugin_feed_no_owner")
			s.publishDecision(ctx, feed.ID, feed.PluginName, "skipped_no_owner")
			if err := s.Store.UpdatePluginFeedSchedule(ctx, feed.ID, nextRun, lastRun); err != nil {
				return c, err
			}
			continue
		}

		pending, err := s.Store.HasPendingOrRunning(ctx, feed.ID)
		if err != nil {
			return c, err
		}
		if pending {
			c.SkippedIdempotent++
			s.publishDecision(ctx, feed.ID, feed.PluginName, "skipped_pending_or_running")
			if err := s.Store.UpdatePluginFeedSchedule(ctx, feed.ID, nextRun, lastRun); err != nil {
				return c, err
			}
			continue
		}

		execution, err := s.Store.CreatePluginExecution(ctx, ragmodel.PluginExecution{
			ID:         uuid.NewString(),
			ScheduleID: feed.ID,
			PluginName: feed.PluginName,
			UserID:     ownerID,
			AgentKey:   feed.AgentKey,
			Params:     feed.Params,
			Status:     ragmodel.ExecPending,
		})
		if errors.Is(err, ragstore.ErrConflict) {
			// Another replica's CreatePluginExecution won the race for
			// this schedule_id between our own HasPendingOrRunning check
			// and this insert — treat it exactly like the pending/running
			// skip above (spec.md §4.9's non-duplication guarantee).
			c.SkippedIdempotent++
			log.Info().Str("feed_id", feed.ID).Msg("plugin_feed_claim_lost_to_concurrent_scheduler")
			s.publishDecision(ctx, feed.ID, feed.PluginName, "skipped_claim_conflict")
			if err := s.Store.UpdatePluginFeedSchedule(ctx, feed.ID, nextRun, lastRun); err != nil {
				return c, err
			}
			continue
		}
		if err != nil {
			return c, err
		}

		if _, err := workload.EnqueueJob(ctx, q, workload.Ingestion, map[string]any{
			"action":       "plugin_feed_execution",
			"execution_id": execution.ID,
			"schedule_id":  feed.ID,
			"plugin_name":  feed.PluginName,
			"user_id":      ownerID,
			"agent_key":    feed.AgentKey,
			"params":       feed.Params,
		}, nil); err != nil {
			return c, err
		}
		c.Enqueued++
		s.publishDecision(ctx, feed.ID, feed.PluginName, "enqueued")

		if err := s.Store.UpdatePluginFeedSchedule(ctx, feed.ID, nextRun, lastRun); err != nil {
			return c, err
		}
	}
	return c, nil
}

func scheduleNext(feed ragmodel.PluginFeed) (nextRunAt, lastRunAt *time.Time) {
	interval := feed.IntervalSeconds
	if interval <= 0 {
		interval = 3600
	}
	n := time.Now().UTC()
	next := n.Add(time.Duration(interval) * time.Second)
	return &next, &n
}
