package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/workload"
)

// ActiveUserLister resolves the set of users a due Experience should fan out
// to. User identity and membership are out of scope for this module (spec.md
// §1), so the scheduler depends only on this narrow collaborator, the same
// way C7 depends on TextExtractor/Embedder/LLMClient rather than owning
// those concerns itself.
type ActiveUserLister interface {
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// ExperienceSource is the "scheduled experience" schedulable source
// (spec.md §4.9): due experiences fan out to one ExperienceRun plus one
// LLM_WORKFLOW job per active user, and next_run_at advances exactly once
// per experience regardless of how many (or how few) users it reached.
type ExperienceSource struct {
	Store   ragstore.ExperienceStore
	Users   ActiveUserLister
	Workers int
}

func (s *ExperienceSource) Name() string { return "experience" }

// CleanupStale is a no-op for experiences: an ExperienceRun has no
// heartbeat of its own, it only reflects the state of the LLM_WORKFLOW job
// driving it, which the workerrt retry/backoff policy already reclaims.
func (s *ExperienceSource) CleanupStale(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *ExperienceSource) EnqueueDue(ctx context.Context, q queue.Queue, limit int) (Counters, error) {
	var c Counters
	experiences, err := s.Store.ClaimDueExperiences(ctx, limit)
	if err != nil {
		return c, err
	}
	c.Claimed = len(experiences)

	for _, exp := range experiences {
		userIDs, err := s.Users.ActiveUserIDs(ctx)
		if err != nil {
			log.Warn().Err(err).Str("experience_id", exp.ID).Msg("experience_active_users_failed")
			userIDs = nil
		}

		for _, userID := range userIDs {
			run, err := s.Store.CreateExperienceRun(ctx, ragmodel.ExperienceRun{
				ID:           uuid.NewString(),
				ExperienceID: exp.ID,
				UserID:       userID,
				Status:       ragmodel.RunQueued,
			})
			if err != nil {
				return c, err
			}
			if _, err := workload.EnqueueJob(ctx, q, workload.LLMWorkflow, map[string]any{
				"action":        "experience_run",
				"run_id":        run.ID,
				"experience_id": exp.ID,
				"user_id":       userID,
				"steps":         exp.Steps,
			}, nil); err != nil {
				return c, err
			}
			c.Enqueued++
		}

		next := nextRunFor(exp)
		exp.NextRunAt = &next
		last := time.Now().UTC()
		exp.LastRunAt = &last
		if err := s.Store.UpdateExperience(ctx, exp); err != nil {
			return c, err
		}
	}
	return c, nil
}

func nextRunFor(exp ragmodel.Experience) time.Time {
	interval := 3600
	if exp.TriggerConfig != nil {
		if v, ok := exp.TriggerConfig["interval_seconds"].(float64); ok && v > 0 {
			interval = int(v)
		}
	}
	return time.Now().UTC().Add(time.Duration(interval) * time.Second)
}
