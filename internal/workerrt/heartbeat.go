package workerrt

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/queue"
)

// HeartbeatInterval is how often a long-running stage handler touches its
// tracking record and extends the job's lease (spec.md §4.6).
const HeartbeatInterval = 60 * time.Second

// HeartbeatExtension is how far extend_visibility pushes the lease out on
// each beat.
const HeartbeatExtension = 120

// TouchFunc updates the corresponding DB tracking record's updated_at.
type TouchFunc func(ctx context.Context) error

// Heartbeat periodically touches a tracking record and extends the job's
// queue lease, for stage handlers expected to outlive a single visibility
// window (plugin executions, LLM profiling). Call the returned stop
// function when the job finishes, success or failure.
func Heartbeat(ctx context.Context, q queue.Queue, job queue.Job, touch TouchFunc) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if touch != nil {
					if err := touch(hbCtx); err != nil {
						log.Warn().Err(err).Str("job_id", job.ID).Msg("heartbeat_touch_failed")
					}
				}
				ok, err := q.ExtendVisibility(hbCtx, job, HeartbeatExtension)
				if err != nil {
					log.Warn().Err(err).Str("job_id", job.ID).Msg("heartbeat_extend_visibility_error")
					continue
				}
				if !ok {
					log.Warn().Str("job_id", job.ID).Msg("heartbeat_extend_visibility_lost_lease")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
