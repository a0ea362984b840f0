package pluginhost

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/errkind"
	"ragcore/internal/ingestion"
	"ragcore/internal/kbsearch"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/ratelimit"
	"ragcore/internal/textextract"
	"ragcore/internal/workerrt"
)

// RunnerConfig tunes a Runner's capability-surface defaults and its
// provider-rate-limit backoff.
type RunnerConfig struct {
	Host                Config
	RetryBackoffSeconds int
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.RetryBackoffSeconds <= 0 {
		c.RetryBackoffSeconds = 30
	}
	return c
}

// Runner drives PluginExecution rows from claim to completion: the
// INGESTION queue's "plugin_feed_execution" handler (spec.md §4.10).
type Runner struct {
	Store     ragstore.Store
	Registry  *Registry
	Ingestion *ingestion.Service
	Search    *kbsearch.Service
	Limiter   *ratelimit.Limiter
	Access    AccessChecker
	Queue     queue.Queue
	Cfg       RunnerConfig
	// OAuth resolves a plugin-connected account's stored refresh token
	// into a live access token for secrets.get (spec.md §4.10). Nil
	// disables refreshing: secrets.get then returns every secret's raw
	// stored value.
	OAuth *TokenRefresher
}

// NewRunner builds a Runner, applying Cfg defaults.
func NewRunner(store ragstore.Store, registry *Registry, ingest *ingestion.Service, search *kbsearch.Service, limiter *ratelimit.Limiter, access AccessChecker, q queue.Queue, cfg RunnerConfig) *Runner {
	return &Runner{Store: store, Registry: registry, Ingestion: ingest, Search: search, Limiter: limiter, Access: access, Queue: q, Cfg: cfg.withDefaults()}
}

func payloadString(job queue.Job, key string) string {
	if job.Payload == nil {
		return ""
	}
	v, _ := job.Payload[key].(string)
	return v
}

func payloadParams(job queue.Job) map[string]any {
	if job.Payload == nil {
		return nil
	}
	p, _ := job.Payload["params"].(map[string]any)
	return p
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// boundKnowledgeBases resolves the Context's bound KB set: a feed
// execution is bound to the single KB named in the feed's params (the
// schedule's own scope, carried onto the job by
// scheduler.PluginSource.EnqueueDue); any other execution is bound to the
// caller-supplied knowledge_base_ids.
func boundKnowledgeBases(scheduleID string, params map[string]any) []string {
	if scheduleID != "" {
		if kbID, ok := params["kb_id"].(string); ok && kbID != "" {
			return []string{kbID}
		}
		return nil
	}
	return toStringSlice(params["knowledge_base_ids"])
}

// HandleExecution is the worker's dispatch handler for
// workload.Ingestion's "plugin_feed_execution" jobs.
func (r *Runner) HandleExecution(ctx context.Context, job queue.Job) error {
	executionID := payloadString(job, "execution_id")
	scheduleID := payloadString(job, "schedule_id")
	pluginName := payloadString(job, "plugin_name")
	userID := payloadString(job, "user_id")
	params := payloadParams(job)

	exec, err := r.Store.GetPluginExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != ragmodel.ExecPending {
		// Already claimed by another delivery of the same job: the
		// PENDING guard is what prevents double-execution (spec.md §4.10).
		log.Warn().Str("execution_id", executionID).Str("status", string(exec.Status)).Msg("plugin_execution_not_pending_skip")
		return nil
	}

	now := time.Now().UTC()
	exec.Status = ragmodel.ExecRunning
	exec.StartedAt = &now
	exec.UpdatedAt = now
	if err := r.Store.UpdatePluginExecution(ctx, exec); err != nil {
		return err
	}

	stop := workerrt.Heartbeat(ctx, r.Queue, job, func(hbCtx context.Context) error {
		e, err := r.Store.GetPluginExecution(hbCtx, executionID)
		if err != nil {
			return err
		}
		e.UpdatedAt = time.Now().UTC()
		return r.Store.UpdatePluginExecution(hbCtx, e)
	})
	defer stop()

	ep, ok := r.Registry.Lookup(pluginName)
	if !ok {
		return r.fail(ctx, exec, "plugin_not_registered_or_disabled")
	}

	hostCtx := Context{
		PluginName:       pluginName,
		UserID:           userID,
		ScheduleID:       scheduleID,
		KnowledgeBaseIDs: boundKnowledgeBases(scheduleID, params),
		OCRMode:          textextract.Mode(payloadString(job, "ocr_mode")),
	}
	host := New(hostCtx, r.Cfg.Host, r.Ingestion, r.Search, r.Store, r.Limiter, r.Access, r.OAuth)

	_, runErr := ep.Execute(ctx, host, params)
	if runErr != nil {
		if errkind.Is(runErr, errkind.RateLimited) {
			return r.requeueWithBackoff(ctx, exec, runErr)
		}
		return r.fail(ctx, exec, runErr.Error())
	}
	return r.complete(ctx, exec)
}

func (r *Runner) complete(ctx context.Context, exec ragmodel.PluginExecution) error {
	now := time.Now().UTC()
	exec.Status = ragmodel.ExecCompleted
	exec.CompletedAt = &now
	exec.Error = ""
	exec.UpdatedAt = now
	return r.Store.UpdatePluginExecution(ctx, exec)
}

// fail marks exec FAILED and acknowledges the job: a plugin business-logic
// failure is terminal for this execution, not a queue-level retry
// candidate (the feed's next scheduled tick is the retry mechanism).
func (r *Runner) fail(ctx context.Context, exec ragmodel.PluginExecution, message string) error {
	now := time.Now().UTC()
	exec.Status = ragmodel.ExecFailed
	exec.CompletedAt = &now
	exec.Error = message
	exec.UpdatedAt = now
	return r.Store.UpdatePluginExecution(ctx, exec)
}

// requeueWithBackoff resets exec to PENDING with a future started_at and
// returns the underlying error so the queue backend re-enqueues the job
// (spec.md §4.10). The queue abstraction has no native delayed-delivery
// primitive, so the backoff is recorded for observability; actual
// redelivery timing is governed by the job's existing
// visibility/attempts contract.
func (r *Runner) requeueWithBackoff(ctx context.Context, exec ragmodel.PluginExecution, cause error) error {
	backoff := time.Duration(r.Cfg.RetryBackoffSeconds) * time.Second
	restart := time.Now().UTC().Add(backoff)
	exec.Status = ragmodel.ExecPending
	exec.StartedAt = &restart
	exec.UpdatedAt = time.Now().UTC()
	if err := r.Store.UpdatePluginExecution(ctx, exec); err != nil {
		return err
	}
	log.Warn().Str("execution_id", exec.ID).Err(cause).Dur("backoff", backoff).Msg("plugin_execution_rate_limited_requeue")
	return cause
}
