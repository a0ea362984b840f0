package ragstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ragcore/internal/ragmodel"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// ClaimDuePluginFeeds locks due feeds with FOR UPDATE SKIP LOCKED so two
// scheduler instances ticking at the same moment split a due batch instead
// of both scanning it (spec.md §4.9, "unified scheduler tick loop"). That
// row lock only covers this statement's own implicit transaction — it
// releases before the caller's HasPendingOrRunning/CreatePluginExecution
// follow-up runs, so it alone cannot prevent two replicas from both
// passing the idempotency check for the same feed. The actual
// non-duplication guarantee is plugin_executions_schedule_active_idx (see
// schema.go), a partial unique index that makes the loser of that race
// fail its insert with ErrConflict instead of creating a second execution.
func (p *Postgres) ClaimDuePluginFeeds(ctx context.Context, limit int) ([]ragmodel.PluginFeed, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, plugin_name, agent_key, owner_user_id, params,
		       interval_seconds, enabled, next_run_at, last_run_at
		FROM plugin_feeds
		WHERE enabled = true AND (next_run_at IS NULL OR next_run_at <= now())
		ORDER BY next_run_at NULLS FIRST
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ragmodel.PluginFeed
	for rows.Next() {
		var f ragmodel.PluginFeed
		if err := rows.Scan(&f.ID, &f.Name, &f.PluginName, &f.AgentKey, &f.OwnerUserID,
			&f.Params, &f.IntervalSeconds, &f.Enabled, &f.NextRunAt, &f.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) HasPendingOrRunning(ctx context.Context, scheduleID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM plugin_executions
			WHERE schedule_id=$1 AND status IN ('pending','running')
		)`, scheduleID).Scan(&exists)
	return exists, err
}

// CreatePluginExecution inserts a new execution row. If another replica won
// the race to claim this schedule_id first — the plugin_executions_schedule_active_idx
// partial unique index rejects a second pending/running row for the same
// schedule_id — it returns ErrConflict rather than a raw pgconn error, so
// the scheduler can treat the loss as an ordinary skip.
func (p *Postgres) CreatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) (ragmodel.PluginExecution, error) {
	if e.Status == "" {
		e.Status = ragmodel.ExecPending
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO plugin_executions
			(id, schedule_id, plugin_name, user_id, agent_key, params, status,
			 started_at, completed_at, error, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())`,
		e.ID, e.ScheduleID, e.PluginName, e.UserID, e.AgentKey, e.Params, e.Status,
		e.StartedAt, e.CompletedAt, e.Error)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ragmodel.PluginExecution{}, ErrConflict
		}
		return ragmodel.PluginExecution{}, err
	}
	return e, nil
}

func (p *Postgres) GetPluginExecution(ctx context.Context, id string) (ragmodel.PluginExecution, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, schedule_id, plugin_name, user_id, agent_key, params, status,
		       started_at, completed_at, error, updated_at
		FROM plugin_executions WHERE id=$1`, id)
	var e ragmodel.PluginExecution
	err := row.Scan(&e.ID, &e.ScheduleID, &e.PluginName, &e.UserID, &e.AgentKey, &e.Params,
		&e.Status, &e.StartedAt, &e.CompletedAt, &e.Error, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ragmodel.PluginExecution{}, ErrNotFound
	}
	return e, err
}

func (p *Postgres) UpdatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE plugin_executions SET
			status=$2, started_at=$3, completed_at=$4, error=$5, updated_at=now()
		WHERE id=$1`,
		e.ID, e.Status, e.StartedAt, e.CompletedAt, e.Error)
	return err
}

// ReclaimStaleRunning marks RUNNING executions whose heartbeat (updated_at)
// is older than staleAfterSeconds as FAILED with reason "stale_timeout"
// (spec.md §4.9's cleanup_stale), since a heartbeat that stopped advancing
// means the worker holding the job died without a chance to reject it.
func (p *Postgres) ReclaimStaleRunning(ctx context.Context, staleAfterSeconds int) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE plugin_executions
		SET status='failed', error='stale_timeout', completed_at=now(), updated_at=now()
		WHERE status='running' AND updated_at < now() - ($1 || ' seconds')::interval`,
		staleAfterSeconds)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) UpdatePluginFeedSchedule(ctx context.Context, feedID string, nextRunAt, lastRunAt *time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE plugin_feeds SET next_run_at=$2, last_run_at=$3 WHERE id=$1`,
		feedID, nextRunAt, lastRunAt)
	return err
}

func (p *Postgres) ClaimDueExperiences(ctx context.Context, limit int) ([]ragmodel.Experience, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, trigger_type, trigger_config, visibility, steps,
		       model_configuration_id, created_by, next_run_at, last_run_at
		FROM experiences
		WHERE trigger_type IN ('scheduled', 'cron')
		  AND visibility IN ('published', 'admin_only')
		  AND (next_run_at IS NULL OR next_run_at <= now())
		ORDER BY next_run_at NULLS FIRST
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ragmodel.Experience
	for rows.Next() {
		var e ragmodel.Experience
		var stepsJSON []map[string]any
		if err := rows.Scan(&e.ID, &e.Name, &e.TriggerType, &e.TriggerConfig, &e.Visibility,
			&stepsJSON, &e.ModelConfigurationID, &e.CreatedBy, &e.NextRunAt, &e.LastRunAt); err != nil {
			return nil, err
		}
		e.Steps = stepsJSON
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) GetExperience(ctx context.Context, id string) (ragmodel.Experience, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, trigger_type, trigger_config, visibility, steps,
		       model_configuration_id, created_by, next_run_at, last_run_at
		FROM experiences WHERE id=$1`, id)
	var e ragmodel.Experience
	var stepsJSON []map[string]any
	err := row.Scan(&e.ID, &e.Name, &e.TriggerType, &e.TriggerConfig, &e.Visibility,
		&stepsJSON, &e.ModelConfigurationID, &e.CreatedBy, &e.NextRunAt, &e.LastRunAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ragmodel.Experience{}, ErrNotFound
	}
	e.Steps = stepsJSON
	return e, err
}

func (p *Postgres) UpdateExperience(ctx context.Context, e ragmodel.Experience) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE experiences SET
			name=$2, trigger_config=$3, visibility=$4, steps=$5,
			model_configuration_id=$6, next_run_at=$7, last_run_at=$8
		WHERE id=$1`,
		e.ID, e.Name, e.TriggerConfig, e.Visibility, e.Steps,
		e.ModelConfigurationID, e.NextRunAt, e.LastRunAt)
	return err
}

func (p *Postgres) CreateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) (ragmodel.ExperienceRun, error) {
	if r.Status == "" {
		r.Status = ragmodel.RunQueued
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO experience_runs
			(id, experience_id, user_id, status, input_params, step_states,
			 step_outputs, result_metadata, error_message, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.ExperienceID, r.UserID, r.Status, r.InputParams, r.StepStates,
		r.StepOutputs, r.ResultMetadata, r.ErrorMessage, r.FinishedAt)
	if err != nil {
		return ragmodel.ExperienceRun{}, err
	}
	return r, nil
}

func (p *Postgres) UpdateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE experience_runs SET
			status=$2, step_states=$3, step_outputs=$4, result_metadata=$5,
			error_message=$6, finished_at=$7
		WHERE id=$1`,
		r.ID, r.Status, r.StepStates, r.StepOutputs, r.ResultMetadata,
		r.ErrorMessage, r.FinishedAt)
	return err
}
