package ragstore

import "context"

// ensureSchema creates the tables this package depends on if they don't
// already exist. Mirrors the teacher's NewPostgresVector pattern of
// idempotent DDL run at construction time rather than a separate
// migration tool, since this module has no webui-style migration runner.
func ensureSchema(ctx context.Context, p pgxIface) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			sync_enabled BOOLEAN NOT NULL DEFAULT false,
			embedding_model TEXT NOT NULL DEFAULT '',
			chunk_size INT NOT NULL DEFAULT 1000,
			chunk_overlap INT NOT NULL DEFAULT 200,
			status TEXT NOT NULL DEFAULT 'active',
			document_count INT NOT NULL DEFAULT 0,
			total_chunks INT NOT NULL DEFAULT 0,
			owner_id TEXT NOT NULL DEFAULT '',
			rag_config JSONB NOT NULL DEFAULT '{}'::jsonb,
			title_chunk_enabled BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			knowledge_base_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			source_type TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			source_hash TEXT NOT NULL DEFAULT '',
			processing_status TEXT NOT NULL DEFAULT 'pending',
			processing_error TEXT NOT NULL DEFAULT '',
			extraction_meta JSONB NOT NULL DEFAULT '{}'::jsonb,
			source_url TEXT NOT NULL DEFAULT '',
			source_modified_at TIMESTAMPTZ,
			processed_at TIMESTAMPTZ,
			word_count INT NOT NULL DEFAULT 0,
			character_count INT NOT NULL DEFAULT 0,
			chunk_count INT NOT NULL DEFAULT 0,
			synopsis TEXT NOT NULL DEFAULT '',
			synopsis_embedding vector,
			document_type TEXT NOT NULL DEFAULT '',
			capability_manifest JSONB NOT NULL DEFAULT '{}'::jsonb,
			profiling_status TEXT NOT NULL DEFAULT 'pending',
			profiling_coverage_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			relational_context JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (knowledge_base_id, source_type, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			knowledge_base_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			embedding vector,
			char_count INT NOT NULL DEFAULT 0,
			word_count INT NOT NULL DEFAULT 0,
			start_char INT NOT NULL DEFAULT 0,
			end_char INT NOT NULL DEFAULT 0,
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_created_at TIMESTAMPTZ,
			chunk_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			chunk_type TEXT NOT NULL DEFAULT 'content',
			summary TEXT NOT NULL DEFAULT '',
			keywords TEXT[] NOT NULL DEFAULT '{}',
			topics TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS document_queries (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			knowledge_base_id TEXT NOT NULL,
			query_text TEXT NOT NULL,
			query_embedding vector
		)`,
		`CREATE TABLE IF NOT EXISTS plugin_feeds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			plugin_name TEXT NOT NULL,
			agent_key TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL DEFAULT '',
			params JSONB NOT NULL DEFAULT '{}'::jsonb,
			interval_seconds INT NOT NULL DEFAULT 3600,
			enabled BOOLEAN NOT NULL DEFAULT true,
			next_run_at TIMESTAMPTZ,
			last_run_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS plugin_executions (
			id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL REFERENCES plugin_feeds(id) ON DELETE CASCADE,
			plugin_name TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			agent_key TEXT NOT NULL DEFAULT '',
			params JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL DEFAULT 'pending',
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// Compensates for ClaimDuePluginFeeds's row lock releasing at the
		// end of its own statement: HasPendingOrRunning + CreatePluginExecution
		// run as separate, unprotected statements afterward, so two
		// scheduler replicas can both pass the idempotency check before
		// either inserts. This partial unique index makes the second
		// INSERT fail instead, so at most one pending/running execution
		// per schedule ever exists (spec.md §3, §4.9).
		`CREATE UNIQUE INDEX IF NOT EXISTS plugin_executions_schedule_active_idx
			ON plugin_executions(schedule_id) WHERE status IN ('pending','running')`,
		`CREATE TABLE IF NOT EXISTS experiences (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			trigger_type TEXT NOT NULL DEFAULT 'manual',
			trigger_config JSONB NOT NULL DEFAULT '{}'::jsonb,
			visibility TEXT NOT NULL DEFAULT 'draft',
			steps JSONB NOT NULL DEFAULT '[]'::jsonb,
			model_configuration_id TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			next_run_at TIMESTAMPTZ,
			last_run_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS experience_runs (
			id TEXT PRIMARY KEY,
			experience_id TEXT NOT NULL REFERENCES experiences(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued',
			input_params JSONB NOT NULL DEFAULT '{}'::jsonb,
			step_states JSONB NOT NULL DEFAULT '{}'::jsonb,
			step_outputs JSONB NOT NULL DEFAULT '{}'::jsonb,
			result_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			error_message TEXT NOT NULL DEFAULT '',
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS plugin_secrets (
			plugin_name TEXT NOT NULL,
			scope TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (plugin_name, scope, user_id, key)
		)`,
	}
	for _, s := range stmts {
		if _, err := p.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
