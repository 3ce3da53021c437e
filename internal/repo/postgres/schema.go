package postgres

import (
	"context"
	"fmt"
)

// Schema owned by the orchestrator. Statements are idempotent; the service
// applies them at startup before reconciling the pipeline definition.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		artifact_type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		brief TEXT NOT NULL,
		status TEXT NOT NULL,
		current_step_order INTEGER,
		awaiting_decision BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		artifact_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		content JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, artifact_type, version)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_artifacts_run_type_version
		ON artifacts (run_id, artifact_type, version DESC)`,
	`CREATE TABLE IF NOT EXISTS step_executions (
		execution_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL,
		step_slug TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		is_feedback BOOLEAN NOT NULL DEFAULT FALSE,
		feedback_text TEXT,
		status TEXT NOT NULL,
		request_payload JSONB NOT NULL,
		response_message TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		UNIQUE (run_id, step_order, attempt)
	)`,
	`CREATE TABLE IF NOT EXISTS step_logs (
		log_id BIGSERIAL PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES step_executions(execution_id) ON DELETE CASCADE,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_step_logs_execution
		ON step_logs (execution_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		audit_id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		request_id TEXT,
		ip TEXT,
		user_agent TEXT,
		payload JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`,
}

func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
