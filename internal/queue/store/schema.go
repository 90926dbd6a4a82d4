package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the job table. The partial unique index admits at most one
// running row.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_jobs (
	seq          BIGSERIAL,
	id           UUID PRIMARY KEY,
	user_id      TEXT NOT NULL,
	engine       TEXT NOT NULL,
	workflow     TEXT NOT NULL DEFAULT '',
	params       JSONB NOT NULL,
	status       TEXT NOT NULL,
	remote_id    TEXT NOT NULL DEFAULT '',
	output       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	worker_id    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	heartbeat_at TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ
);
ALTER TABLE workflow_jobs ADD COLUMN IF NOT EXISTS worker_id TEXT NOT NULL DEFAULT '';
ALTER TABLE workflow_jobs ADD COLUMN IF NOT EXISTS heartbeat_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS workflow_jobs_user_idx ON workflow_jobs (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS workflow_jobs_queued_idx ON workflow_jobs (seq) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS workflow_jobs_finished_idx ON workflow_jobs (finished_at) WHERE finished_at IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS workflow_jobs_one_running_idx ON workflow_jobs ((true)) WHERE status = 'running';
`

// Migrate applies Schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate workflow_jobs: %w", err)
	}
	return nil
}
