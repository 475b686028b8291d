package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// The partial unique index is what enforces one active job per fingerprint.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_jobs (
  id             VARCHAR(36) PRIMARY KEY,
  fingerprint    CHAR(64)    NOT NULL,
  requestor_id   TEXT        NOT NULL DEFAULT '',
  status         TEXT        NOT NULL CHECK (status IN ('pending','processing','completed','failed')),
  priority       INT         NOT NULL DEFAULT 0,
  retry_count    INT         NOT NULL DEFAULT 0,
  max_retries    INT         NOT NULL,
  file_name      TEXT        NOT NULL DEFAULT '',
  file_size      BIGINT      NOT NULL DEFAULT 0,
  mime_type      TEXT        NOT NULL DEFAULT '',
  width          INT         NOT NULL DEFAULT 0,
  height         INT         NOT NULL DEFAULT 0,
  staging_handle TEXT        NOT NULL DEFAULT '',
  error_message  TEXT        NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ NOT NULL,
  started_at     TIMESTAMPTZ NULL,
  completed_at   TIMESTAMPTZ NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS analysis_jobs_active_fingerprint
  ON analysis_jobs (fingerprint) WHERE status IN ('pending','processing')`,
	`CREATE INDEX IF NOT EXISTS analysis_jobs_claim
  ON analysis_jobs (priority DESC, created_at ASC) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS analysis_jobs_requestor ON analysis_jobs (requestor_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS analysis_jobs_processing ON analysis_jobs (started_at) WHERE status = 'processing'`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
  fingerprint        CHAR(64)         PRIMARY KEY,
  requestor_id       TEXT             NOT NULL DEFAULT '',
  label              TEXT             NOT NULL CHECK (label IN ('REAL','AI_GENERATED','UNCERTAIN')),
  confidence         DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
  scores             JSONB            NOT NULL DEFAULT '{}',
  processing_time_ms BIGINT           NOT NULL DEFAULT 0,
  model_version      TEXT             NOT NULL DEFAULT '',
  narrative          TEXT             NOT NULL DEFAULT '',
  file_name          TEXT             NOT NULL DEFAULT '',
  file_size          BIGINT           NOT NULL DEFAULT 0,
  mime_type          TEXT             NOT NULL DEFAULT '',
  width              INT              NOT NULL DEFAULT 0,
  height             INT              NOT NULL DEFAULT 0,
  created_at         TIMESTAMPTZ      NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS analysis_results_requestor ON analysis_results (requestor_id, created_at DESC)`,
}

// EnsureSchema creates tables and indexes if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
