package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// active_fingerprint is NULL outside pending/processing, and MySQL unique
// keys allow many NULLs, so the key only bites on active jobs.
// FOR UPDATE SKIP LOCKED needs MySQL 8.0+.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_jobs (
  id                 VARCHAR(36)  NOT NULL PRIMARY KEY,
  fingerprint        CHAR(64)     NOT NULL,
  requestor_id       VARCHAR(64)  NOT NULL DEFAULT '',
  status             VARCHAR(16)  NOT NULL,
  priority           INT          NOT NULL DEFAULT 0,
  retry_count        INT          NOT NULL DEFAULT 0,
  max_retries        INT          NOT NULL,
  file_name          VARCHAR(255) NOT NULL DEFAULT '',
  file_size          BIGINT       NOT NULL DEFAULT 0,
  mime_type          VARCHAR(64)  NOT NULL DEFAULT '',
  width              INT          NOT NULL DEFAULT 0,
  height             INT          NOT NULL DEFAULT 0,
  staging_handle     VARCHAR(255) NOT NULL DEFAULT '',
  error_message      TEXT         NOT NULL,
  created_at         DATETIME(6)  NOT NULL,
  started_at         DATETIME(6)  NULL,
  completed_at       DATETIME(6)  NULL,
  active_fingerprint CHAR(64) GENERATED ALWAYS AS
    (CASE WHEN status IN ('pending','processing') THEN fingerprint ELSE NULL END) STORED,
  UNIQUE KEY uq_jobs_active_fingerprint (active_fingerprint),
  KEY idx_jobs_claim (status, priority, created_at),
  KEY idx_jobs_requestor (requestor_id, created_at),
  KEY idx_jobs_started (status, started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
  fingerprint        CHAR(64)     NOT NULL PRIMARY KEY,
  requestor_id       VARCHAR(64)  NOT NULL DEFAULT '',
  label              VARCHAR(16)  NOT NULL,
  confidence         DOUBLE       NOT NULL,
  scores             JSON         NOT NULL,
  processing_time_ms BIGINT       NOT NULL DEFAULT 0,
  model_version      VARCHAR(64)  NOT NULL DEFAULT '',
  narrative          TEXT         NOT NULL,
  file_name          VARCHAR(255) NOT NULL DEFAULT '',
  file_size          BIGINT       NOT NULL DEFAULT 0,
  mime_type          VARCHAR(64)  NOT NULL DEFAULT '',
  width              INT          NOT NULL DEFAULT 0,
  height             INT          NOT NULL DEFAULT 0,
  created_at         DATETIME(6)  NOT NULL,
  KEY idx_results_requestor (requestor_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates tables if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
