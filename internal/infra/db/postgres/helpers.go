package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, fingerprint, requestor_id, status, priority, retry_count, max_retries,
  file_name, file_size, mime_type, width, height, staging_handle,
  error_message, created_at, started_at, completed_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var started, completed sql.NullTime
	err := row.Scan(
		&j.ID, &j.Fingerprint, &j.RequestorID, &j.Status, &j.Priority, &j.RetryCount, &j.MaxRetries,
		&j.Meta.FileName, &j.Meta.FileSize, &j.Meta.MimeType, &j.Meta.Width, &j.Meta.Height, &j.Meta.StagingHandle,
		&j.ErrorMessage, &j.CreatedAt, &started, &completed,
	)
	if err != nil {
		return nil, err
	}
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	j.CreatedAt = j.CreatedAt.UTC()
	return &j, nil
}

const resultColumns = `fingerprint, requestor_id, label, confidence, scores, processing_time_ms,
  model_version, narrative, file_name, file_size, mime_type, width, height, created_at`

func scanResult(row rowScanner) (*domain.Result, error) {
	var r domain.Result
	var label string
	var scores []byte
	err := row.Scan(
		&r.Fingerprint, &r.RequestorID, &label, &r.Confidence, &scores, &r.ProcessingTimeMS,
		&r.ModelVersion, &r.Narrative, &r.Meta.FileName, &r.Meta.FileSize, &r.Meta.MimeType,
		&r.Meta.Width, &r.Meta.Height, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Label = domain.ParseLabel(label)
	r.Scores, err = decodeScores(scores)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func encodeScores(s map[string]float64) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

func decodeScores(b []byte) (map[string]float64, error) {
	out := map[string]float64{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
