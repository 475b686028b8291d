package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

type JobRepository struct{ db *sql.DB }

func NewJobRepository(db *sql.DB) *JobRepository { return &JobRepository{db: db} }

var _ domain.JobQueue = (*JobRepository)(nil)

// Admit runs result check, insert, result re-check in one tx. The partial
// unique index turns a concurrent second insert into a no-op, and the
// re-check catches a completion that committed between the first check
// and the insert.
func (r *JobRepository) Admit(ctx context.Context, job domain.Job) (domain.Admission, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Admission{}, err
	}
	defer tx.Rollback()

	if res, err := getResult(ctx, tx, job.Fingerprint); err == nil {
		return domain.Admission{Cached: res}, tx.Commit()
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Admission{}, err
	}

	const q = `
INSERT INTO analysis_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (fingerprint) WHERE status IN ('pending','processing') DO NOTHING;`
	m := job.Meta
	resExec, err := tx.ExecContext(ctx, q,
		job.ID, job.Fingerprint, job.RequestorID, job.Status, job.Priority, job.RetryCount, job.MaxRetries,
		m.FileName, m.FileSize, m.MimeType, m.Width, m.Height, m.StagingHandle,
		job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return domain.Admission{}, fmt.Errorf("insert job: %w", err)
	}
	if n, _ := resExec.RowsAffected(); n == 0 {
		return domain.Admission{}, domain.ErrDuplicateInFlight
	}

	if res, err := getResult(ctx, tx, job.Fingerprint); err == nil {
		return domain.Admission{Cached: res}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Admission{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Admission{}, err
	}
	return domain.Admission{Job: &job}, nil
}

// ClaimNext takes the best pending job; SKIP LOCKED keeps concurrent workers
// off each other's rows.
func (r *JobRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error) {
	const q = `
UPDATE analysis_jobs SET status = 'processing', started_at = $1
WHERE id = (
  SELECT id FROM analysis_jobs
  WHERE status = 'pending' AND retry_count < max_retries
  ORDER BY priority DESC, created_at ASC, id ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id domain.JobID, now time.Time) error {
	const q = `
UPDATE analysis_jobs SET status = 'completed', completed_at = $2
WHERE id = $1 AND status = 'processing';`
	res, err := r.db.ExecContext(ctx, q, id, now)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, res, id, domain.StatusCompleted)
}

// MarkFailed consumes one attempt. Postgres evaluates every SET expression
// against the old row, so retry_count + 1 is the new count everywhere.
func (r *JobRepository) MarkFailed(ctx context.Context, id domain.JobID, reason string) (bool, error) {
	const q = `
UPDATE analysis_jobs SET
  retry_count = retry_count + 1,
  status = CASE WHEN retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
  error_message = CASE WHEN retry_count + 1 < max_retries THEN error_message ELSE $2 END
WHERE id = $1 AND status = 'processing'
RETURNING status;`
	var status domain.Status
	err := r.db.QueryRowContext(ctx, q, id, reason).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, r.diagnose(ctx, id, domain.StatusFailed)
	}
	if err != nil {
		return false, err
	}
	return status == domain.StatusPending, nil
}

// Release returns a processing job to the queue with its retry budget intact.
func (r *JobRepository) Release(ctx context.Context, id domain.JobID) error {
	const q = `
UPDATE analysis_jobs SET status = 'pending', started_at = NULL
WHERE id = $1 AND status = 'processing';`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, res, id, domain.StatusPending)
}

func (r *JobRepository) ReclaimStuck(ctx context.Context, cutoff time.Time) ([]domain.Reclaimed, error) {
	const q = `
UPDATE analysis_jobs SET
  retry_count = retry_count + 1,
  status = CASE WHEN retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
  error_message = CASE WHEN retry_count + 1 < max_retries THEN error_message ELSE $2 END
WHERE status = 'processing' AND started_at < $1
RETURNING id, fingerprint, status;`
	rows, err := r.db.QueryContext(ctx, q, cutoff, domain.ReasonTimeout)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reclaimed
	for rows.Next() {
		var rc domain.Reclaimed
		var status domain.Status
		if err := rows.Scan(&rc.JobID, &rc.Fingerprint, &status); err != nil {
			return nil, err
		}
		rc.Requeued = status == domain.StatusPending
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *JobRepository) Requeue(ctx context.Context, id domain.JobID) error {
	const q = `
UPDATE analysis_jobs j SET status = 'pending', error_message = ''
WHERE j.id = $1 AND j.status = 'failed' AND j.retry_count < j.max_retries
  AND NOT EXISTS (SELECT 1 FROM analysis_results r WHERE r.fingerprint = j.fingerprint);`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateInFlight
		}
		return err
	}
	return r.checkTransition(ctx, res, id, domain.StatusPending)
}

func (r *JobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Status]int64)
	for rows.Next() {
		var s domain.Status
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *JobRepository) ListPending(ctx context.Context, limit int) ([]*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs
WHERE status = 'pending' AND retry_count < max_retries
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT $1;`
	return r.queryJobs(ctx, q, limit)
}

func (r *JobRepository) ListByRequestor(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Job, error) {
	page, offset := page.Normalize()
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs
WHERE requestor_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3;`
	return r.queryJobs(ctx, q, requestor, page.PageSize, offset)
}

func (r *JobRepository) AverageLatency(ctx context.Context) (time.Duration, error) {
	const q = `
SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at))), 0)
FROM analysis_jobs WHERE status = 'completed' AND completed_at IS NOT NULL;`
	var secs float64
	if err := r.db.QueryRowContext(ctx, q).Scan(&secs); err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (r *JobRepository) queryJobs(ctx context.Context, q string, args ...any) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) checkTransition(ctx context.Context, res sql.Result, id domain.JobID, to domain.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.diagnose(ctx, id, to)
}

// diagnose explains a compare-and-set that matched no row.
func (r *JobRepository) diagnose(ctx context.Context, id domain.JobID, to domain.Status) error {
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", domain.ErrInvalidTransition, id, j.Status, to)
}
