package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ domain.JobQueue = (*JobRepository)(nil)

// Admit: result check, insert, result re-check in one tx. A second active
// job for the fingerprint hits uq_jobs_active_fingerprint (error 1062).
// Under InnoDB's default REPEATABLE READ the re-check would read the snapshot
// taken by the first SELECT and miss a result committed in between, so the tx
// runs READ COMMITTED and the re-check is a locking read of the latest row.
func (r *JobRepository) Admit(ctx context.Context, job domain.Job) (domain.Admission, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
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
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`
	m := job.Meta
	_, err = tx.ExecContext(ctx, q,
		job.ID, job.Fingerprint, job.RequestorID, job.Status, job.Priority, job.RetryCount, job.MaxRetries,
		m.FileName, m.FileSize, m.MimeType, m.Width, m.Height, m.StagingHandle,
		job.ErrorMessage, job.CreatedAt.UTC(), nullable(job.StartedAt), nullable(job.CompletedAt),
	)
	if isDuplicate(err) {
		return domain.Admission{}, domain.ErrDuplicateInFlight
	}
	if err != nil {
		return domain.Admission{}, fmt.Errorf("insert job: %w", err)
	}

	if res, err := getResultLocked(ctx, tx, job.Fingerprint); err == nil {
		return domain.Admission{Cached: res}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Admission{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Admission{}, err
	}
	return domain.Admission{Job: &job}, nil
}

// ClaimNext locks the best pending row with SKIP LOCKED, then flips it.
func (r *JobRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const q = `
SELECT ` + jobColumns + ` FROM analysis_jobs
WHERE status = 'pending' AND retry_count < max_retries
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED;`
	j, err := scanJob(tx.QueryRowContext(ctx, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := j.Claim(now.UTC()); err != nil {
		return nil, err
	}
	if err := writeBack(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id domain.JobID, now time.Time) error {
	return r.transition(ctx, id, func(j *domain.Job) error {
		return j.Complete(now.UTC())
	})
}

func (r *JobRepository) MarkFailed(ctx context.Context, id domain.JobID, reason string) (bool, error) {
	var requeued bool
	err := r.transition(ctx, id, func(j *domain.Job) error {
		var err error
		requeued, err = j.Fail(reason)
		return err
	})
	return requeued, err
}

func (r *JobRepository) Release(ctx context.Context, id domain.JobID) error {
	return r.transition(ctx, id, func(j *domain.Job) error {
		return j.Release()
	})
}

func (r *JobRepository) ReclaimStuck(ctx context.Context, cutoff time.Time) ([]domain.Reclaimed, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const q = `
SELECT ` + jobColumns + ` FROM analysis_jobs
WHERE status = 'processing' AND started_at < ?
ORDER BY id
FOR UPDATE SKIP LOCKED;`
	rows, err := tx.QueryContext(ctx, q, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	var stuck []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stuck = append(stuck, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Reclaimed, 0, len(stuck))
	for _, j := range stuck {
		requeued, err := j.Fail(domain.ReasonTimeout)
		if err != nil {
			return nil, err
		}
		if err := writeBack(ctx, tx, j); err != nil {
			return nil, err
		}
		out = append(out, domain.Reclaimed{JobID: j.ID, Fingerprint: j.Fingerprint, Requeued: requeued})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Requeue refuses when a result already exists; another active job shows up
// as a duplicate on the generated active_fingerprint key.
func (r *JobRepository) Requeue(ctx context.Context, id domain.JobID) error {
	err := r.transition(ctx, id, func(j *domain.Job) error {
		if j.Status == domain.StatusFailed {
			if _, err := getResult(ctx, r.db, j.Fingerprint); err == nil {
				return fmt.Errorf("%w: fingerprint %s already has a result", domain.ErrInvalidTransition, j.Fingerprint.Short())
			}
		}
		return j.Requeue()
	})
	if isDuplicate(err) {
		return domain.ErrDuplicateInFlight
	}
	return err
}

func (r *JobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = ? LIMIT 1;`
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
LIMIT ?;`
	return r.queryJobs(ctx, q, limit)
}

func (r *JobRepository) ListByRequestor(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Job, error) {
	page, offset := page.Normalize()
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs
WHERE requestor_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;`
	return r.queryJobs(ctx, q, requestor, page.PageSize, offset)
}

func (r *JobRepository) AverageLatency(ctx context.Context) (time.Duration, error) {
	const q = `
SELECT COALESCE(AVG(TIMESTAMPDIFF(MICROSECOND, created_at, completed_at)), 0)
FROM analysis_jobs WHERE status = 'completed' AND completed_at IS NOT NULL;`
	var micros float64
	if err := r.db.QueryRowContext(ctx, q).Scan(&micros); err != nil {
		return 0, err
	}
	return time.Duration(micros * float64(time.Microsecond)), nil
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

// transition locks one row, applies fn and writes the result back.
func (r *JobRepository) transition(ctx context.Context, id domain.JobID, fn func(*domain.Job) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = ? FOR UPDATE;`
	j, err := scanJob(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := fn(j); err != nil {
		return err
	}
	if err := writeBack(ctx, tx, j); err != nil {
		return err
	}
	return tx.Commit()
}

func writeBack(ctx context.Context, tx *sql.Tx, j *domain.Job) error {
	const q = `
UPDATE analysis_jobs
SET status = ?, retry_count = ?, error_message = ?, started_at = ?, completed_at = ?
WHERE id = ?;`
	_, err := tx.ExecContext(ctx, q, j.Status, j.RetryCount, j.ErrorMessage, nullable(j.StartedAt), nullable(j.CompletedAt), j.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	return nil
}
