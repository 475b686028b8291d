package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

type ResultRepository struct{ db *sql.DB }

func NewResultRepository(db *sql.DB) *ResultRepository { return &ResultRepository{db: db} }

var _ domain.ResultRepository = (*ResultRepository)(nil)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getResult(ctx context.Context, q querier, fp domain.Fingerprint) (*domain.Result, error) {
	stmt := `SELECT ` + resultColumns + ` FROM analysis_results WHERE fingerprint = $1;`
	res, err := scanResult(q.QueryRowContext(ctx, stmt, fp))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return res, err
}

func (r *ResultRepository) Get(ctx context.Context, fp domain.Fingerprint) (*domain.Result, error) {
	return getResult(ctx, r.db, fp)
}

// Insert is write-once: no upsert, a second insert is ErrResultExists.
func (r *ResultRepository) Insert(ctx context.Context, res *domain.Result) error {
	scores, err := encodeScores(res.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	q := `INSERT INTO analysis_results (` + resultColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);`
	m := res.Meta
	_, err = r.db.ExecContext(ctx, q,
		res.Fingerprint, res.RequestorID, string(res.Label), res.Confidence, scores, res.ProcessingTimeMS,
		res.ModelVersion, res.Narrative, m.FileName, m.FileSize, m.MimeType, m.Width, m.Height, res.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrResultExists
	}
	return err
}

func (r *ResultRepository) ListByRequestor(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Result, error) {
	page, offset := page.Normalize()
	q := `SELECT ` + resultColumns + ` FROM analysis_results
WHERE requestor_id = $1
ORDER BY created_at DESC, fingerprint DESC
LIMIT $2 OFFSET $3;`
	rows, err := r.db.QueryContext(ctx, q, requestor, page.PageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *ResultRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_results;`).Scan(&n)
	return n, err
}

func (r *ResultRepository) CountByLabel(ctx context.Context) (map[domain.Label]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM analysis_results GROUP BY label;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Label]int64)
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[domain.ParseLabel(label)] += n
	}
	return out, rows.Err()
}

func (r *ResultRepository) AverageConfidence(ctx context.Context) (float64, error) {
	var avg float64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(confidence), 0) FROM analysis_results;`).Scan(&avg)
	return avg, err
}
