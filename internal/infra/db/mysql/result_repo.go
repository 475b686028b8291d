package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

var _ domain.ResultRepository = (*ResultRepository)(nil)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getResult(ctx context.Context, q querier, fp domain.Fingerprint) (*domain.Result, error) {
	return queryResult(ctx, q, `SELECT `+resultColumns+` FROM analysis_results WHERE fingerprint = ? LIMIT 1;`, fp)
}

// getResultLocked reads the latest committed row, not the tx snapshot.
func getResultLocked(ctx context.Context, q querier, fp domain.Fingerprint) (*domain.Result, error) {
	return queryResult(ctx, q, `SELECT `+resultColumns+` FROM analysis_results WHERE fingerprint = ? LIMIT 1 FOR SHARE;`, fp)
}

func queryResult(ctx context.Context, q querier, stmt string, fp domain.Fingerprint) (*domain.Result, error) {
	res, err := scanResult(q.QueryRowContext(ctx, stmt, fp))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return res, err
}

func (r *ResultRepository) Get(ctx context.Context, fp domain.Fingerprint) (*domain.Result, error) {
	return getResult(ctx, r.db, fp)
}

// Insert tidak pernah upsert; result sekali tulis.
func (r *ResultRepository) Insert(ctx context.Context, res *domain.Result) error {
	scores := res.Scores
	if scores == nil {
		scores = map[string]float64{}
	}
	raw, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	q := `INSERT INTO analysis_results (` + resultColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?);`
	m := res.Meta
	_, err = r.db.ExecContext(ctx, q,
		res.Fingerprint, res.RequestorID, string(res.Label), res.Confidence, raw, res.ProcessingTimeMS,
		res.ModelVersion, res.Narrative, m.FileName, m.FileSize, m.MimeType, m.Width, m.Height, res.CreatedAt.UTC(),
	)
	if isDuplicate(err) {
		return domain.ErrResultExists
	}
	return err
}

func (r *ResultRepository) ListByRequestor(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Result, error) {
	page, offset := page.Normalize()
	q := `SELECT ` + resultColumns + ` FROM analysis_results
WHERE requestor_id = ?
ORDER BY created_at DESC, fingerprint DESC
LIMIT ? OFFSET ?;`
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
