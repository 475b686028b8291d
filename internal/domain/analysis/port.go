package analysis

import (
	"context"
	"time"
)

// Admission is the outcome of JobQueue.Admit: exactly one of Cached or Job is set.
type Admission struct {
	Cached *Result
	Job    *Job
}

// Reclaimed reports one job touched by a reclaim sweep.
type Reclaimed struct {
	JobID       JobID
	Fingerprint Fingerprint
	Requeued    bool
}

// JobQueue port (durable queue + state machine). Admit must run the
// result-exists / active-job / insert sequence atomically per fingerprint and
// return ErrDuplicateInFlight when an active job already exists.
type JobQueue interface {
	Admit(ctx context.Context, job Job) (Admission, error)
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)
	MarkCompleted(ctx context.Context, id JobID, now time.Time) error
	MarkFailed(ctx context.Context, id JobID, reason string) (bool, error)
	Release(ctx context.Context, id JobID) error
	ReclaimStuck(ctx context.Context, cutoff time.Time) ([]Reclaimed, error)
	Requeue(ctx context.Context, id JobID) error

	Get(ctx context.Context, id JobID) (*Job, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	ListPending(ctx context.Context, limit int) ([]*Job, error)
	ListByRequestor(ctx context.Context, requestor string, page PageRequest) ([]*Job, error)
	AverageLatency(ctx context.Context) (time.Duration, error)
}

// ResultRepository port. Insert is write-once and returns ErrResultExists on conflict.
type ResultRepository interface {
	Get(ctx context.Context, fp Fingerprint) (*Result, error)
	Insert(ctx context.Context, r *Result) error
	ListByRequestor(ctx context.Context, requestor string, page PageRequest) ([]*Result, error)
	Count(ctx context.Context) (int64, error)
	CountByLabel(ctx context.Context) (map[Label]int64, error)
	AverageConfidence(ctx context.Context) (float64, error)
}

// ContentStore port untuk staging bytes antara admit dan eksekusi
type ContentStore interface {
	Put(ctx context.Context, fp Fingerprint, data []byte, contentType string) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
}

// Score is what the external scoring service returns.
type Score struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Scores       map[string]float64 `json:"scores"`
	ModelVersion string             `json:"model_version"`
}

// Scorer port. Implementations return *RemoteError on non-2xx or timeout.
type Scorer interface {
	Score(ctx context.Context, content []byte, meta ContentMeta) (Score, error)
}
