// Package memory is an in-process implementation of the job queue and result
// store. A single mutex is the serialization point for admission and claims.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

type Store struct {
	mu      sync.Mutex
	jobs    map[domain.JobID]*domain.Job
	results map[domain.Fingerprint]*domain.Result
}

func NewStore() *Store {
	return &Store{
		jobs:    make(map[domain.JobID]*domain.Job),
		results: make(map[domain.Fingerprint]*domain.Result),
	}
}

// Jobs returns the queue view of the store.
func (s *Store) Jobs() *JobQueue { return &JobQueue{s: s} }

// Results returns the result-store view of the store.
func (s *Store) Results() *ResultRepository { return &ResultRepository{s: s} }

// Ping satisfies the health checker.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

type JobQueue struct{ s *Store }

func (q *JobQueue) Admit(ctx context.Context, job domain.Job) (domain.Admission, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	if r, ok := q.s.results[job.Fingerprint]; ok {
		return domain.Admission{Cached: cloneResult(r)}, nil
	}
	for _, j := range q.s.jobs {
		if j.Fingerprint == job.Fingerprint && j.Status.Active() {
			return domain.Admission{}, domain.ErrDuplicateInFlight
		}
	}
	if _, ok := q.s.jobs[job.ID]; ok {
		return domain.Admission{}, fmt.Errorf("job id %s already used", job.ID)
	}
	stored := cloneJob(&job)
	q.s.jobs[job.ID] = stored
	return domain.Admission{Job: cloneJob(stored)}, nil
}

func (q *JobQueue) ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	var next *domain.Job
	for _, j := range q.s.jobs {
		if !j.Claimable() {
			continue
		}
		if next == nil || before(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := next.Claim(now); err != nil {
		return nil, err
	}
	return cloneJob(next), nil
}

func (q *JobQueue) MarkCompleted(ctx context.Context, id domain.JobID, now time.Time) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	j, ok := q.s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	return j.Complete(now)
}

func (q *JobQueue) MarkFailed(ctx context.Context, id domain.JobID, reason string) (bool, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	j, ok := q.s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	return j.Fail(reason)
}

func (q *JobQueue) Release(ctx context.Context, id domain.JobID) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	j, ok := q.s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	return j.Release()
}

func (q *JobQueue) ReclaimStuck(ctx context.Context, cutoff time.Time) ([]domain.Reclaimed, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	var out []domain.Reclaimed
	for _, j := range q.s.jobs {
		if !j.StuckSince(cutoff) {
			continue
		}
		requeued, err := j.Fail(domain.ReasonTimeout)
		if err != nil {
			return out, err
		}
		out = append(out, domain.Reclaimed{JobID: j.ID, Fingerprint: j.Fingerprint, Requeued: requeued})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobID < out[b].JobID })
	return out, nil
}

func (q *JobQueue) Requeue(ctx context.Context, id domain.JobID) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	j, ok := q.s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if _, done := q.s.results[j.Fingerprint]; done {
		return fmt.Errorf("%w: fingerprint %s already has a result", domain.ErrInvalidTransition, j.Fingerprint.Short())
	}
	for _, other := range q.s.jobs {
		if other.ID != id && other.Fingerprint == j.Fingerprint && other.Status.Active() {
			return domain.ErrDuplicateInFlight
		}
	}
	return j.Requeue()
}

func (q *JobQueue) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	j, ok := q.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (q *JobQueue) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	out := make(map[domain.Status]int64)
	for _, j := range q.s.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (q *JobQueue) ListPending(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	var out []*domain.Job
	for _, j := range q.s.jobs {
		if j.Status == domain.StatusPending {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return before(out[a], out[b]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *JobQueue) ListByRequestor(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Job, error) {
	page, offset := page.Normalize()
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	var out []*domain.Job
	for _, j := range q.s.jobs {
		if j.RequestorID == requestor {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	return paginate(out, offset, page.PageSize), nil
}

func (q *JobQueue) AverageLatency(ctx context.Context) (time.Duration, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	var total time.Duration
	var n int64
	for _, j := range q.s.jobs {
		if j.Status == domain.StatusCompleted && j.CompletedAt != nil {
			total += j.CompletedAt.Sub(j.CreatedAt)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

type ResultRepository struct{ s *Store }

func (r *ResultRepository) Get(ctx context.Context, fp domain.Fingerprint) (*domain.Result, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.results[fp]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneResult(res), nil
}

func (r *ResultRepository) Insert(ctx context.Context, res *domain.Result) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.results[res.Fingerprint]; ok {
		return domain.ErrResultExists
	}
	r.s.results[res.Fingerprint] = cloneResult(res)
	return nil
}

func (r *ResultRepository) ListByRequestor(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Result, error) {
	page, offset := page.Normalize()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Result
	for _, res := range r.s.results {
		if res.RequestorID == requestor {
			out = append(out, cloneResult(res))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].Fingerprint > out[b].Fingerprint
	})
	return paginate(out, offset, page.PageSize), nil
}

func (r *ResultRepository) Count(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.results)), nil
}

func (r *ResultRepository) CountByLabel(ctx context.Context) (map[domain.Label]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make(map[domain.Label]int64)
	for _, res := range r.s.results {
		out[res.Label]++
	}
	return out, nil
}

func (r *ResultRepository) AverageConfidence(ctx context.Context) (float64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if len(r.s.results) == 0 {
		return 0, nil
	}
	var sum float64
	for _, res := range r.s.results {
		sum += res.Confidence
	}
	return sum / float64(len(r.s.results)), nil
}

// before orders by priority desc, then createdAt asc, then id.
func before(a, b *domain.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func paginate[T any](in []T, offset, size int) []T {
	if offset >= len(in) {
		return nil
	}
	end := offset + size
	if end > len(in) {
		end = len(in)
	}
	return in[offset:end]
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneResult(r *domain.Result) *domain.Result {
	c := *r
	if r.Scores != nil {
		c.Scores = make(map[string]float64, len(r.Scores))
		for k, v := range r.Scores {
			c.Scores[k] = v
		}
	}
	return &c
}
