package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/bryanwahyu/realcheck/internal/application"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

// Outcome of a submit call.
type Outcome string

const (
	OutcomeCached   Outcome = "cached"
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Service implements the dedup gate and the read-side use-cases.
// Aman dipakai concurrent; semua state ada di repo.
type Service struct {
	Jobs       domain.JobQueue
	Results    domain.ResultRepository
	Staging    domain.ContentStore
	Clock      application.Clock
	Metrics    Metrics
	MaxRetries int
}

// SubmitCommand carries one upload into the gate.
type SubmitCommand struct {
	Content     []byte
	RequestorID string
	FileName    string
	MimeType    string
	Width       int
	Height      int
	Priority    int
}

// Submission is what submit answers: a cached result, a rejection, or a new job.
type Submission struct {
	Outcome     Outcome            `json:"outcome"`
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	JobID       domain.JobID       `json:"job_id,omitempty"`
	Cached      *domain.Result     `json:"cached,omitempty"`
	Rejected    string             `json:"rejected,omitempty"`
}

// Submit hashes the content and admits it at most once per fingerprint.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (Submission, error) {
	if len(cmd.Content) == 0 {
		return Submission{}, domain.ErrEmptyContent
	}
	fp := domain.Hash(cmd.Content)

	// fast path: hasil sudah ada, gak perlu staging
	if res, err := s.Results.Get(ctx, fp); err == nil {
		s.metrics().Submitted(OutcomeCached)
		return Submission{Outcome: OutcomeCached, Fingerprint: fp, Cached: res}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Submission{}, fmt.Errorf("lookup result: %w", err)
	}

	handle, err := s.Staging.Put(ctx, fp, cmd.Content, cmd.MimeType)
	if err != nil {
		return Submission{}, fmt.Errorf("stage content: %w", err)
	}

	meta := domain.ContentMeta{
		FileName:      cmd.FileName,
		FileSize:      int64(len(cmd.Content)),
		MimeType:      cmd.MimeType,
		Width:         cmd.Width,
		Height:        cmd.Height,
		StagingHandle: handle,
	}
	job := domain.NewJob(domain.JobID(uuid.NewString()), fp, cmd.RequestorID, cmd.Priority, s.maxRetries(), meta, s.clock().Now())

	adm, err := s.Jobs.Admit(ctx, job)
	switch {
	case errors.Is(err, domain.ErrDuplicateInFlight):
		s.metrics().Submitted(OutcomeRejected)
		return Submission{Outcome: OutcomeRejected, Fingerprint: fp, Rejected: domain.ErrDuplicateInFlight.Error()}, nil
	case err != nil:
		return Submission{}, fmt.Errorf("admit: %w", err)
	case adm.Cached != nil:
		s.metrics().Submitted(OutcomeCached)
		return Submission{Outcome: OutcomeCached, Fingerprint: fp, Cached: adm.Cached}, nil
	}

	log.Printf("job admitted id=%s fingerprint=%s requestor=%s size=%d", adm.Job.ID, fp.Short(), cmd.RequestorID, meta.FileSize)
	s.metrics().Submitted(OutcomeAccepted)
	return Submission{Outcome: OutcomeAccepted, Fingerprint: fp, JobID: adm.Job.ID}, nil
}

// GetResult returns the stored result; absence is ErrNotFound.
func (s *Service) GetResult(ctx context.Context, fp domain.Fingerprint) (*domain.Result, error) {
	return s.Results.Get(ctx, fp)
}

func (s *Service) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.Jobs.Get(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Job, error) {
	return s.Jobs.ListByRequestor(ctx, requestor, page)
}

func (s *Service) ListResults(ctx context.Context, requestor string, page domain.PageRequest) ([]*domain.Result, error) {
	return s.Results.ListByRequestor(ctx, requestor, page)
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Jobs.ListPending(ctx, limit)
}

// Requeue gives a failed job another attempt if it still has budget.
func (s *Service) Requeue(ctx context.Context, id domain.JobID) error {
	if err := s.Jobs.Requeue(ctx, id); err != nil {
		return err
	}
	log.Printf("job requeued id=%s", id)
	return nil
}

func (s *Service) maxRetries() int {
	if s.MaxRetries <= 0 {
		return 3
	}
	return s.MaxRetries
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) metrics() Metrics {
	if s.Metrics == nil {
		return NopMetrics{}
	}
	return s.Metrics
}
