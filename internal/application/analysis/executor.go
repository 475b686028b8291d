package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bryanwahyu/realcheck/internal/application"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

// Narrator produces best-effort narrative text; it never fails.
type Narrator interface {
	Narrate(ctx context.Context, r *domain.Result) string
}

const (
	defaultScoreTimeout = 30 * time.Second
	releaseTimeout      = 5 * time.Second
)

// Executor runs claimed jobs through fetch, score, narrate and persist.
type Executor struct {
	Jobs         domain.JobQueue
	Results      domain.ResultRepository
	Staging      domain.ContentStore
	Scorer       domain.Scorer
	Narrator     Narrator
	Clock        application.Clock
	Metrics      Metrics
	ScoreTimeout time.Duration
}

// RunOnce claims the next job and processes it. It reports false when the
// queue had nothing claimable.
func (e *Executor) RunOnce(ctx context.Context) (bool, error) {
	job, err := e.Jobs.ClaimNext(ctx, e.clock().Now())
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, e.Process(ctx, job)
}

// Process executes one claimed job. Every exit path ends in MarkCompleted,
// MarkFailed or (when ctx was cancelled) Release, including panics inside
// the scorer or narrator.
func (e *Executor) Process(ctx context.Context, job *domain.Job) (err error) {
	start := e.clock().Now()
	released := false

	fail := func(reason string) error {
		released = true
		rctx, cancel := releaseContext(ctx)
		defer cancel()
		if ctx.Err() != nil {
			// worker shutdown: hand the job back without consuming an attempt
			if rerr := e.Jobs.Release(rctx, job.ID); rerr != nil {
				return fmt.Errorf("release: %w", rerr)
			}
			e.metrics().JobFinished("released", e.clock().Now().Sub(start))
			log.Printf("job released id=%s fingerprint=%s reason=%q", job.ID, job.Fingerprint.Short(), reason)
			return nil
		}
		requeued, ferr := e.Jobs.MarkFailed(rctx, job.ID, reason)
		if ferr != nil {
			return fmt.Errorf("mark failed: %w", ferr)
		}
		status := string(domain.StatusFailed)
		if requeued {
			status = "requeued"
		}
		e.metrics().JobFinished(status, e.clock().Now().Sub(start))
		log.Printf("job failed id=%s fingerprint=%s attempt=%d requeued=%t reason=%q",
			job.ID, job.Fingerprint.Short(), job.RetryCount+1, requeued, reason)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("job panic id=%s: %v", job.ID, r)
			if !released {
				err = errors.Join(fmt.Errorf("panic: %v", r), fail(fmt.Sprintf("panic: %v", r)))
			}
			return
		}
		if !released {
			reason := "aborted"
			if ctx.Err() != nil {
				reason = ctx.Err().Error()
			}
			err = errors.Join(err, fail(reason))
		}
	}()

	// hasil bisa sudah ada kalau job ini hasil reclaim setelah insert
	if _, gerr := e.Results.Get(ctx, job.Fingerprint); gerr == nil {
		return e.complete(ctx, job, start, &released)
	} else if !errors.Is(gerr, domain.ErrNotFound) {
		return fail(fmt.Sprintf("lookup result: %v", gerr))
	}

	content, err := e.Staging.Get(ctx, job.Meta.StagingHandle)
	if err != nil {
		return fail(fmt.Sprintf("content unavailable: %v", err))
	}

	scoreCtx, cancel := context.WithTimeout(ctx, e.scoreTimeout())
	score, err := e.Scorer.Score(scoreCtx, content, job.Meta)
	cancel()
	if err != nil {
		return fail(err.Error())
	}

	res := &domain.Result{
		Fingerprint:      job.Fingerprint,
		RequestorID:      job.RequestorID,
		Label:            domain.ClassifyLabel(score.Label),
		Confidence:       score.Confidence,
		Scores:           score.Scores,
		ProcessingTimeMS: e.clock().Now().Sub(start).Milliseconds(),
		ModelVersion:     score.ModelVersion,
		Meta:             job.Meta,
	}
	if e.Narrator != nil {
		res.Narrative = e.Narrator.Narrate(ctx, res)
	}
	res.CreatedAt = e.clock().Now()

	if err := e.Results.Insert(ctx, res); err != nil && !errors.Is(err, domain.ErrResultExists) {
		return fail(fmt.Sprintf("store result: %v", err))
	}
	return e.complete(ctx, job, start, &released)
}

func (e *Executor) complete(ctx context.Context, job *domain.Job, start time.Time, released *bool) error {
	*released = true
	now := e.clock().Now()
	rctx, cancel := releaseContext(ctx)
	defer cancel()
	if err := e.Jobs.MarkCompleted(rctx, job.ID, now); err != nil {
		// reclaimer menang duluan; result tetap tersimpan
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Printf("job completion lost id=%s err=%v", job.ID, err)
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}
	e.metrics().JobFinished(string(domain.StatusCompleted), now.Sub(start))
	log.Printf("job completed id=%s fingerprint=%s took=%s", job.ID, job.Fingerprint.Short(), now.Sub(start))
	return nil
}

// releaseContext keeps releases alive when the worker context is already cancelled.
func releaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
}

func (e *Executor) scoreTimeout() time.Duration {
	if e.ScoreTimeout <= 0 {
		return defaultScoreTimeout
	}
	return e.ScoreTimeout
}

func (e *Executor) clock() application.Clock {
	if e.Clock == nil {
		return application.SystemClock{}
	}
	return e.Clock
}

func (e *Executor) metrics() Metrics {
	if e.Metrics == nil {
		return NopMetrics{}
	}
	return e.Metrics
}
