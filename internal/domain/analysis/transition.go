package analysis

import (
	"fmt"
	"time"
)

// ReasonTimeout is recorded when the reclaimer fails a stuck job.
const ReasonTimeout = "timeout"

// NewJob builds a freshly admitted job.
func NewJob(id JobID, fp Fingerprint, requestor string, priority, maxRetries int, meta ContentMeta, now time.Time) Job {
	return Job{
		ID:          id,
		Fingerprint: fp,
		RequestorID: requestor,
		Status:      StatusPending,
		Priority:    priority,
		MaxRetries:  maxRetries,
		Meta:        meta,
		CreatedAt:   now,
	}
}

// Claimable reports whether ClaimNext may hand the job out.
func (j *Job) Claimable() bool {
	return j.Status == StatusPending && j.RetryCount < j.MaxRetries
}

// Claim moves Pending -> Processing.
func (j *Job) Claim(now time.Time) error {
	if !j.Claimable() {
		return transitionErr(j, StatusProcessing)
	}
	j.Status = StatusProcessing
	j.StartedAt = &now
	return nil
}

// Complete moves Processing -> Completed.
func (j *Job) Complete(now time.Time) error {
	if j.Status != StatusProcessing {
		return transitionErr(j, StatusCompleted)
	}
	j.Status = StatusCompleted
	j.CompletedAt = &now
	return nil
}

// Fail consumes one attempt. The job goes back to Pending while budget
// remains, otherwise it lands in Failed with reason recorded. The returned
// bool is true when the job was requeued.
func (j *Job) Fail(reason string) (bool, error) {
	if j.Status != StatusProcessing {
		return false, transitionErr(j, StatusFailed)
	}
	j.RetryCount++
	if j.RetryCount < j.MaxRetries {
		j.Status = StatusPending
		return true, nil
	}
	j.Status = StatusFailed
	j.ErrorMessage = reason
	return false, nil
}

// Release hands a processing job back to Pending without consuming an
// attempt. Used when the worker itself is shutting down.
func (j *Job) Release() error {
	if j.Status != StatusProcessing {
		return transitionErr(j, StatusPending)
	}
	j.Status = StatusPending
	j.StartedAt = nil
	return nil
}

// Requeue moves Failed -> Pending while retry budget remains.
func (j *Job) Requeue() error {
	if j.Status != StatusFailed || j.RetryCount >= j.MaxRetries {
		return transitionErr(j, StatusPending)
	}
	j.Status = StatusPending
	j.ErrorMessage = ""
	return nil
}

// StuckSince reports whether a processing job started before cutoff.
func (j *Job) StuckSince(cutoff time.Time) bool {
	return j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff)
}

func transitionErr(j *Job, to Status) error {
	return fmt.Errorf("%w: job %s is %s (retries %d/%d), cannot move to %s",
		ErrInvalidTransition, j.ID, j.Status, j.RetryCount, j.MaxRetries, to)
}
