package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job or result does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a compare-and-set on job status loses.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrDuplicateInFlight means the fingerprint already has a pending or processing job.
	ErrDuplicateInFlight = errors.New("already in progress")

	// ErrResultExists means a result for the fingerprint was already written.
	ErrResultExists = errors.New("result already exists")

	// ErrEmptyContent rejects empty uploads before hashing.
	ErrEmptyContent = errors.New("content is empty")
)

// RemoteError wraps a failed call to the scoring or narrative service.
type RemoteError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
