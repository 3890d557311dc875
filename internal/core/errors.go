package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedOrder   = errors.New("malformed order")
	ErrDuplicateAttempt = errors.New("duplicate attempt")
	ErrNotFound         = errors.New("not found")
	ErrNoRetryData      = errors.New("no retry snapshot stored")
	ErrRetryFailed      = errors.New("retry submission failed")
	ErrAttemptInFlight  = errors.New("attempt is still being dispatched")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("label render failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// SubmissionError is returned by a Submitter when the vendor rejects the job
// or cannot be reached.
type SubmissionError struct {
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("print submission failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("print submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
