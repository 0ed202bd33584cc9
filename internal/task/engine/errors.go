package engine

import (
	"errors"
	"fmt"

	"briefbot/internal/summarize"
)

var (
	ErrStopped  = errors.New("task engine stopped")
	ErrStopping = errors.New("task engine stopping")
	// ErrQueueFull means the bounded queue rejected the task; the scheduler
	// will pick the task up again on a later tick.
	ErrQueueFull = errors.New("task engine queue full")
	// ErrOverlapSkip means the task id is already executing. At most one
	// concurrent run per id; the duplicate is skipped, never queued.
	ErrOverlapSkip = errors.New("task already running")
)

// NoRetry marks an error as non-retryable for the retry policy.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// classify maps an execution error onto the retry decision table.
// Insufficient input is handled before the policy and never reaches here.
func classify(err error) ErrorKind {
	var nr noRetryError
	if errors.As(err, &nr) {
		return KindNonRetryable
	}
	var te *summarize.TransientError
	if errors.As(err, &te) {
		return KindTransient
	}
	var re *summarize.RequestError
	if errors.As(err, &re) {
		return KindNonRetryable
	}
	// Unknown failures default to transient so a flaky dependency gets its
	// bounded retries rather than a silent permanent failure.
	return KindTransient
}
