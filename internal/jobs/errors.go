package jobs

import (
	"errors"

	"audiobrand-backend/internal/shared/util"
)

var (
	// ErrNotFound is returned when no job exists for the queue and id.
	ErrNotFound = errors.New("job not found")
	// ErrLockLost is returned when a worker reports on a job it no longer owns.
	ErrLockLost = errors.New("job lock lost")
	// ErrNotFailed is returned by Retry for jobs that are not in the failed state.
	ErrNotFailed = errors.New("job is not failed")
)

// StalledReason is recorded on a job whose lease expired during its final attempt.
const StalledReason = "stalled: lease expired after final attempt"

// maxReasonLen caps stored failure reasons.
const maxReasonLen = 500

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails immediately
// regardless of remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// FailureReason renders err as a bounded single-line message.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	msg := util.Truncate(err.Error(), maxReasonLen)
	if msg == "" {
		return "unknown error"
	}
	return msg
}
