package analyses

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrTerminal          = errors.New("analysis is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotReady          = errors.New("analysis not completed")
	ErrProjectNotFound   = errors.New("project not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEnqueue           = errors.New("job could not be enqueued")
)

const (
	ErrorCodeValidation = "validation_error"
	ErrorCodeNotFound   = "not_found"
	ErrorCodeNotReady   = "not_ready"
	ErrorCodeEnqueue    = "enqueue_failed"
	ErrorCodeInternal   = "internal_error"
)
