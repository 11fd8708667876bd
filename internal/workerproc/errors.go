package workerproc

import "fmt"

// ErrDecode indicates a job payload that could not be decoded or lacks its ids.
type ErrDecode struct {
	Queue string
	JobID string
	Err   error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode %s job %s", e.Queue, e.JobID)
	}
	return fmt.Sprintf("decode %s job %s: %s", e.Queue, e.JobID, e.Err.Error())
}

func (e ErrDecode) Unwrap() error { return e.Err }
