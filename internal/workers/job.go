package workers

import (
	"context"

	"audiobrand-backend/internal/jobs"
)

// Job is the handler's view of a claimed job.
type Job struct {
	jobs.Job
	queue *jobs.Queue
}

// NewJob wraps a claimed job for direct handler invocation, as in tests.
func NewJob(job jobs.Job, q *jobs.Queue) *Job {
	return &Job{Job: job, queue: q}
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return jobs.DecodePayload(j.Payload, v)
}

// UpdateProgress records 0-100 progress on the job. A nil queue makes it a no-op.
func (j *Job) UpdateProgress(ctx context.Context, progress int) error {
	if j.queue == nil {
		return nil
	}
	return j.queue.SetProgress(ctx, j.Job, progress)
}
