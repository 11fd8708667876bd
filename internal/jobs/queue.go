package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"audiobrand-backend/internal/queue"
	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/telemetry"
	"audiobrand-backend/internal/shared/util"
)

// Queue is the producer and worker-facing API over a Store.
type Queue struct {
	store  Store
	signal queue.Signal
	now    func() time.Time

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// New wires a Queue. A nil signal falls back to an in-process ChanSignal.
func New(store Store, signal queue.Signal) *Queue {
	if signal == nil {
		signal = queue.NewChanSignal()
	}
	return &Queue{
		store:  store,
		signal: signal,
		now:    func() time.Time { return time.Now().UTC() },
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue creates a job, or returns the existing one when opts.IdempotencyKey was seen before.
func (q *Queue) Enqueue(ctx context.Context, queueName, name string, payload any, opts Options) (Handle, error) {
	if strings.TrimSpace(queueName) == "" || strings.TrimSpace(name) == "" {
		return Handle{}, fmt.Errorf("queue and job name are required")
	}
	data, err := EncodePayload(payload)
	if err != nil {
		return Handle{}, err
	}

	id := strings.TrimSpace(opts.IdempotencyKey)
	if id == "" {
		id = uuid.NewString()
	}
	now := q.now()
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}
	job := Job{
		ID:          id,
		Queue:       queueName,
		Name:        name,
		Payload:     data,
		Priority:    opts.Priority,
		MaxAttempts: max(1, opts.MaxAttempts),
		Backoff:     opts.Backoff,
		State:       state,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}
	if job.Backoff.Type == "" {
		job.Backoff.Type = BackoffExponential
	}

	stored, inserted, err := q.store.Insert(ctx, job)
	if err != nil {
		return Handle{}, err
	}
	handle := Handle{ID: stored.ID, Queue: stored.Queue, Name: stored.Name, Created: inserted}
	if !inserted {
		telemetry.Info("jobs.enqueue.duplicate", map[string]any{
			"queue":  queueName,
			"job_id": id,
			"state":  string(stored.State),
		})
		return handle, nil
	}

	metrics.IncJobsEnqueued(queueName)
	telemetry.Info("jobs.enqueued", map[string]any{
		"queue":        queueName,
		"job_id":       id,
		"job_name":     name,
		"max_attempts": job.MaxAttempts,
		"payload_hash": util.ContentHash(data),
	})
	q.notify(ctx, queueName, id)
	return handle, nil
}

func (q *Queue) notify(ctx context.Context, queueName, id string) {
	if err := q.signal.Notify(ctx, queue.NewMessage(queueName, id, q.now())); err != nil {
		telemetry.Error("jobs.notify_failed", map[string]any{"queue": queueName, "job_id": id, "error": err.Error()})
	}
}

// GetStatus returns the introspection view of a job or ErrNotFound.
func (q *Queue) GetStatus(ctx context.Context, queueName, id string) (Status, error) {
	j, err := q.store.Get(ctx, queueName, id)
	if err != nil {
		return Status{}, err
	}
	return statusOf(j), nil
}

// IsIdempotent reports whether a job with this id already exists. Lookup
// errors are treated as absence.
func (q *Queue) IsIdempotent(ctx context.Context, queueName, id string) bool {
	_, err := q.store.Get(ctx, queueName, id)
	return err == nil
}

// List returns recent jobs for a queue, optionally filtered by state.
func (q *Queue) List(ctx context.Context, queueName string, state State, limit int) ([]Status, error) {
	list, err := q.store.List(ctx, queueName, state, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(list))
	for _, j := range list {
		out = append(out, statusOf(j))
	}
	return out, nil
}

// Retry re-queues a failed job with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, queueName, id string) error {
	if err := q.store.Retry(ctx, queueName, id, q.now()); err != nil {
		return err
	}
	telemetry.Info("jobs.retried", map[string]any{"queue": queueName, "job_id": id})
	q.notify(ctx, queueName, id)
	return nil
}

// Claim hands the next ready job to the caller under a lease.
func (q *Queue) Claim(ctx context.Context, queueName string, lease time.Duration) (Job, bool, error) {
	return q.store.Claim(ctx, queueName, q.now(), lease, uuid.NewString())
}

// Wait blocks until new work may be available on queueName or max elapses.
func (q *Queue) Wait(ctx context.Context, queueName string, max time.Duration) error {
	return q.signal.Wait(ctx, queueName, max)
}

// Heartbeat extends the lease on a claimed job.
func (q *Queue) Heartbeat(ctx context.Context, job Job, lease time.Duration) error {
	return q.store.Heartbeat(ctx, job.Queue, job.ID, job.LockToken, q.now().Add(lease))
}

// SetProgress records a 0-100 progress value on a claimed job.
func (q *Queue) SetProgress(ctx context.Context, job Job, progress int) error {
	return q.store.SetProgress(ctx, job.Queue, job.ID, job.LockToken, progress)
}

// Complete marks a claimed job completed with the given result.
func (q *Queue) Complete(ctx context.Context, job Job, result any) error {
	data, err := EncodePayload(result)
	if err != nil {
		return err
	}
	return q.store.Complete(ctx, job.Queue, job.ID, job.LockToken, data, q.now())
}

// Outcome says what Fail did with a job.
type Outcome struct {
	Final   bool
	RetryAt time.Time
	Reason  string
}

// Fail records cause on a claimed job. The job is delayed for another attempt
// unless cause is permanent or the attempt budget is spent.
func (q *Queue) Fail(ctx context.Context, job Job, cause error) (Outcome, error) {
	now := q.now()
	out := Outcome{Reason: FailureReason(cause)}
	out.Final = IsPermanent(cause) || job.FinalAttempt()

	var retryAt *time.Time
	if !out.Final {
		out.RetryAt = now.Add(job.Backoff.Next(job.Attempts))
		retryAt = &out.RetryAt
	}
	if err := q.store.Fail(ctx, job.Queue, job.ID, job.LockToken, out.Reason, retryAt, now); err != nil {
		return out, err
	}
	if !out.Final {
		// Wake a worker once the backoff elapses so delayed jobs do not wait a full poll.
		q.notifyAfter(out.RetryAt.Sub(now), job.Queue, job.ID)
	}
	return out, nil
}

func (q *Queue) notifyAfter(d time.Duration, queueName, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.mu.Lock()
		delete(q.timers, t)
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.notify(context.Background(), queueName, id)
		}
	})
	q.timers[t] = struct{}{}
}

// Close stops pending retry wake-ups. Delayed jobs are still claimed by the
// next poll of whichever worker runs next. Close does not touch the store.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
}

// IsLockLost reports whether err means the caller no longer owns the job.
func IsLockLost(err error) bool {
	return errors.Is(err, ErrLockLost)
}
