// Package workers runs registered job handlers against a jobs.Queue with
// bounded concurrency, lease heartbeats and graceful drain.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/telemetry"
)

// ErrShutdownTimeout is returned by Run when in-flight jobs outlive ShutdownTimeout.
var ErrShutdownTimeout = errors.New("worker shutdown timeout reached with jobs in flight")

// ErrLeaseLost is the cancellation cause seen by a handler whose job lease
// could not be kept. Another worker may already own the job.
var ErrLeaseLost = errors.New("job lease lost")

// Abandoned reports whether ctx was cancelled because the job lease was lost.
// Handlers must stop writing state for the job once this is true.
func Abandoned(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrLeaseLost)
}

// HandlerFunc processes one job. The returned value becomes the job result;
// a returned error becomes the failure reason and triggers the retry policy.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Options tune a Pool.
type Options struct {
	Concurrency     int
	PollInterval    time.Duration
	Lease           time.Duration
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	return o
}

// Event describes a finished attempt.
type Event struct {
	Queue    string
	JobID    string
	JobName  string
	Attempt  int
	Duration time.Duration
	Result   any
	Err      error
	// Final is set on failures that exhausted the retry budget.
	Final bool
}

// Pool pulls jobs from one queue.
type Pool struct {
	queue     *jobs.Queue
	queueName string
	opts      Options

	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	onCompleted []func(Event)
	onFailed    []func(Event)

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool creates a pool for queueName.
func NewPool(q *jobs.Queue, queueName string, opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		queue:     q,
		queueName: queueName,
		opts:      opts,
		handlers:  make(map[string]HandlerFunc),
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Queue returns the queue name this pool serves.
func (p *Pool) Queue() string { return p.queueName }

// Handle registers fn for jobs named name.
func (p *Pool) Handle(name string, fn HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = fn
}

// OnCompleted registers a hook called after each successful job.
func (p *Pool) OnCompleted(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCompleted = append(p.onCompleted, fn)
}

// OnFailed registers a hook called after each failed attempt.
func (p *Pool) OnFailed(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = append(p.onFailed, fn)
}

// Run claims and executes jobs until ctx is cancelled, then waits up to
// ShutdownTimeout for in-flight jobs. In-flight jobs are not cancelled.
func (p *Pool) Run(ctx context.Context) error {
	telemetry.Info("worker.started", map[string]any{
		"queue":       p.queueName,
		"concurrency": p.opts.Concurrency,
	})

	// Handlers run on a context detached from shutdown so they can finish.
	jobCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, ok, err := p.queue.Claim(ctx, p.queueName, p.opts.Lease)
		if err != nil || !ok {
			p.sem.Release(1)
			if err != nil && ctx.Err() == nil {
				telemetry.Error("worker.claim_failed", map[string]any{"queue": p.queueName, "error": err.Error()})
			}
			if werr := p.queue.Wait(ctx, p.queueName, p.opts.PollInterval); werr != nil {
				break
			}
			continue
		}

		p.wg.Add(1)
		go func(job jobs.Job) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.execute(jobCtx, job)
		}(job)
	}

	telemetry.Info("worker.draining", map[string]any{
		"queue":   p.queueName,
		"timeout": p.opts.ShutdownTimeout.String(),
	})
	waitDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		telemetry.Info("worker.stopped", map[string]any{"queue": p.queueName})
		return nil
	case <-time.After(p.opts.ShutdownTimeout):
		telemetry.Error("worker.shutdown_timeout", map[string]any{"queue": p.queueName})
		return ErrShutdownTimeout
	}
}

func (p *Pool) handler(name string) (HandlerFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn, ok := p.handlers[name]
	return fn, ok
}

func (p *Pool) execute(ctx context.Context, job jobs.Job) {
	start := time.Now()
	metrics.AddJobsInFlight(p.queueName, 1)
	defer metrics.AddJobsInFlight(p.queueName, -1)

	fields := baseFields(job)
	telemetry.Info("worker.job.started", fields)

	runCtx, abandon := context.WithCancelCause(ctx)
	defer abandon(nil)
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeat(hbCtx, job, abandon)
	result, err := p.invoke(runCtx, job)
	stopHeartbeat()

	if Abandoned(runCtx) {
		// The lease may belong to another worker now; reporting would clobber it.
		fields["duration_ms"] = time.Since(start).Milliseconds()
		telemetry.Error("worker.job.abandoned", fields)
		metrics.IncJobsAbandoned(p.queueName)
		return
	}

	elapsed := time.Since(start)
	metrics.ObserveJobDurationMs(float64(elapsed.Milliseconds()))
	fields["duration_ms"] = elapsed.Milliseconds()
	ev := Event{
		Queue:    p.queueName,
		JobID:    job.ID,
		JobName:  job.Name,
		Attempt:  job.Attempts,
		Duration: elapsed,
		Result:   result,
		Err:      err,
	}

	if err == nil {
		if cerr := p.queue.Complete(ctx, job, result); cerr != nil {
			fields["error"] = cerr.Error()
			telemetry.Error("worker.job.complete_failed", fields)
			return
		}
		metrics.IncJobsCompleted(p.queueName)
		telemetry.Info("worker.job.completed", fields)
		p.emit(ev, true)
		return
	}

	out, ferr := p.queue.Fail(ctx, job, err)
	if ferr != nil {
		fields["error"] = ferr.Error()
		telemetry.Error("worker.job.fail_record_failed", fields)
		return
	}
	ev.Final = out.Final
	metrics.IncJobsFailed(p.queueName, out.Final)
	fields["error"] = out.Reason
	fields["final"] = out.Final
	if !out.Final {
		fields["retry_at"] = out.RetryAt.Format(time.RFC3339)
	}
	telemetry.Error("worker.job.failed", fields)
	p.emit(ev, false)
}

func (p *Pool) invoke(ctx context.Context, job jobs.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("worker.job.panic", map[string]any{
				"queue":  p.queueName,
				"job_id": job.ID,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			})
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	fn, ok := p.handler(job.Name)
	if !ok {
		return nil, jobs.Permanent(fmt.Errorf("unknown job type: %s", job.Name))
	}
	return fn(ctx, &Job{Job: job, queue: p.queue})
}

// heartbeat renews the lease until ctx ends. When a renewal is refused, or
// the lease would lapse before the next tick, it cancels the handler with
// ErrLeaseLost so two workers never run the same job.
func (p *Pool) heartbeat(ctx context.Context, job jobs.Job, abandon context.CancelCauseFunc) {
	interval := max(p.opts.Lease/3, 10*time.Millisecond)
	deadline := time.Now().Add(p.opts.Lease)
	if job.LockedUntil != nil {
		deadline = *job.LockedUntil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed := time.Now().Add(p.opts.Lease)
			err := p.queue.Heartbeat(ctx, job, p.opts.Lease)
			if err == nil {
				deadline = renewed
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fields := baseFields(job)
			fields["error"] = err.Error()
			telemetry.Error("worker.job.heartbeat_failed", fields)
			if jobs.IsLockLost(err) || !time.Now().Add(interval).Before(deadline) {
				abandon(ErrLeaseLost)
				return
			}
		}
	}
}

func (p *Pool) emit(ev Event, completed bool) {
	p.mu.RLock()
	hooks := p.onFailed
	if completed {
		hooks = p.onCompleted
	}
	hooks = slices.Clone(hooks)
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

func baseFields(job jobs.Job) map[string]any {
	return map[string]any{
		"queue":        job.Queue,
		"job_id":       job.ID,
		"job_name":     job.Name,
		"attempt":      job.Attempts,
		"max_attempts": job.MaxAttempts,
	}
}
