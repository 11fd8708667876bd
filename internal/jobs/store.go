package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Store persists jobs. Claim must hand a ready job to exactly one caller;
// reporting methods must reject callers whose lock token no longer matches.
type Store interface {
	// Insert stores job unless one with the same queue and id exists, in which
	// case the existing job is returned with inserted=false.
	Insert(ctx context.Context, job Job) (stored Job, inserted bool, err error)
	Get(ctx context.Context, queue, id string) (Job, error)
	// List returns jobs newest first. An empty state matches all states.
	List(ctx context.Context, queue string, state State, limit int) ([]Job, error)
	// Claim activates the next ready job, or an active job whose lease expired.
	Claim(ctx context.Context, queue string, now time.Time, lease time.Duration, token string) (Job, bool, error)
	Heartbeat(ctx context.Context, queue, id, token string, until time.Time) error
	SetProgress(ctx context.Context, queue, id, token string, progress int) error
	Complete(ctx context.Context, queue, id, token string, result json.RawMessage, now time.Time) error
	// Fail records reason. A nil retryAt makes the failure terminal; otherwise
	// the job is delayed until retryAt.
	Fail(ctx context.Context, queue, id, token, reason string, retryAt *time.Time, now time.Time) error
	// Retry moves a failed job back to waiting with its attempts reset.
	Retry(ctx context.Context, queue, id string, now time.Time) error
}
