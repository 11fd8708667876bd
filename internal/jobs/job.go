package jobs

import (
	"encoding/json"
	"time"

	"audiobrand-backend/internal/shared/retry"
)

// Queue names.
const (
	QueueAnalysis = "analysis"
	QueueFinalize = "finalize"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// maxBackoff caps a single retry wait.
const maxBackoff = 10 * time.Minute

// Backoff describes the delay between attempts.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// Next returns the wait before the attempt that follows attempt number `attempt` (1-based).
// Exponential delays double each attempt and carry up to Delay/2 of jitter.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	return retry.Exponential(b.Delay, attempt-1, maxBackoff) + retry.Jitter(b.Delay/2)
}

// Options control how a job is enqueued.
type Options struct {
	// IdempotencyKey becomes the job id. A second enqueue with the same key
	// returns the existing job instead of creating another.
	IdempotencyKey string
	MaxAttempts    int
	Backoff        Backoff
	// Priority orders ready jobs; higher runs first.
	Priority int
	// Delay postpones the first attempt.
	Delay time.Duration
}

// Job is a unit of work as persisted by a Store.
type Job struct {
	ID           string
	Queue        string
	Name         string
	Payload      json.RawMessage
	Priority     int
	Attempts     int
	MaxAttempts  int
	Backoff      Backoff
	State        State
	Progress     int
	Result       json.RawMessage
	FailedReason string
	RunAt        time.Time
	LockToken    string
	LockedUntil  *time.Time
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	FinishedAt   *time.Time
}

// FinalAttempt reports whether a failure of the current attempt exhausts the retry budget.
func (j Job) FinalAttempt() bool {
	return j.Attempts >= j.MaxAttempts
}

// Handle is returned by Enqueue.
type Handle struct {
	ID      string `json:"id"`
	Queue   string `json:"queue"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

// Status is the introspection view of a job.
type Status struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	State        State           `json:"state"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"returnValue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	Attempts     int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"timestamp"`
	ProcessedAt  *time.Time      `json:"processedOn,omitempty"`
	FinishedAt   *time.Time      `json:"finishedOn,omitempty"`
}

func statusOf(j Job) Status {
	return Status{
		ID:           j.ID,
		Queue:        j.Queue,
		Name:         j.Name,
		State:        j.State,
		Progress:     j.Progress,
		Result:       j.Result,
		FailedReason: j.FailedReason,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Data:         j.Payload,
		CreatedAt:    j.CreatedAt,
		ProcessedAt:  j.ProcessedAt,
		FinishedAt:   j.FinishedAt,
	}
}

func clampProgress(p int) int {
	return min(100, max(0, p))
}
