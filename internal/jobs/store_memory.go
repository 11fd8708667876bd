package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type jobKey struct {
	queue string
	id    string
}

type memoryEntry struct {
	job Job
	seq int64
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[jobKey]*memoryEntry
	seq     int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[jobKey]*memoryEntry)}
}

func (s *MemoryStore) Insert(ctx context.Context, job Job) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{queue: job.Queue, id: job.ID}
	if existing, ok := s.entries[key]; ok {
		return existing.job, false, nil
	}
	s.seq++
	s.entries[key] = &memoryEntry{job: job, seq: s.seq}
	return job, true, nil
}

func (s *MemoryStore) Get(ctx context.Context, queue, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[jobKey{queue: queue, id: id}]
	if !ok {
		return Job{}, ErrNotFound
	}
	return e.job, nil
}

func (s *MemoryStore) List(ctx context.Context, queue string, state State, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*memoryEntry
	for k, e := range s.entries {
		if k.queue != queue || (state != "" && e.job.State != state) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Job, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.job)
	}
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, queue string, now time.Time, lease time.Duration, token string) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *memoryEntry
	for k, e := range s.entries {
		if k.queue != queue {
			continue
		}
		if stalled(e.job, now) {
			failStalled(e, now)
			continue
		}
		if !claimable(e.job, now) {
			continue
		}
		if best == nil || before(e, best) {
			best = e
		}
	}
	if best == nil {
		return Job{}, false, nil
	}

	until := now.Add(lease)
	processed := now
	best.job.State = StateActive
	best.job.Attempts++
	best.job.LockToken = token
	best.job.LockedUntil = &until
	best.job.ProcessedAt = &processed
	return best.job, true, nil
}

func claimable(j Job, now time.Time) bool {
	switch j.State {
	case StateWaiting, StateDelayed:
		return !j.RunAt.After(now)
	case StateActive:
		return j.LockedUntil != nil && j.LockedUntil.Before(now)
	}
	return false
}

// stalled reports an active job whose lease expired with no attempts left.
func stalled(j Job, now time.Time) bool {
	return j.State == StateActive && j.LockedUntil != nil && j.LockedUntil.Before(now) && j.Attempts >= j.MaxAttempts
}

func failStalled(e *memoryEntry, now time.Time) {
	finished := now
	e.job.State = StateFailed
	e.job.FailedReason = StalledReason
	e.job.FinishedAt = &finished
	e.job.LockToken = ""
	e.job.LockedUntil = nil
}

func before(a, b *memoryEntry) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.RunAt.Equal(b.job.RunAt) {
		return a.job.RunAt.Before(b.job.RunAt)
	}
	return a.seq < b.seq
}

// owned returns the entry when token still holds the lock. Callers hold s.mu.
func (s *MemoryStore) owned(queue, id, token string) (*memoryEntry, error) {
	e, ok := s.entries[jobKey{queue: queue, id: id}]
	if !ok {
		return nil, ErrNotFound
	}
	if e.job.State != StateActive || e.job.LockToken != token {
		return nil, ErrLockLost
	}
	return e, nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, queue, id, token string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.owned(queue, id, token)
	if err != nil {
		return err
	}
	e.job.LockedUntil = &until
	return nil
}

func (s *MemoryStore) SetProgress(ctx context.Context, queue, id, token string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.owned(queue, id, token)
	if err != nil {
		return err
	}
	e.job.Progress = clampProgress(progress)
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, queue, id, token string, result json.RawMessage, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.owned(queue, id, token)
	if err != nil {
		return err
	}
	finished := now
	e.job.State = StateCompleted
	e.job.Result = result
	e.job.FinishedAt = &finished
	e.job.LockToken = ""
	e.job.LockedUntil = nil
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, queue, id, token, reason string, retryAt *time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.owned(queue, id, token)
	if err != nil {
		return err
	}
	e.job.FailedReason = reason
	e.job.LockToken = ""
	e.job.LockedUntil = nil
	if retryAt == nil {
		finished := now
		e.job.State = StateFailed
		e.job.FinishedAt = &finished
		return nil
	}
	e.job.State = StateDelayed
	e.job.RunAt = *retryAt
	return nil
}

func (s *MemoryStore) Retry(ctx context.Context, queue, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[jobKey{queue: queue, id: id}]
	if !ok {
		return ErrNotFound
	}
	if e.job.State != StateFailed {
		return ErrNotFailed
	}
	e.job.State = StateWaiting
	e.job.Attempts = 0
	e.job.RunAt = now
	e.job.FailedReason = ""
	e.job.Result = nil
	e.job.Progress = 0
	e.job.FinishedAt = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
