package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGStore implements Store on the Postgres jobs table.
type PGStore struct {
	DB *sql.DB
}

const jobColumns = `queue, id, name, payload, state, priority, attempts, max_attempts,
       backoff_type, backoff_delay_ms, progress, result, failed_reason, run_at,
       lock_token, locked_until, created_at, processed_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payload, result []byte
	var backoffType string
	var backoffMs int64
	var failedReason, lockToken sql.NullString
	var lockedUntil, processedAt, finishedAt sql.NullTime
	err := row.Scan(
		&j.Queue,
		&j.ID,
		&j.Name,
		&payload,
		&j.State,
		&j.Priority,
		&j.Attempts,
		&j.MaxAttempts,
		&backoffType,
		&backoffMs,
		&j.Progress,
		&result,
		&failedReason,
		&j.RunAt,
		&lockToken,
		&lockedUntil,
		&j.CreatedAt,
		&processedAt,
		&finishedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if len(payload) > 0 {
		j.Payload = json.RawMessage(payload)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	j.Backoff = Backoff{Type: BackoffType(backoffType), Delay: time.Duration(backoffMs) * time.Millisecond}
	j.FailedReason = failedReason.String
	j.LockToken = lockToken.String
	j.LockedUntil = nullTimePtr(lockedUntil)
	j.ProcessedAt = nullTimePtr(processedAt)
	j.FinishedAt = nullTimePtr(finishedAt)
	return j, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (s *PGStore) Insert(ctx context.Context, job Job) (Job, bool, error) {
	const query = `
INSERT INTO jobs (
	queue, id, name, payload, state, priority, attempts, max_attempts,
	backoff_type, backoff_delay_ms, progress, run_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, 0, $10, $11, $11)
ON CONFLICT (queue, id) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query,
		job.Queue,
		job.ID,
		job.Name,
		[]byte(job.Payload),
		job.State,
		job.Priority,
		job.MaxAttempts,
		string(job.Backoff.Type),
		job.Backoff.Delay.Milliseconds(),
		job.RunAt,
		job.CreatedAt,
	)
	if err != nil {
		return Job{}, false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Job{}, false, err
	}
	if n == 1 {
		return job, true, nil
	}
	existing, err := s.Get(ctx, job.Queue, job.ID)
	if err != nil {
		return Job{}, false, err
	}
	return existing, false, nil
}

func (s *PGStore) Get(ctx context.Context, queue, id string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE queue = $1 AND id = $2`
	j, err := scanJob(s.DB.QueryRowContext(ctx, query, queue, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PGStore) List(ctx context.Context, queue string, state State, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + `
FROM jobs
WHERE queue = $1 AND ($2 = '' OR state = $2)
ORDER BY created_at DESC
LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, query, queue, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PGStore) Claim(ctx context.Context, queue string, now time.Time, lease time.Duration, token string) (Job, bool, error) {
	if err := s.failStalled(ctx, queue, now); err != nil {
		return Job{}, false, err
	}
	// SKIP LOCKED lets concurrent workers pass over a row another claim is holding.
	query := `
UPDATE jobs
SET state = 'active',
    attempts = attempts + 1,
    lock_token = $3,
    locked_until = $4,
    processed_at = $2,
    updated_at = $2
WHERE (queue, id) = (
	SELECT queue, id FROM jobs
	WHERE queue = $1
	  AND ((state IN ('waiting', 'delayed') AND run_at <= $2)
	       OR (state = 'active' AND locked_until < $2 AND attempts < max_attempts))
	ORDER BY priority DESC, run_at, created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns
	j, err := scanJob(s.DB.QueryRowContext(ctx, query, queue, now, token, now.Add(lease)))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return j, true, nil
}

// failStalled fails active jobs whose lease expired on their final attempt,
// so a worker that dies every time cannot keep a job alive forever.
func (s *PGStore) failStalled(ctx context.Context, queue string, now time.Time) error {
	const query = `
UPDATE jobs
SET state = 'failed', failed_reason = $3, finished_at = $2,
    lock_token = NULL, locked_until = NULL, updated_at = $2
WHERE queue = $1 AND state = 'active' AND locked_until < $2 AND attempts >= max_attempts`
	if _, err := s.DB.ExecContext(ctx, query, queue, now, StalledReason); err != nil {
		return fmt.Errorf("fail stalled jobs: %w", err)
	}
	return nil
}

// execOwned runs an UPDATE guarded by the lock token and maps zero rows to ErrLockLost.
func (s *PGStore) execOwned(ctx context.Context, op, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (s *PGStore) Heartbeat(ctx context.Context, queue, id, token string, until time.Time) error {
	const query = `
UPDATE jobs SET locked_until = $4, updated_at = now()
WHERE queue = $1 AND id = $2 AND lock_token = $3 AND state = 'active'`
	return s.execOwned(ctx, "heartbeat job", query, queue, id, token, until)
}

func (s *PGStore) SetProgress(ctx context.Context, queue, id, token string, progress int) error {
	const query = `
UPDATE jobs SET progress = $4, updated_at = now()
WHERE queue = $1 AND id = $2 AND lock_token = $3 AND state = 'active'`
	return s.execOwned(ctx, "set job progress", query, queue, id, token, clampProgress(progress))
}

func (s *PGStore) Complete(ctx context.Context, queue, id, token string, result json.RawMessage, now time.Time) error {
	const query = `
UPDATE jobs
SET state = 'completed', result = $4, finished_at = $5,
    lock_token = NULL, locked_until = NULL, updated_at = $5
WHERE queue = $1 AND id = $2 AND lock_token = $3 AND state = 'active'`
	var payload any
	if len(result) > 0 {
		payload = []byte(result)
	}
	return s.execOwned(ctx, "complete job", query, queue, id, token, payload, now)
}

func (s *PGStore) Fail(ctx context.Context, queue, id, token, reason string, retryAt *time.Time, now time.Time) error {
	const query = `
UPDATE jobs
SET state = $4, failed_reason = $5, run_at = COALESCE($6, run_at), finished_at = $7,
    lock_token = NULL, locked_until = NULL, updated_at = $8
WHERE queue = $1 AND id = $2 AND lock_token = $3 AND state = 'active'`
	state := StateFailed
	var runAt, finishedAt any
	if retryAt != nil {
		state = StateDelayed
		runAt = *retryAt
	} else {
		finishedAt = now
	}
	return s.execOwned(ctx, "fail job", query, queue, id, token, state, reason, runAt, finishedAt, now)
}

func (s *PGStore) Retry(ctx context.Context, queue, id string, now time.Time) error {
	const query = `
UPDATE jobs
SET state = 'waiting', attempts = 0, run_at = $3, failed_reason = NULL,
    result = NULL, progress = 0, finished_at = NULL, updated_at = $3
WHERE queue = $1 AND id = $2 AND state = 'failed'`
	res, err := s.DB.ExecContext(ctx, query, queue, id, now)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, queue, id); err != nil {
		return err
	}
	return ErrNotFailed
}

var _ Store = (*PGStore)(nil)
