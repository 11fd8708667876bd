package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var jobColumnNames = []string{
	"queue", "id", "name", "payload", "state", "priority", "attempts", "max_attempts",
	"backoff_type", "backoff_delay_ms", "progress", "result", "failed_reason", "run_at",
	"lock_token", "locked_until", "created_at", "processed_at", "finished_at",
}

func TestPGStoreInsertReturnsExistingOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &PGStore{DB: db}
	now := time.Now().UTC()
	job := Job{
		ID:          "finalize-a1",
		Queue:       QueueFinalize,
		Name:        NameFinalizeAnalysis,
		Payload:     json.RawMessage(`{"analysisId":"a1"}`),
		MaxAttempts: 5,
		Backoff:     Backoff{Type: BackoffExponential, Delay: 5 * time.Second},
		State:       StateWaiting,
		RunAt:       now,
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(job.Queue, job.ID, job.Name, sqlmock.AnyArg(), job.State, 0, 5, "exponential", int64(5000), now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE queue = \\$1 AND id = \\$2").
		WithArgs(job.Queue, job.ID).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			job.Queue, job.ID, job.Name, []byte(job.Payload), "active", 0, 1, 5,
			"exponential", int64(5000), 40, nil, nil, now,
			"tok", now.Add(time.Minute), now, now, nil,
		))

	stored, inserted, err := store.Insert(context.Background(), job)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected conflict to report inserted=false")
	}
	if stored.State != StateActive || stored.Progress != 40 || stored.Attempts != 1 {
		t.Fatalf("expected existing job, got %+v", stored)
	}
	if stored.Backoff.Delay != 5*time.Second {
		t.Fatalf("unexpected backoff %v", stored.Backoff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreClaimNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &PGStore{DB: db}
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE jobs SET state = 'failed'").
		WithArgs(QueueAnalysis, now, StalledReason).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE jobs").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, ok, err := store.Claim(context.Background(), QueueAnalysis, now, time.Minute, "tok")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatalf("expected no job")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreClaimFailsStalledFinalAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &PGStore{DB: db}
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE jobs SET state = 'failed'(.+)attempts >= max_attempts").
		WithArgs(QueueFinalize, now, StalledReason).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("locked_until < \\$2 AND attempts < max_attempts").
		WithArgs(QueueFinalize, now, "tok", now.Add(time.Minute)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, ok, err := store.Claim(context.Background(), QueueFinalize, now, time.Minute, "tok")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatalf("a stalled final attempt must not be handed out again")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreClaimStalledUpdateError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &PGStore{DB: db}
	mock.ExpectExec("UPDATE jobs SET state = 'failed'").
		WillReturnError(errors.New("connection reset"))

	if _, _, err := store.Claim(context.Background(), QueueFinalize, time.Now(), time.Minute, "tok"); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCompleteWithStaleTokenIsLockLost(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &PGStore{DB: db}
	mock.ExpectExec("UPDATE jobs").
		WithArgs(QueueFinalize, "finalize-a1", "stale", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Complete(context.Background(), QueueFinalize, "finalize-a1", "stale", json.RawMessage(`{}`), time.Now())
	if !IsLockLost(err) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
}

func TestPGStoreFailSchedulesRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &PGStore{DB: db}
	now := time.Now().UTC()
	retryAt := now.Add(10 * time.Second)
	mock.ExpectExec("UPDATE jobs").
		WithArgs(QueueAnalysis, "analysis-a1", "tok", StateDelayed, "boom", retryAt, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Fail(context.Background(), QueueAnalysis, "analysis-a1", "tok", "boom", &retryAt, now); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
