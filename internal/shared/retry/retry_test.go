package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) Temporary() bool { return e.code == 429 || e.code >= 500 }

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	prev := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleep = prev })
	return &waits
}

func TestDoRetriesTransientErrors(t *testing.T) {
	waits := noSleep(t)
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Second}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return statusErr{code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(*waits) != 2 || (*waits)[0] != time.Second || (*waits)[1] != 2*time.Second {
		t.Fatalf("unexpected waits %v", *waits)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	noSleep(t)
	calls := 0
	err := Do(context.Background(), Default(), func(ctx context.Context, attempt int) error {
		calls++
		return statusErr{code: 400}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing call, got calls=%d err=%v", calls, err)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	noSleep(t)
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) || calls != 3 {
		t.Fatalf("expected 3 calls ending in deadline, got calls=%d err=%v", calls, err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Fatalf("canceled must not be retried")
	}
	if !IsTransient(errors.New("read: connection reset by peer")) {
		t.Fatalf("connection reset should be transient")
	}
	if IsTransient(errors.New("invalid json")) {
		t.Fatalf("plain errors are not transient")
	}
}

func TestExponentialProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Duration(rapid.Int64Range(1, int64(10*time.Second)).Draw(t, "base"))
		n := rapid.IntRange(0, 40).Draw(t, "n")
		limit := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "limit"))

		d := Exponential(base, n, limit)
		if d <= 0 {
			t.Fatalf("non-positive delay %s", d)
		}
		if limit > 0 && d > limit {
			t.Fatalf("delay %s exceeds limit %s", d, limit)
		}
		next := Exponential(base, n+1, limit)
		if next < d {
			t.Fatalf("delay decreased: %s then %s", d, next)
		}
	})
}

func TestJitterBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		upper := time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(t, "upper"))
		j := Jitter(upper)
		if j < 0 || (upper > 0 && j >= upper) || (upper == 0 && j != 0) {
			t.Fatalf("jitter %s out of [0,%s)", j, upper)
		}
	})
}
