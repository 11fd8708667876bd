package snapshots

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestShouldRefreshExamples(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		count int
		since time.Duration
		want  bool
	}{
		{"fifth message", 5, time.Second, true},
		{"tenth message", 10, 0, true},
		{"zero messages recent", 0, time.Second, false},
		{"sixth message recent", 6, 10 * time.Second, false},
		{"quiet for threshold", 6, 30 * time.Second, true},
		{"quiet for longer", 1, time.Hour, true},
	}
	for _, tc := range cases {
		if got := p.ShouldRefresh(tc.count, now.Add(-tc.since), now); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestShouldRefreshProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		modulus := rapid.IntRange(1, 20).Draw(t, "modulus")
		threshold := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "threshold"))
		count := rapid.IntRange(0, 1000).Draw(t, "count")
		elapsed := time.Duration(rapid.Int64Range(0, int64(2*time.Hour)).Draw(t, "elapsed"))

		p := Policy{MessageModulus: modulus, TimeThreshold: threshold}
		now := time.Unix(1_800_000_000, 0)
		got := p.ShouldRefresh(count, now.Add(-elapsed), now)
		want := (count > 0 && count%modulus == 0) || elapsed >= threshold
		if got != want {
			t.Fatalf("ShouldRefresh(count=%d, elapsed=%s) with %+v = %v, want %v", count, elapsed, p, got, want)
		}
	})
}
