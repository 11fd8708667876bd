package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderIncludesLabelledCounters(t *testing.T) {
	IncJobsEnqueued("finalize")
	IncJobsFailed("finalize", true)
	IncArtifactCreated("audio")
	IncJobsAbandoned("finalize")

	out := Render()
	for _, want := range []string{
		`jobs_enqueued_total{queue="finalize"}`,
		`jobs_failed_total{queue="finalize",final="true"}`,
		`artifacts_created_total{type="audio"}`,
		`jobs_abandoned_total{queue="finalize"}`,
		"# TYPE jobs_in_flight gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCounterVecValue(t *testing.T) {
	c := newCounterVec("queue")
	c.Inc("analysis")
	c.Add(2, "analysis")
	c.Inc("finalize")
	if got := c.Value("analysis"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := c.Value("missing"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	if snap.count != 3 || snap.counts[0] != 1 || snap.counts[1] != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	var buf bytes.Buffer
	writeHistogram(&buf, "d", "help", snap)
	out := buf.String()
	for _, want := range []string{`d_bucket{le="10"} 1`, `d_bucket{le="100"} 2`, `d_bucket{le="+Inf"} 3`, "d_sum 555"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}
