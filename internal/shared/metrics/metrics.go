package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsEnqueued  = newCounterVec("queue")
	jobsCompleted = newCounterVec("queue")
	jobsFailed    = newCounterVec("queue", "final")
	jobsInFlight  = newCounterVec("queue")
	jobsAbandoned = newCounterVec("queue")

	analysisStarted   = newCounterVec("kind")
	analysisCompleted = newCounterVec("kind")
	analysisFailed    = newCounterVec("kind")

	artifactsCreated = newCounterVec("type")
	artifactsFailed  = newCounterVec("type")

	snapshotRefreshFailedTotal atomic.Uint64

	jobDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000, 300000})
)

// IncJobsEnqueued counts newly created jobs.
func IncJobsEnqueued(queue string) { jobsEnqueued.Inc(queue) }

// IncJobsCompleted counts jobs whose handler returned without error.
func IncJobsCompleted(queue string) { jobsCompleted.Inc(queue) }

// IncJobsFailed counts failed attempts; final marks attempts that exhausted the retry budget.
func IncJobsFailed(queue string, final bool) { jobsFailed.Inc(queue, strconv.FormatBool(final)) }

// IncJobsAbandoned counts attempts dropped after their lease was lost.
func IncJobsAbandoned(queue string) { jobsAbandoned.Inc(queue) }

// AddJobsInFlight adjusts the in-flight gauge.
func AddJobsInFlight(queue string, delta int64) { jobsInFlight.Add(delta, queue) }

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted(kind string) { analysisStarted.Inc(kind) }

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted(kind string) { analysisCompleted.Inc(kind) }

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed(kind string) { analysisFailed.Inc(kind) }

// IncArtifactCreated counts stored artifacts by type.
func IncArtifactCreated(kind string) { artifactsCreated.Inc(kind) }

// IncArtifactFailed counts skipped artifact sub-tasks by type.
func IncArtifactFailed(kind string) { artifactsFailed.Inc(kind) }

// IncSnapshotRefreshFailed counts background snapshot refreshes that errored.
func IncSnapshotRefreshFailed() { snapshotRefreshFailedTotal.Add(1) }

// ObserveJobDurationMs records a handler duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounterVec(&buf, "jobs_enqueued_total", "Jobs created", "counter", jobsEnqueued)
	writeCounterVec(&buf, "jobs_completed_total", "Jobs completed", "counter", jobsCompleted)
	writeCounterVec(&buf, "jobs_failed_total", "Failed job attempts", "counter", jobsFailed)
	writeCounterVec(&buf, "jobs_abandoned_total", "Job attempts abandoned after losing the lease", "counter", jobsAbandoned)
	writeCounterVec(&buf, "jobs_in_flight", "Jobs currently executing", "gauge", jobsInFlight)
	writeCounterVec(&buf, "analysis_started_total", "Analyses started", "counter", analysisStarted)
	writeCounterVec(&buf, "analysis_completed_total", "Analyses completed", "counter", analysisCompleted)
	writeCounterVec(&buf, "analysis_failed_total", "Analyses failed", "counter", analysisFailed)
	writeCounterVec(&buf, "artifacts_created_total", "Artifacts stored", "counter", artifactsCreated)
	writeCounterVec(&buf, "artifacts_failed_total", "Artifact sub-tasks skipped after an error", "counter", artifactsFailed)
	writeCounter(&buf, "snapshot_refresh_failed_total", "Background snapshot refresh failures", snapshotRefreshFailedTotal.Load())
	writeHistogram(&buf, "job_duration_ms", "Job handler duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

type counterVec struct {
	labels []string
	mu     sync.Mutex
	values map[string]*atomic.Int64
}

func newCounterVec(labels ...string) *counterVec {
	return &counterVec{labels: labels, values: make(map[string]*atomic.Int64)}
}

func (c *counterVec) Inc(labelValues ...string) { c.Add(1, labelValues...) }

func (c *counterVec) Add(delta int64, labelValues ...string) {
	key := c.render(labelValues)
	c.mu.Lock()
	v, ok := c.values[key]
	if !ok {
		v = new(atomic.Int64)
		c.values[key] = v
	}
	c.mu.Unlock()
	v.Add(delta)
}

// Value returns the current count for the given label values.
func (c *counterVec) Value(labelValues ...string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[c.render(labelValues)]; ok {
		return v.Load()
	}
	return 0
}

func (c *counterVec) render(values []string) string {
	var buf bytes.Buffer
	for i, name := range c.labels {
		val := ""
		if i < len(values) {
			val = values[i]
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%s=%q", name, val)
	}
	return buf.String()
}

func (c *counterVec) snapshot() (keys []string, vals map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals = make(map[string]int64, len(c.values))
	for k, v := range c.values {
		keys = append(keys, k)
		vals[k] = v.Load()
	}
	sort.Strings(keys)
	return keys, vals
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe adds value to the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeCounterVec(buf *bytes.Buffer, name, help, kind string, c *counterVec) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s %s\n", name, kind)
	keys, vals := c.snapshot()
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s} %d\n", name, k, vals[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
