package jobs

import (
	"strings"
	"time"
)

// Job names registered on each queue.
const (
	NameExploratoryAnalysis = "exploratory-analysis"
	NameFinalizeAnalysis    = "finalize-analysis"
)

// AnalysisJobKey derives the idempotency key for an exploratory analysis job.
func AnalysisJobKey(analysisID string) string { return "analysis-" + analysisID }

// FinalizeJobKey derives the idempotency key for a finalize job.
func FinalizeJobKey(analysisID string) string { return "finalize-" + analysisID }

// QueueOf infers the queue from a job id produced by AnalysisJobKey or FinalizeJobKey.
func QueueOf(id string) (string, bool) {
	switch {
	case strings.HasPrefix(id, "analysis-"):
		return QueueAnalysis, true
	case strings.HasPrefix(id, "finalize-"):
		return QueueFinalize, true
	}
	return "", false
}

// AnalysisOptions is the retry policy for exploratory analysis: 3 attempts, 2s exponential.
func AnalysisOptions(analysisID string) Options {
	return Options{
		IdempotencyKey: AnalysisJobKey(analysisID),
		MaxAttempts:    3,
		Backoff:        Backoff{Type: BackoffExponential, Delay: 2 * time.Second},
	}
}

// FinalizeOptions is the retry policy for finalize: 5 attempts, 5s exponential.
func FinalizeOptions(analysisID string) Options {
	return Options{
		IdempotencyKey: FinalizeJobKey(analysisID),
		MaxAttempts:    5,
		Backoff:        Backoff{Type: BackoffExponential, Delay: 5 * time.Second},
	}
}
