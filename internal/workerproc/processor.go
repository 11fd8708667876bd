// Package workerproc holds the job handlers that drive analyses from
// running to a terminal status.
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"audiobrand-backend/internal/analyses"
	"audiobrand-backend/internal/artifacts"
	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/media"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/storage/object"
	"audiobrand-backend/internal/shared/telemetry"
	"audiobrand-backend/internal/snapshots"
	"audiobrand-backend/internal/workers"
)

// PromptSanitizer rewrites a music prompt before it is sent to a provider.
type PromptSanitizer interface {
	Sanitize(prompt string) string
}

// ReportRenderer renders a validated final report into a document.
type ReportRenderer interface {
	Render(ctx context.Context, report analyses.FinalReport, title string) ([]byte, error)
}

// Config carries model and audio settings.
type Config struct {
	ExploratoryModel  string
	FinalModel        string
	AudioDurationMs   int
	AudioOutputFormat string
}

// Processor implements the exploratory and finalize job handlers.
type Processor struct {
	Analyses  analyses.Repo
	Projects  projects.Repo
	Artifacts artifacts.Repo
	Store     object.ObjectStore
	LLM       llm.Client
	Composer  media.Composer
	Sanitizer PromptSanitizer
	Reports   ReportRenderer
	Snapshots *snapshots.Builder
	// Refresher is optional. When nil the stored snapshot is not refreshed.
	Refresher *snapshots.Refresher
	Config    Config
	Now       func() time.Time
}

// Register binds the handlers to their pools. Either pool may be nil.
func (p *Processor) Register(analysis, finalize *workers.Pool) {
	if analysis != nil {
		analysis.Handle(jobs.NameExploratoryAnalysis, p.Exploratory)
	}
	if finalize != nil {
		finalize.Handle(jobs.NameFinalizeAnalysis, p.Finalize)
	}
}

// Skipped is returned for jobs whose analysis was already terminal.
type Skipped struct {
	AnalysisID string          `json:"analysisId"`
	Status     analyses.Status `json:"status"`
	Skipped    bool            `json:"skipped"`
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// begin marks the analysis running. proceed is false when the analysis is
// already terminal and the job should be acknowledged without work.
func (p *Processor) begin(ctx context.Context, analysisID string) (a analyses.Analysis, proceed bool, err error) {
	a, err = p.Analyses.GetByID(ctx, analysisID)
	if errors.Is(err, analyses.ErrNotFound) {
		return a, false, jobs.Permanent(fmt.Errorf("analysis %s: %w", analysisID, err))
	}
	if err != nil {
		return a, false, fmt.Errorf("load analysis: %w", err)
	}
	if a.Status.Terminal() {
		telemetry.Info("worker.analysis.skipped", map[string]any{
			"analysis_id": analysisID,
			"status":      string(a.Status),
		})
		return a, false, nil
	}

	running := analyses.StatusRunning
	u := analyses.Update{Status: &running}
	if a.StartedAt == nil {
		now := p.now()
		u.StartedAt = &now
	}
	if a.FailureReason != "" {
		cleared := ""
		u.FailureReason = &cleared
	}
	a, err = p.Analyses.Update(ctx, analysisID, u)
	if errors.Is(err, analyses.ErrTerminal) {
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("mark running: %w", err)
	}
	return a, true, nil
}

// fail records cause on the analysis and returns it for the queue. Only a
// permanent error or the last attempt moves the analysis to failed; earlier
// attempts keep it running with the reason visible to pollers.
func (p *Processor) fail(ctx context.Context, job *workers.Job, kind analyses.Kind, analysisID string, cause error) error {
	if workers.Abandoned(ctx) {
		// Another worker may own the analysis now.
		telemetry.Warn("worker.analysis.abandoned", map[string]any{
			"analysis_id": analysisID,
			"kind":        string(kind),
			"job_id":      job.ID,
			"attempt":     job.Attempts,
		})
		return cause
	}
	ctx = context.WithoutCancel(ctx)
	reason := jobs.FailureReason(cause)
	final := jobs.IsPermanent(cause) || job.FinalAttempt()

	u := analyses.Update{FailureReason: &reason}
	if final {
		failed := analyses.StatusFailed
		now := p.now()
		u.Status = &failed
		u.FinishedAt = &now
	}
	_, err := p.Analyses.Update(ctx, analysisID, u)
	switch {
	case err == nil:
		if final {
			metrics.IncAnalysisFailed(string(kind))
		}
	case errors.Is(err, analyses.ErrTerminal), errors.Is(err, analyses.ErrNotFound):
	default:
		telemetry.Error("worker.analysis.record_failure_failed", map[string]any{
			"analysis_id": analysisID,
			"error":       err.Error(),
		})
	}

	telemetry.Error("worker.analysis.failed", map[string]any{
		"analysis_id": analysisID,
		"kind":        string(kind),
		"job_id":      job.ID,
		"attempt":     job.Attempts,
		"final":       final,
		"error":       reason,
	})
	return cause
}

// complete moves the analysis to done. response may be nil to keep the stored one.
func (p *Processor) complete(ctx context.Context, a analyses.Analysis, response []byte) error {
	done := analyses.StatusDone
	now := p.now()
	cleared := ""
	u := analyses.Update{Status: &done, FinishedAt: &now, FailureReason: &cleared, Response: response}
	if _, err := p.Analyses.Update(ctx, a.ID, u); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	metrics.IncAnalysisCompleted(string(a.Kind))
	telemetry.Info("worker.analysis.done", map[string]any{
		"analysis_id": a.ID,
		"project_id":  a.ProjectID,
		"kind":        string(a.Kind),
	})
	return nil
}

// progress updates the job's own progress. A lost lock is logged; the
// analysis row remains the source of truth for clients.
func progress(ctx context.Context, job *workers.Job, value int) {
	if err := job.UpdateProgress(ctx, value); err != nil {
		telemetry.Warn("worker.progress_failed", map[string]any{
			"job_id":   job.ID,
			"progress": value,
			"error":    err.Error(),
		})
	}
}

func snapshotErr(err error) error {
	if errors.Is(err, projects.ErrNotFound) {
		return jobs.Permanent(fmt.Errorf("build snapshot: %w", err))
	}
	return fmt.Errorf("build snapshot: %w", err)
}
