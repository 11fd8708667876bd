package workerproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"audiobrand-backend/internal/analyses"
	"audiobrand-backend/internal/artifacts"
	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/media"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/telemetry"
	"audiobrand-backend/internal/shared/util"
	"audiobrand-backend/internal/workers"
)

const (
	finalTemperature = 0.3
	finalMaxTokens   = 12000
	progressPerAudio = 100 / analyses.DescriptionCount
)

// FinalizeResult is the job result of a finalize run.
type FinalizeResult struct {
	AnalysisID      string `json:"analysisId"`
	AudioArtifacts  int    `json:"audioArtifacts"`
	ReportGenerated bool   `json:"reportGenerated"`
}

// target is what every finalize sub-task needs to name and file its output.
type target struct {
	analysisID string
	projectID  string
	brand      string
}

// Finalize handles finalize-analysis jobs.
func (p *Processor) Finalize(ctx context.Context, job *workers.Job) (any, error) {
	var payload analyses.FinalizePayload
	if err := job.Decode(&payload); err != nil {
		return nil, jobs.Permanent(ErrDecode{Queue: job.Queue, JobID: job.ID, Err: err})
	}
	if payload.AnalysisID == "" || payload.ProjectID == "" {
		return nil, jobs.Permanent(ErrDecode{Queue: job.Queue, JobID: job.ID, Err: errors.New("analysisId and projectId are required")})
	}

	a, proceed, err := p.begin(ctx, payload.AnalysisID)
	if err != nil {
		return nil, p.fail(ctx, job, analyses.KindRigidFinal, payload.AnalysisID, err)
	}
	if !proceed {
		return Skipped{AnalysisID: a.ID, Status: a.Status, Skipped: true}, nil
	}

	res, err := p.runFinalize(ctx, job, a, payload)
	if err != nil {
		return nil, p.fail(ctx, job, analyses.KindRigidFinal, payload.AnalysisID, err)
	}
	return res, nil
}

func (p *Processor) runFinalize(ctx context.Context, job *workers.Job, a analyses.Analysis, payload analyses.FinalizePayload) (FinalizeResult, error) {
	project, err := p.Projects.GetProject(ctx, payload.ProjectID)
	if errors.Is(err, projects.ErrNotFound) {
		return FinalizeResult{}, jobs.Permanent(fmt.Errorf("project %s: %w", payload.ProjectID, err))
	}
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("load project: %w", err)
	}
	snap, err := p.Snapshots.Build(ctx, payload.ProjectID)
	if err != nil {
		return FinalizeResult{}, snapshotErr(err)
	}

	report, raw, err := p.generateReport(ctx, finalPrompt(snap, payload.UseFindingsDraft, payload.SelectedIdeas))
	if err != nil {
		return FinalizeResult{}, err
	}
	if _, err := p.Analyses.Update(ctx, a.ID, analyses.Update{Response: raw}); err != nil {
		return FinalizeResult{}, fmt.Errorf("store final report: %w", err)
	}

	t := target{analysisID: a.ID, projectID: payload.ProjectID, brand: project.BrandName}
	res := FinalizeResult{AnalysisID: a.ID}
	for n := 1; n <= analyses.DescriptionCount; n++ {
		if ctx.Err() != nil {
			return FinalizeResult{}, context.Cause(ctx)
		}
		if err := p.attemptAudio(ctx, job, t, n, report.Jingle.Description(n)); err != nil {
			metrics.IncArtifactFailed(string(artifacts.TypeAudio))
			telemetry.Error("finalize.audio.failed", map[string]any{
				"analysis_id":        a.ID,
				"description_number": n,
				"error":              err.Error(),
			})
			continue
		}
		res.AudioArtifacts++
	}

	if ctx.Err() != nil {
		return FinalizeResult{}, context.Cause(ctx)
	}
	if err := p.attemptReport(ctx, t, *report); err != nil {
		metrics.IncArtifactFailed(string(artifacts.TypePDF))
		telemetry.Error("finalize.report.failed", map[string]any{
			"analysis_id": a.ID,
			"error":       err.Error(),
		})
	} else {
		res.ReportGenerated = true
	}

	if err := p.complete(ctx, a, nil); err != nil {
		return FinalizeResult{}, err
	}
	telemetry.Info("finalize.complete", map[string]any{
		"analysis_id":      a.ID,
		"audio_artifacts":  res.AudioArtifacts,
		"report_generated": res.ReportGenerated,
	})
	return res, nil
}

// generateReport makes the schema-gated generator call. The returned raw
// JSON is what gets persisted, so fields outside FinalReport survive.
func (p *Processor) generateReport(ctx context.Context, prompt string) (*analyses.FinalReport, json.RawMessage, error) {
	resp, err := p.LLM.Complete(ctx, llm.Request{
		Model:       p.Config.FinalModel,
		Messages:    llm.Messages(finalSystem, prompt),
		Temperature: finalTemperature,
		MaxTokens:   finalMaxTokens,
		Schema:      &llm.JSONSchema{Name: "jingle_report", Schema: analyses.FinalReportSchema()},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("final generation: %w", err)
	}
	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("final report: %w", err)
	}
	var report analyses.FinalReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, nil, fmt.Errorf("decode final report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return nil, nil, err
	}
	return &report, raw, nil
}

// attemptAudio renders, stores and records audio n, then advances progress.
// An artifact already stored under the same key counts as done.
func (p *Processor) attemptAudio(ctx context.Context, job *workers.Job, t target, n int, d *analyses.MusicalDescription) error {
	key := artifacts.AudioKey(t.projectID, t.analysisID, n)
	_, err := p.Artifacts.FindByStorageKey(ctx, t.analysisID, key)
	switch {
	case err == nil:
		telemetry.Info("finalize.audio.exists", map[string]any{"analysis_id": t.analysisID, "description_number": n})
	case !errors.Is(err, artifacts.ErrNotFound):
		return fmt.Errorf("lookup artifact: %w", err)
	default:
		if err := p.renderAudio(ctx, t, n, key, d); err != nil {
			return err
		}
	}

	pct := n * progressPerAudio
	patch := map[string]any{
		analyses.MetaProgress:                 pct,
		analyses.MetaAudioGenerationsComplete: n,
		analyses.MetaTotalAudioGenerations:    analyses.DescriptionCount,
	}
	if err := p.Analyses.MergeMetadata(ctx, t.analysisID, patch); err != nil {
		return fmt.Errorf("merge progress: %w", err)
	}
	progress(ctx, job, pct)
	return nil
}

func (p *Processor) renderAudio(ctx context.Context, t target, n int, key string, d *analyses.MusicalDescription) error {
	if d == nil {
		return fmt.Errorf("missing description%d", n)
	}
	sanitized := p.Sanitizer.Sanitize(d.Prompt)
	req := media.ComposeRequest{
		Prompt:       sanitized,
		DurationMs:   p.Config.AudioDurationMs,
		Instrumental: true,
		OutputFormat: p.Config.AudioOutputFormat,
	}
	req, err := req.Normalize()
	if err != nil {
		return err
	}
	audio, err := p.Composer.Compose(ctx, req)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	if _, err := p.Store.Put(ctx, key, bytes.NewReader(audio), "audio/mpeg"); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}

	art := artifacts.Artifact{
		ID:         uuid.NewString(),
		AnalysisID: t.analysisID,
		Type:       artifacts.TypeAudio,
		StorageKey: key,
		Filename:   fmt.Sprintf("%s-jingle-%d.mp3", util.Slug(t.brand), n),
		Metadata: map[string]any{
			"duration_ms":                  req.DurationMs,
			"source":                       p.Composer.Name(),
			"method":                       "prompt",
			"description_number":           n,
			"description_key":              fmt.Sprintf("description%d", n),
			"description_title":            d.Title,
			"description_feel":             d.Feel,
			"description_emotional_effect": d.EmotionalEffect,
			"elevenlabs_prompt":            d.Prompt,
			"sanitized_prompt":             sanitized,
		},
		CreatedAt: p.now(),
	}
	_, created, err := p.Artifacts.Create(ctx, art)
	if err != nil {
		return fmt.Errorf("record audio artifact: %w", err)
	}
	if created {
		metrics.IncArtifactCreated(string(artifacts.TypeAudio))
	}
	telemetry.Info("finalize.audio.stored", map[string]any{
		"analysis_id":        t.analysisID,
		"description_number": n,
		"bytes":              len(audio),
		"sanitized":          sanitized != strings.TrimSpace(d.Prompt),
	})
	return nil
}

func (p *Processor) attemptReport(ctx context.Context, t target, report analyses.FinalReport) error {
	key := artifacts.ReportKey(t.projectID, t.analysisID)
	_, err := p.Artifacts.FindByStorageKey(ctx, t.analysisID, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, artifacts.ErrNotFound) {
		return fmt.Errorf("lookup artifact: %w", err)
	}

	doc, err := p.Reports.Render(ctx, report, t.brand)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	size, err := p.Store.Put(ctx, key, bytes.NewReader(doc), "application/pdf")
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	art := artifacts.Artifact{
		ID:         uuid.NewString(),
		AnalysisID: t.analysisID,
		Type:       artifacts.TypePDF,
		StorageKey: key,
		Filename:   strings.ToLower(t.brand) + "_jingle_report.pdf",
		Metadata:   map[string]any{"size_bytes": size},
		CreatedAt:  p.now(),
	}
	_, created, err := p.Artifacts.Create(ctx, art)
	if err != nil {
		return fmt.Errorf("record report artifact: %w", err)
	}
	if created {
		metrics.IncArtifactCreated(string(artifacts.TypePDF))
	}
	return nil
}
