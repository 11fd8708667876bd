package workerproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"audiobrand-backend/internal/analyses"
	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/telemetry"
	"audiobrand-backend/internal/workers"
)

const (
	exploratoryTemperature = 0.35
	exploratoryMaxTokens   = 4500
)

// messageNamespace scopes the deterministic ids of analysis messages.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("audiobrand:analysis-message"))

// ExploratoryResult is the job result of an exploratory analysis.
type ExploratoryResult struct {
	AnalysisID string          `json:"analysisId"`
	Status     analyses.Status `json:"status"`
	Structured bool            `json:"structured"`
}

// Exploratory handles exploratory-analysis jobs.
func (p *Processor) Exploratory(ctx context.Context, job *workers.Job) (any, error) {
	var payload analyses.ExploratoryPayload
	if err := job.Decode(&payload); err != nil {
		return nil, jobs.Permanent(ErrDecode{Queue: job.Queue, JobID: job.ID, Err: err})
	}
	if payload.AnalysisID == "" || payload.ProjectID == "" {
		return nil, jobs.Permanent(ErrDecode{Queue: job.Queue, JobID: job.ID, Err: errors.New("analysisId and projectId are required")})
	}

	a, proceed, err := p.begin(ctx, payload.AnalysisID)
	if err != nil {
		return nil, p.fail(ctx, job, analyses.KindExploratory, payload.AnalysisID, err)
	}
	if !proceed {
		return Skipped{AnalysisID: a.ID, Status: a.Status, Skipped: true}, nil
	}

	res, err := p.runExploratory(ctx, job, a, payload)
	if err != nil {
		return nil, p.fail(ctx, job, analyses.KindExploratory, payload.AnalysisID, err)
	}
	return res, nil
}

func (p *Processor) runExploratory(ctx context.Context, job *workers.Job, a analyses.Analysis, payload analyses.ExploratoryPayload) (ExploratoryResult, error) {
	snap, err := p.Snapshots.Build(ctx, payload.ProjectID)
	if err != nil {
		return ExploratoryResult{}, snapshotErr(err)
	}
	progress(ctx, job, 10)

	resp, err := p.LLM.Complete(ctx, llm.Request{
		Model:       p.Config.ExploratoryModel,
		Messages:    llm.Messages(exploratorySystem, exploratoryPrompt(snap, payload.SeedPrompt)),
		Temperature: exploratoryTemperature,
		MaxTokens:   exploratoryMaxTokens,
		Schema:      &llm.JSONSchema{Name: "exploratory_findings", Schema: analyses.FindingsSchema()},
	})
	if err != nil {
		return ExploratoryResult{}, fmt.Errorf("exploratory generation: %w", err)
	}

	structured := true
	findings, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		structured = false
		findings, err = json.Marshal(map[string]string{"rawResponse": resp.Content})
		if err != nil {
			return ExploratoryResult{}, err
		}
		telemetry.Warn("exploratory.unstructured_response", map[string]any{
			"analysis_id": a.ID,
			"length":      len(resp.Content),
		})
	}
	progress(ctx, job, 60)

	now := p.now()
	if _, err := p.Projects.UpdateProject(ctx, payload.ProjectID, projects.Update{FindingsDraft: findings, LastActivityAt: &now}); err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return ExploratoryResult{}, jobs.Permanent(fmt.Errorf("store findings draft: %w", err))
		}
		return ExploratoryResult{}, fmt.Errorf("store findings draft: %w", err)
	}

	content, err := json.Marshal(map[string]any{
		"type":     "analysis_complete",
		"summary":  "Exploratory analysis completed",
		"findings": findings,
	})
	if err != nil {
		return ExploratoryResult{}, err
	}
	msg := projects.Message{
		ID:        AnalysisMessageID(a.ID),
		ProjectID: payload.ProjectID,
		Role:      projects.RoleAssistant,
		Content:   content,
		CreatedAt: now,
	}
	if err := p.Projects.CreateMessage(ctx, msg); err != nil {
		return ExploratoryResult{}, fmt.Errorf("append analysis message: %w", err)
	}

	if err := p.complete(ctx, a, findings); err != nil {
		return ExploratoryResult{}, err
	}
	progress(ctx, job, 100)

	p.refreshSnapshot(ctx, payload.ProjectID)
	return ExploratoryResult{AnalysisID: a.ID, Status: analyses.StatusDone, Structured: structured}, nil
}

// AnalysisMessageID is the id of the assistant message an exploratory
// analysis appends. It is stable across retries.
func AnalysisMessageID(analysisID string) string {
	return uuid.NewSHA1(messageNamespace, []byte(analysisID)).String()
}

func (p *Processor) refreshSnapshot(ctx context.Context, projectID string) {
	if p.Refresher == nil {
		return
	}
	if _, err := p.Refresher.Refresh(ctx, projectID); err != nil {
		telemetry.Warn("snapshot.refresh_failed", map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
	}
}
