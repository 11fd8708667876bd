package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiobrand-backend/internal/artifacts"
	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/telemetry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Enqueuer is the slice of jobs.Queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, name string, payload any, opts jobs.Options) (jobs.Handle, error)
}

// Service contains the request-side logic for analyses: create, enqueue, read.
type Service struct {
	Repo      Repo
	Projects  projects.Repo
	Artifacts artifacts.Repo
	Jobs      Enqueuer
	Now       func() time.Time
}

// Started is an analysis together with the job that will run it.
type Started struct {
	Analysis Analysis
	Job      jobs.Handle
}

// Result is a done analysis with its stored artifacts.
type Result struct {
	Analysis  Analysis
	Artifacts []artifacts.Artifact
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// StartExploratory creates a pending exploratory analysis and enqueues its job.
func (s *Service) StartExploratory(ctx context.Context, projectID, seedPrompt string) (Started, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return Started{}, fmt.Errorf("%w: projectId is required", ErrInvalidInput)
	}
	if err := s.requireProject(ctx, projectID); err != nil {
		return Started{}, err
	}

	request, err := json.Marshal(map[string]any{"seedPrompt": seedPrompt})
	if err != nil {
		return Started{}, err
	}
	a, err := s.create(ctx, projectID, KindExploratory, request)
	if err != nil {
		return Started{}, err
	}

	payload := ExploratoryPayload{AnalysisID: a.ID, ProjectID: projectID, SeedPrompt: seedPrompt}
	handle, err := s.Jobs.Enqueue(ctx, jobs.QueueAnalysis, jobs.NameExploratoryAnalysis, payload, jobs.AnalysisOptions(a.ID))
	if err != nil {
		return Started{}, s.abandon(ctx, a, err)
	}
	return Started{Analysis: a, Job: handle}, nil
}

// Finalize creates a new rigid_final analysis from an exploratory one and
// enqueues it. Every call creates a fresh analysis.
func (s *Service) Finalize(ctx context.Context, exploratoryID string, req FinalizeRequest) (Started, error) {
	exploratoryID = strings.TrimSpace(exploratoryID)
	if exploratoryID == "" {
		return Started{}, fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}
	source, err := s.Repo.GetByID(ctx, exploratoryID)
	if err != nil {
		return Started{}, err
	}

	request, err := json.Marshal(map[string]any{
		"exploratoryAnalysisId": source.ID,
		"useFindingsDraft":      req.UseFindingsDraft,
		"selectedIdeas":         req.SelectedIdeas,
	})
	if err != nil {
		return Started{}, err
	}
	a, err := s.create(ctx, source.ProjectID, KindRigidFinal, request)
	if err != nil {
		return Started{}, err
	}

	payload := FinalizePayload{
		AnalysisID:            a.ID,
		ProjectID:             source.ProjectID,
		ExploratoryAnalysisID: source.ID,
		UseFindingsDraft:      req.UseFindingsDraft,
		SelectedIdeas:         req.SelectedIdeas,
	}
	handle, err := s.Jobs.Enqueue(ctx, jobs.QueueFinalize, jobs.NameFinalizeAnalysis, payload, jobs.FinalizeOptions(a.ID))
	if err != nil {
		return Started{}, s.abandon(ctx, a, err)
	}
	return Started{Analysis: a, Job: handle}, nil
}

func (s *Service) create(ctx context.Context, projectID string, kind Kind, request json.RawMessage) (Analysis, error) {
	now := s.now()
	a := Analysis{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		Status:    StatusPending,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, a); err != nil {
		return Analysis{}, fmt.Errorf("create analysis: %w", err)
	}
	metrics.IncAnalysisStarted(string(kind))
	telemetry.Info("analysis.created", map[string]any{
		"analysis_id": a.ID,
		"project_id":  projectID,
		"kind":        string(kind),
	})
	return a, nil
}

// abandon marks an analysis failed when its job could not be enqueued.
func (s *Service) abandon(ctx context.Context, a Analysis, cause error) error {
	failed := StatusFailed
	reason := jobs.FailureReason(fmt.Errorf("enqueue failed: %w", cause))
	finished := s.now()
	if _, err := s.Repo.Update(ctx, a.ID, Update{Status: &failed, FailureReason: &reason, FinishedAt: &finished}); err != nil {
		telemetry.Error("analysis.abandon_failed", map[string]any{"analysis_id": a.ID, "error": err.Error()})
	}
	metrics.IncAnalysisFailed(string(a.Kind))
	telemetry.Error("analysis.enqueue_failed", map[string]any{
		"analysis_id": a.ID,
		"kind":        string(a.Kind),
		"error":       cause.Error(),
	})
	return fmt.Errorf("%w: %s: %w", ErrEnqueue, a.Kind, cause)
}

// Get returns an analysis by id.
func (s *Service) Get(ctx context.Context, id string) (Analysis, error) {
	if strings.TrimSpace(id) == "" {
		return Analysis{}, ErrNotFound
	}
	return s.Repo.GetByID(ctx, id)
}

// Status returns the polling projection of an analysis.
func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return DeriveStatus(a), nil
}

// Result returns a done analysis and its artifacts, or ErrNotReady.
func (s *Service) Result(ctx context.Context, id string) (Result, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if a.Status != StatusDone {
		return Result{Analysis: a}, ErrNotReady
	}
	out := Result{Analysis: a, Artifacts: []artifacts.Artifact{}}
	if s.Artifacts != nil {
		list, err := s.Artifacts.ListByAnalysis(ctx, a.ID)
		if err != nil {
			return Result{}, fmt.Errorf("list artifacts: %w", err)
		}
		out.Artifacts = list
	}
	return out, nil
}

// ListByProject returns a project's analyses, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID string, limit int) ([]Analysis, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.Repo.ListByProject(ctx, projectID, min(limit, maxListLimit))
}

func (s *Service) requireProject(ctx context.Context, projectID string) error {
	if s.Projects == nil {
		return nil
	}
	if _, err := s.Projects.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("load project: %w", err)
	}
	return nil
}
