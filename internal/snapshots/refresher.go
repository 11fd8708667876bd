package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/telemetry"
)

const refreshTimeout = 30 * time.Second

// Refresher rebuilds and stores project snapshots.
type Refresher struct {
	Builder  *Builder
	Projects projects.Repo
	Policy   Policy
	Now      func() time.Time

	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRefresher wires a Refresher around builder.
func NewRefresher(builder *Builder, policy Policy) *Refresher {
	return &Refresher{Builder: builder, Projects: builder.Projects, Policy: policy}
}

// Refresh rebuilds the snapshot and stores it on the project.
func (r *Refresher) Refresh(ctx context.Context, projectID string) (Snapshot, error) {
	snap, err := r.Builder.Build(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := r.Projects.UpdateProject(ctx, projectID, projects.Update{ConversationSnapshot: payload}); err != nil {
		return Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}
	telemetry.Info("snapshot.refreshed", map[string]any{
		"project_id": projectID,
		"messages":   len(snap.RecentMessages),
		"files":      len(snap.FileSummaries),
	})
	return snap, nil
}

// MaybeRefreshAsync applies the policy and refreshes in the background.
// Failures are logged and counted, never returned. A project with a refresh
// already running is skipped.
func (r *Refresher) MaybeRefreshAsync(projectID string, lastActivity time.Time) {
	if !r.claim(projectID) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(projectID)

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := r.maybeRefresh(ctx, projectID, lastActivity); err != nil {
			metrics.IncSnapshotRefreshFailed()
			telemetry.Error("snapshot.refresh_failed", map[string]any{
				"project_id": projectID,
				"error":      err.Error(),
			})
		}
	}()
}

func (r *Refresher) maybeRefresh(ctx context.Context, projectID string, lastActivity time.Time) error {
	count, err := r.Projects.CountMessages(ctx, projectID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if !r.Policy.ShouldRefresh(count, lastActivity, r.now()) {
		return nil
	}
	_, err = r.Refresh(ctx, projectID)
	return err
}

// Wait blocks until background refreshes finish.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) claim(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight == nil {
		r.inFlight = make(map[string]struct{})
	}
	if _, busy := r.inFlight[projectID]; busy {
		return false
	}
	r.inFlight[projectID] = struct{}{}
	return true
}

func (r *Refresher) release(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, projectID)
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
