package analyses

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Analysis
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Analysis)}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[analysis.ID]; exists {
		return fmt.Errorf("analysis %s already exists", analysis.ID)
	}
	if analysis.UpdatedAt.IsZero() {
		analysis.UpdatedAt = analysis.CreatedAt
	}
	r.byID[analysis.ID] = clone(analysis)
	return nil
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return clone(analysis), nil
}

// Update applies the non-nil fields of u.
func (r *MemoryRepo) Update(ctx context.Context, analysisID string, u Update) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	if err := checkUpdate(analysis.Status, u); err != nil {
		return Analysis{}, err
	}
	if u.Status != nil {
		analysis.Status = *u.Status
	}
	if u.Response != nil {
		analysis.Response = append(json.RawMessage(nil), u.Response...)
	}
	if u.FailureReason != nil {
		analysis.FailureReason = *u.FailureReason
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		analysis.StartedAt = &t
	}
	if u.FinishedAt != nil {
		t := *u.FinishedAt
		analysis.FinishedAt = &t
	}
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return clone(analysis), nil
}

// MergeMetadata does a read-modify-write of the response under the repo lock.
func (r *MemoryRepo) MergeMetadata(ctx context.Context, analysisID string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	if analysis.Status.Terminal() {
		return ErrTerminal
	}

	merged, err := mergeMetadata(analysis.Response, patch)
	if err != nil {
		return err
	}
	analysis.Response = merged
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return nil
}

// ListByProject returns a project's analyses, newest first.
func (r *MemoryRepo) ListByProject(ctx context.Context, projectID string, limit int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Analysis, 0)
	for _, a := range r.byID {
		if a.ProjectID == projectID {
			out = append(out, clone(a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func mergeMetadata(response json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(response) > 0 {
		// A non-object response is replaced by an object holding only the metadata.
		if err := json.Unmarshal(response, &doc); err != nil || doc == nil {
			doc = map[string]any{}
		}
	}
	meta, _ := doc[MetadataKey].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	maps.Copy(meta, patch)
	doc[MetadataKey] = meta
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return out, nil
}

func clone(a Analysis) Analysis {
	a.Request = append(json.RawMessage(nil), a.Request...)
	a.Response = append(json.RawMessage(nil), a.Response...)
	if a.StartedAt != nil {
		t := *a.StartedAt
		a.StartedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		a.FinishedAt = &t
	}
	return a
}
