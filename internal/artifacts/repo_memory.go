package artifacts

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryRepo stores artifacts in memory.
type MemoryRepo struct {
	mu    sync.RWMutex
	byID  map[string]Artifact
	byKey map[string]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Artifact), byKey: make(map[string]string)}
}

func uniqueKey(analysisID, storageKey string) string { return analysisID + "\x00" + storageKey }

func (r *MemoryRepo) Create(ctx context.Context, a Artifact) (Artifact, bool, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := uniqueKey(a.AnalysisID, a.StorageKey)
	if id, ok := r.byKey[k]; ok {
		return cloneArtifact(r.byID[id]), false, nil
	}
	a = cloneArtifact(a)
	r.byID[a.ID] = a
	r.byKey[k] = a.ID
	return cloneArtifact(a), true, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return cloneArtifact(a), nil
}

func (r *MemoryRepo) ListByAnalysis(ctx context.Context, analysisID string) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Artifact, 0)
	for _, a := range r.byID {
		if a.AnalysisID == analysisID {
			out = append(out, cloneArtifact(a))
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StorageKey < out[j].StorageKey
	})
	return out, nil
}

func (r *MemoryRepo) FindByStorageKey(ctx context.Context, analysisID, storageKey string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[uniqueKey(analysisID, storageKey)]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return cloneArtifact(r.byID[id]), nil
}

func cloneArtifact(a Artifact) Artifact {
	if a.Metadata != nil {
		a.Metadata = maps.Clone(a.Metadata)
	}
	return a
}
