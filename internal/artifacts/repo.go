package artifacts

import "context"

// Repo defines persistence operations for artifacts.
type Repo interface {
	// Create inserts a. When an artifact with the same analysis and storage
	// key exists, that one is returned and created is false.
	Create(ctx context.Context, a Artifact) (stored Artifact, created bool, err error)
	GetByID(ctx context.Context, id string) (Artifact, error)
	ListByAnalysis(ctx context.Context, analysisID string) ([]Artifact, error)
	FindByStorageKey(ctx context.Context, analysisID, storageKey string) (Artifact, error)
}
