package analyses

import "context"

// Repo defines persistence operations for analyses.
//
// Update and MergeMetadata return ErrTerminal once an analysis is done or
// failed, and Update returns ErrInvalidTransition for backward moves.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	Update(ctx context.Context, analysisID string, u Update) (Analysis, error)
	// MergeMetadata merges patch into the response's "_metadata" object and
	// leaves every other response field untouched.
	MergeMetadata(ctx context.Context, analysisID string, patch map[string]any) error
	ListByProject(ctx context.Context, projectID string, limit int) ([]Analysis, error)
}

func checkUpdate(current Status, u Update) error {
	if current.Terminal() {
		return ErrTerminal
	}
	if u.Status != nil && !CanTransition(current, *u.Status) {
		return ErrInvalidTransition
	}
	return nil
}
