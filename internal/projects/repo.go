package projects

import (
	"context"
	"time"
)

// Repo defines persistence for projects and their messages and files.
// Soft-deleted projects behave as missing.
type Repo interface {
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	UpdateProject(ctx context.Context, id string, u Update) (Project, error)

	// CreateMessage inserts m. A message whose ID already exists is left as is.
	CreateMessage(ctx context.Context, m Message) error
	// ListMessages returns up to limit non-redacted messages created before
	// the cursor (all when nil), newest first.
	ListMessages(ctx context.Context, projectID string, before *time.Time, limit int) ([]Message, error)
	CountMessages(ctx context.Context, projectID string) (int, error)

	CreateFile(ctx context.Context, f File) error
	// ListFiles returns up to limit non-deleted files, newest first.
	ListFiles(ctx context.Context, projectID string, limit int) ([]File, error)
}

// RecentMessages returns the last n non-redacted messages in chronological order.
func RecentMessages(ctx context.Context, repo Repo, projectID string, n int) ([]Message, error) {
	msgs, err := repo.ListMessages(ctx, projectID, nil, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
