// Package snapshots builds the cached conversation view that prompts are
// assembled from, and decides when to rebuild it.
package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"audiobrand-backend/internal/extract"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/storage/object"
	"audiobrand-backend/internal/shared/telemetry"
)

const (
	MaxMessages = 20
	MaxFiles    = 10

	defaultExcerptLimit = 1200
)

// MessageEntry is a message as seen by prompt builders.
type MessageEntry struct {
	Role      projects.Role   `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FileEntry summarizes an uploaded file.
type FileEntry struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Metadata is the project information prompts need.
type Metadata struct {
	BrandName     string          `json:"brandName"`
	BrandWebsite  string          `json:"brandWebsite"`
	FindingsDraft json.RawMessage `json:"findingsDraft,omitempty"`
}

// Snapshot is a derived, regenerable view of a project conversation.
type Snapshot struct {
	RecentMessages  []MessageEntry `json:"recentMessages"`
	FileSummaries   []FileEntry    `json:"fileSummaries"`
	ProjectMetadata Metadata       `json:"projectMetadata"`
	LastUpdated     time.Time      `json:"lastUpdated"`
}

// Builder assembles snapshots from source records.
type Builder struct {
	Projects projects.Repo
	// Store enables file excerpts when set.
	Store        object.ObjectStore
	ExcerptLimit int
	Now          func() time.Time
}

// Build reads the project, its last MaxMessages non-redacted messages in
// chronological order and up to MaxFiles live files.
func (b *Builder) Build(ctx context.Context, projectID string) (Snapshot, error) {
	project, err := b.Projects.GetProject(ctx, projectID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load project %s: %w", projectID, err)
	}
	msgs, err := projects.RecentMessages(ctx, b.Projects, projectID, MaxMessages)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load messages: %w", err)
	}
	files, err := b.Projects.ListFiles(ctx, projectID, MaxFiles)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load files: %w", err)
	}

	snap := Snapshot{
		RecentMessages: make([]MessageEntry, 0, len(msgs)),
		FileSummaries:  make([]FileEntry, 0, len(files)),
		ProjectMetadata: Metadata{
			BrandName:     project.BrandName,
			BrandWebsite:  project.BrandWebsite,
			FindingsDraft: project.FindingsDraft,
		},
		LastUpdated: b.now(),
	}
	for _, m := range msgs {
		snap.RecentMessages = append(snap.RecentMessages, MessageEntry{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	for _, f := range files {
		snap.FileSummaries = append(snap.FileSummaries, FileEntry{
			ID:       f.ID,
			Filename: f.Filename,
			MimeType: f.MimeType,
			Excerpt:  b.excerpt(ctx, f),
		})
	}
	return snap, nil
}

func (b *Builder) excerpt(ctx context.Context, f projects.File) string {
	if b.Store == nil {
		return ""
	}
	limit := b.ExcerptLimit
	if limit <= 0 {
		limit = defaultExcerptLimit
	}
	text, err := extract.Excerpt(ctx, b.Store, f.StorageKey, f.MimeType, f.Filename, limit)
	if err != nil {
		telemetry.Warn("snapshot.excerpt_failed", map[string]any{
			"project_id": f.ProjectID,
			"file_id":    f.ID,
			"error":      err.Error(),
		})
		return ""
	}
	return text
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}
