package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiobrand-backend/internal/shared/storage/object"
	"audiobrand-backend/internal/shared/telemetry"
	"audiobrand-backend/internal/shared/util"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 100
	maxFileList        = 50
)

// ErrPresignUnsupported is returned when the object store cannot presign uploads.
var ErrPresignUnsupported = errors.New("object store does not support presigned uploads")

// SnapshotTrigger is notified after each new message. It must not block.
type SnapshotTrigger interface {
	MaybeRefreshAsync(projectID string, lastActivity time.Time)
}

// Service contains business logic for projects, messages and files.
type Service struct {
	Repo      Repo
	Store     object.ObjectStore
	Presigner object.UploadPresigner
	Snapshots SnapshotTrigger
	UploadTTL time.Duration
}

// Create stores a new project.
func (s *Service) Create(ctx context.Context, ownerID, brandName, brandWebsite string) (Project, error) {
	brandName = strings.TrimSpace(brandName)
	if brandName == "" {
		return Project{}, fmt.Errorf("%w: brandName is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	p := Project{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		BrandName:      brandName,
		BrandWebsite:   strings.TrimSpace(brandWebsite),
		LastActivityAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.CreateProject(ctx, p); err != nil {
		return Project{}, err
	}
	telemetry.Info("project.created", map[string]any{"project_id": p.ID})
	return p, nil
}

// Get returns a project.
func (s *Service) Get(ctx context.Context, id string) (Project, error) {
	return s.Repo.GetProject(ctx, id)
}

// PostMessage appends a message, bumps the project's activity time and asks
// the snapshot trigger to consider a refresh.
func (s *Service) PostMessage(ctx context.Context, projectID string, role Role, content json.RawMessage, senderID string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: role must be user, assistant or system", ErrInvalidInput)
	}
	if len(content) == 0 || !json.Valid(content) {
		return Message{}, fmt.Errorf("%w: content must be JSON", ErrInvalidInput)
	}

	project, err := s.Repo.GetProject(ctx, projectID)
	if err != nil {
		return Message{}, err
	}
	previous := project.CreatedAt
	if project.LastActivityAt != nil {
		previous = *project.LastActivityAt
	}

	now := time.Now().UTC()
	msg := Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	if role == RoleUser {
		msg.SenderID = senderID
	}
	if err := s.Repo.CreateMessage(ctx, msg); err != nil {
		return Message{}, err
	}
	if _, err := s.Repo.UpdateProject(ctx, projectID, Update{LastActivityAt: &now}); err != nil {
		return Message{}, err
	}

	if s.Snapshots != nil {
		s.Snapshots.MaybeRefreshAsync(projectID, previous)
	}
	return msg, nil
}

// ListMessages pages backwards through a conversation. The cursor is the
// createdAt of the oldest message on the previous page.
func (s *Service) ListMessages(ctx context.Context, projectID, cursor string, limit int) (MessagePage, error) {
	if _, err := s.Repo.GetProject(ctx, projectID); err != nil {
		return MessagePage{}, err
	}
	if limit <= 0 {
		limit = defaultMessagePage
	}
	limit = min(limit, maxMessagePage)

	var before *time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return MessagePage{}, fmt.Errorf("%w: invalid cursor", ErrInvalidInput)
		}
		before = &t
	}

	msgs, err := s.Repo.ListMessages(ctx, projectID, before, limit+1)
	if err != nil {
		return MessagePage{}, err
	}
	page := MessagePage{HasNextPage: len(msgs) > limit}
	if page.HasNextPage {
		msgs = msgs[:limit]
		page.NextCursor = msgs[len(msgs)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	page.Items = make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		page.Items[len(msgs)-1-i] = ToMessageResponse(m)
	}
	return page, nil
}

// UploadTarget is where a client should PUT a file.
type UploadTarget struct {
	StorageKey string `json:"storageKey"`
	UploadURL  string `json:"uploadUrl"`
	ExpiresIn  int    `json:"expiresIn"`
}

// PresignUpload reserves a storage key under the project and presigns a PUT.
func (s *Service) PresignUpload(ctx context.Context, projectID, filename, contentType string) (UploadTarget, error) {
	if s.Presigner == nil {
		return UploadTarget{}, ErrPresignUnsupported
	}
	if _, err := s.Repo.GetProject(ctx, projectID); err != nil {
		return UploadTarget{}, err
	}
	clean, err := util.SanitizeFileName(filename)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(contentType) == "" {
		return UploadTarget{}, fmt.Errorf("%w: contentType is required", ErrInvalidInput)
	}

	ttl := s.UploadTTL
	if ttl <= 0 {
		ttl = object.DefaultPresignTTL
	}
	key := fileKeyPrefix(projectID) + uuid.NewString() + "/" + clean
	url, err := s.Presigner.PresignPut(ctx, key, contentType, ttl)
	if err != nil {
		return UploadTarget{}, err
	}
	return UploadTarget{StorageKey: key, UploadURL: url, ExpiresIn: int(ttl.Seconds())}, nil
}

// RegisterFile records an uploaded object. The object must already exist
// under the project's file prefix.
func (s *Service) RegisterFile(ctx context.Context, projectID, storageKey, filename, mimeType string, size int64) (File, error) {
	if _, err := s.Repo.GetProject(ctx, projectID); err != nil {
		return File{}, err
	}
	if !withinPrefix(storageKey, fileKeyPrefix(projectID)) {
		return File{}, fmt.Errorf("%w: storageKey is outside the project", ErrInvalidInput)
	}
	clean, err := util.SanitizeFileName(filename)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(mimeType) == "" {
		return File{}, fmt.Errorf("%w: mimeType is required", ErrInvalidInput)
	}

	ok, err := s.Store.Exists(ctx, storageKey)
	if err != nil {
		return File{}, err
	}
	if !ok {
		return File{}, ErrObjectAbsent
	}

	f := File{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		StorageKey: storageKey,
		Filename:   clean,
		MimeType:   mimeType,
		SizeBytes:  size,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Repo.CreateFile(ctx, f); err != nil {
		return File{}, err
	}
	telemetry.Info("project.file.registered", map[string]any{"project_id": projectID, "file_id": f.ID})
	return f, nil
}

// ListFiles returns the project's live files, newest first.
func (s *Service) ListFiles(ctx context.Context, projectID string) ([]File, error) {
	if _, err := s.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.Repo.ListFiles(ctx, projectID, maxFileList)
}

func fileKeyPrefix(projectID string) string {
	return "projects/" + projectID + "/files/"
}

// withinPrefix reports whether key is already clean and sits under prefix,
// so dot segments cannot climb out of it.
func withinPrefix(key, prefix string) bool {
	if key == "" || path.Clean(key) != key || strings.Contains(key, `\`) {
		return false
	}
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}
