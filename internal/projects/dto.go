package projects

import (
	"encoding/json"
	"time"
)

// ProjectResponse is the outward-facing representation of a project.
type ProjectResponse struct {
	ID             string          `json:"id"`
	BrandName      string          `json:"brandName"`
	BrandWebsite   string          `json:"brandWebsite,omitempty"`
	FindingsDraft  json.RawMessage `json:"findingsDraft,omitempty"`
	LastActivityAt *time.Time      `json:"lastActivityAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// MessageResponse is the outward-facing representation of a message.
type MessageResponse struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	SenderID  string          `json:"senderId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MessagePage is one page of a conversation in chronological order.
type MessagePage struct {
	Items       []MessageResponse `json:"items"`
	NextCursor  string            `json:"nextCursor,omitempty"`
	HasNextPage bool              `json:"hasNextPage"`
}

// FileResponse is the outward-facing representation of a file.
type FileResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	StorageKey string    `json:"storageKey"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func toProjectResponse(p Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		BrandName:      p.BrandName,
		BrandWebsite:   p.BrandWebsite,
		FindingsDraft:  p.FindingsDraft,
		LastActivityAt: p.LastActivityAt,
		CreatedAt:      p.CreatedAt,
	}
}

// ToMessageResponse converts a stored message for API output.
func ToMessageResponse(m Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

func toFileResponse(f File) FileResponse {
	return FileResponse{
		ID:         f.ID,
		Filename:   f.Filename,
		MimeType:   f.MimeType,
		SizeBytes:  f.SizeBytes,
		StorageKey: f.StorageKey,
		UploadedAt: f.CreatedAt,
	}
}
