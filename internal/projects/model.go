package projects

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrObjectAbsent = errors.New("uploaded object not found")
)

// Project is a brand workspace that analyses, messages and files hang off.
type Project struct {
	ID                   string
	OwnerID              string
	BrandName            string
	BrandWebsite         string
	FindingsDraft        json.RawMessage
	ConversationSnapshot json.RawMessage
	LastActivityAt       *time.Time
	DeletedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Update is a partial project update. Nil fields are left unchanged.
type Update struct {
	BrandName            *string
	BrandWebsite         *string
	FindingsDraft        json.RawMessage
	ConversationSnapshot json.RawMessage
	LastActivityAt       *time.Time
	DeletedAt            *time.Time
}

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is one entry of a project conversation. Content is arbitrary JSON.
type Message struct {
	ID        string
	ProjectID string
	SenderID  string
	Role      Role
	Content   json.RawMessage
	Redacted  bool
	CreatedAt time.Time
}

// File is an uploaded reference document.
type File struct {
	ID         string
	ProjectID  string
	StorageKey string
	Filename   string
	MimeType   string
	SizeBytes  int64
	DeletedAt  *time.Time
	CreatedAt  time.Time
}
