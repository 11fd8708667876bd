package projects

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const projectColumns = `id, owner_id, brand_name, brand_website, findings_draft, conversation_snapshot,
       last_activity_at, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var ownerID, website sql.NullString
	var findings, snapshot []byte
	var lastActivity, deletedAt sql.NullTime
	err := row.Scan(&p.ID, &ownerID, &p.BrandName, &website, &findings, &snapshot,
		&lastActivity, &deletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	p.OwnerID = ownerID.String
	p.BrandWebsite = website.String
	if len(findings) > 0 {
		p.FindingsDraft = json.RawMessage(findings)
	}
	if len(snapshot) > 0 {
		p.ConversationSnapshot = json.RawMessage(snapshot)
	}
	if lastActivity.Valid {
		p.LastActivityAt = &lastActivity.Time
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return p, nil
}

func (r *PGRepo) CreateProject(ctx context.Context, p Project) error {
	const query = `
INSERT INTO projects (id, owner_id, brand_name, brand_website, last_activity_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`
	_, err := r.DB.ExecContext(ctx, query,
		p.ID, nullString(p.OwnerID), p.BrandName, nullString(p.BrandWebsite), optTime(p.LastActivityAt), p.CreatedAt)
	return err
}

func (r *PGRepo) GetProject(ctx context.Context, id string) (Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND deleted_at IS NULL`
	return scanProject(r.DB.QueryRowContext(ctx, query, id))
}

// UpdateProject applies the non-nil fields of u in one statement.
func (r *PGRepo) UpdateProject(ctx context.Context, id string, u Update) (Project, error) {
	query := `
UPDATE projects
SET brand_name = COALESCE($2, brand_name),
    brand_website = COALESCE($3, brand_website),
    findings_draft = COALESCE($4::jsonb, findings_draft),
    conversation_snapshot = COALESCE($5::jsonb, conversation_snapshot),
    last_activity_at = COALESCE($6, last_activity_at),
    deleted_at = COALESCE($7, deleted_at),
    updated_at = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + projectColumns
	return scanProject(r.DB.QueryRowContext(ctx, query,
		id,
		optString(u.BrandName),
		optString(u.BrandWebsite),
		optJSON(u.FindingsDraft),
		optJSON(u.ConversationSnapshot),
		optTime(u.LastActivityAt),
		optTime(u.DeletedAt),
	))
}

func (r *PGRepo) CreateMessage(ctx context.Context, m Message) error {
	const query = `
INSERT INTO messages (id, project_id, sender_id, role, content, redacted, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`
	_, err := r.DB.ExecContext(ctx, query,
		m.ID, m.ProjectID, nullString(m.SenderID), string(m.Role), string(m.Content), m.Redacted, m.CreatedAt)
	return err
}

func (r *PGRepo) ListMessages(ctx context.Context, projectID string, before *time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, project_id, sender_id, role, content, redacted, created_at
FROM messages
WHERE project_id = $1 AND redacted = false AND ($2::timestamptz IS NULL OR created_at < $2)
ORDER BY created_at DESC, id DESC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, projectID, optTime(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var senderID sql.NullString
		var content []byte
		if err := rows.Scan(&m.ID, &m.ProjectID, &senderID, &m.Role, &content, &m.Redacted, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SenderID = senderID.String
		m.Content = json.RawMessage(content)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountMessages(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE project_id = $1 AND redacted = false`, projectID).Scan(&n)
	return n, err
}

func (r *PGRepo) CreateFile(ctx context.Context, f File) error {
	const query = `
INSERT INTO files (id, project_id, storage_key, filename, mime_type, size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.DB.ExecContext(ctx, query,
		f.ID, f.ProjectID, f.StorageKey, f.Filename, f.MimeType, f.SizeBytes, f.CreatedAt)
	return err
}

func (r *PGRepo) ListFiles(ctx context.Context, projectID string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, project_id, storage_key, filename, mime_type, size_bytes, created_at
FROM files
WHERE project_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.StorageKey, &f.Filename, &f.MimeType, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
