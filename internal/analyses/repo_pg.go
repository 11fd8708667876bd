package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"audiobrand-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, project_id, kind, status, request_payload, response, failure_reason,
       started_at, finished_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var request, response []byte
	var failureReason sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&a.Kind,
		&a.Status,
		&request,
		&response,
		&failureReason,
		&startedAt,
		&finishedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	if len(request) > 0 {
		a.Request = json.RawMessage(request)
	}
	if len(response) > 0 {
		a.Response = json.RawMessage(response)
	}
	if failureReason.Valid {
		a.FailureReason = failureReason.String
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		a.FinishedAt = &finishedAt.Time
	}
	return a, nil
}

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	const query = `
INSERT INTO analyses (id, project_id, kind, status, request_payload, response, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err := r.DB.ExecContext(ctx, query,
		analysis.ID,
		analysis.ProjectID,
		string(analysis.Kind),
		string(analysis.Status),
		nullableJSON(analysis.Request),
		nullableJSON(analysis.Response),
		analysis.CreatedAt,
	)
	return err
}

// GetByID returns an analysis by ID.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	return scanAnalysis(r.DB.QueryRowContext(ctx, query, analysisID))
}

// Update locks the row, checks the transition and applies the non-nil fields.
func (r *PGRepo) Update(ctx context.Context, analysisID string, u Update) (Analysis, error) {
	var updated Analysis
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = $1 FOR UPDATE`, analysisID).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if err := checkUpdate(Status(current), u); err != nil {
			return err
		}

		var status any
		if u.Status != nil {
			status = string(*u.Status)
		}
		var failureReason any
		if u.FailureReason != nil {
			failureReason = *u.FailureReason
		}
		var startedAt, finishedAt any
		if u.StartedAt != nil {
			startedAt = *u.StartedAt
		}
		if u.FinishedAt != nil {
			finishedAt = *u.FinishedAt
		}

		query := `
UPDATE analyses
SET status = COALESCE($2, status),
    response = COALESCE($3::jsonb, response),
    failure_reason = COALESCE($4, failure_reason),
    started_at = COALESCE($5, started_at),
    finished_at = COALESCE($6, finished_at),
    updated_at = now()
WHERE id = $1
RETURNING ` + analysisColumns
		updated, err = scanAnalysis(tx.QueryRowContext(ctx, query,
			analysisID, status, nullableJSON(u.Response), failureReason, startedAt, finishedAt))
		return err
	})
	if err != nil {
		return Analysis{}, err
	}
	return updated, nil
}

// MergeMetadata merges patch into response->'_metadata' in a single statement.
func (r *PGRepo) MergeMetadata(ctx context.Context, analysisID string, patch map[string]any) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const query = `
UPDATE analyses
SET response = jsonb_set(
        CASE WHEN jsonb_typeof(response) = 'object' THEN response ELSE '{}'::jsonb END,
        '{_metadata}',
        COALESCE(response->'_metadata', '{}'::jsonb) || $2::jsonb,
        true),
    updated_at = now()
WHERE id = $1 AND status NOT IN ('done', 'failed')`
	res, err := r.DB.ExecContext(ctx, query, analysisID, string(payload))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByID(ctx, analysisID); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

// ListByProject returns a project's analyses, newest first.
func (r *PGRepo) ListByProject(ctx context.Context, projectID string, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE project_id = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
