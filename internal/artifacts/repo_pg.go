package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const artifactColumns = `id, analysis_id, type, storage_key, filename, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (Artifact, error) {
	var a Artifact
	var metadata []byte
	if err := row.Scan(&a.ID, &a.AnalysisID, &a.Type, &a.StorageKey, &a.Filename, &metadata, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return Artifact{}, fmt.Errorf("decode artifact metadata: %w", err)
		}
	}
	return a, nil
}

// Create inserts an artifact, deferring to an existing row with the same storage key.
func (r *PGRepo) Create(ctx context.Context, a Artifact) (Artifact, bool, error) {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return Artifact{}, false, fmt.Errorf("encode artifact metadata: %w", err)
	}

	query := `
INSERT INTO artifacts (id, analysis_id, type, storage_key, filename, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (analysis_id, storage_key) DO NOTHING
RETURNING ` + artifactColumns
	stored, err := scanArtifact(r.DB.QueryRowContext(ctx, query,
		a.ID, a.AnalysisID, string(a.Type), a.StorageKey, a.Filename, string(payload), a.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Artifact{}, false, err
	}
	existing, err := r.FindByStorageKey(ctx, a.AnalysisID, a.StorageKey)
	if err != nil {
		return Artifact{}, false, err
	}
	return existing, false, nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`
	return scanArtifact(r.DB.QueryRowContext(ctx, query, id))
}

func (r *PGRepo) ListByAnalysis(ctx context.Context, analysisID string) ([]Artifact, error) {
	query := `SELECT ` + artifactColumns + `
FROM artifacts
WHERE analysis_id = $1
ORDER BY created_at ASC, storage_key ASC`
	rows, err := r.DB.QueryContext(ctx, query, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PGRepo) FindByStorageKey(ctx context.Context, analysisID, storageKey string) (Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE analysis_id = $1 AND storage_key = $2`
	return scanArtifact(r.DB.QueryRowContext(ctx, query, analysisID, storageKey))
}
