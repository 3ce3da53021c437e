package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

type ArtifactStore struct {
	db DB
}

// Bound on append retries when concurrent writers race on the same
// (run, type) version; each loser of the unique constraint re-reads MAX+1.
const appendMaxRetries = 5

const (
	// Version assignment happens inside the insert so two concurrent
	// appenders can never both observe the same MAX; the unique constraint
	// turns the loser into a retry instead of a lost update.
	insertArtifactQuery = `INSERT INTO artifacts (
		artifact_id,
		run_id,
		artifact_type,
		version,
		content,
		created_at
	) VALUES (
		$1, $2, $3,
		(SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE run_id = $2 AND artifact_type = $3),
		$4, $5
	)
	RETURNING artifact_id, run_id, artifact_type, version, content, created_at`

	selectLatestArtifactQuery = `SELECT artifact_id, run_id, artifact_type, version, content, created_at
	 FROM artifacts
	 WHERE run_id = $1 AND artifact_type = $2
	 ORDER BY version DESC, created_at DESC
	 LIMIT 1`

	selectLatestVersionQuery = `SELECT COALESCE(MAX(version), 0)
	 FROM artifacts
	 WHERE run_id = $1 AND artifact_type = $2`

	selectLatestByTypeQuery = `SELECT DISTINCT ON (artifact_type)
		artifact_id, run_id, artifact_type, version, content, created_at
	 FROM artifacts
	 WHERE run_id = $1
	 ORDER BY artifact_type, version DESC, created_at DESC`

	listArtifactsByTypeQuery = `SELECT artifact_id, run_id, artifact_type, version, content, created_at
	 FROM artifacts
	 WHERE run_id = $1 AND artifact_type = $2
	 ORDER BY version DESC, created_at DESC`

	selectArtifactVersionQuery = `SELECT artifact_id, run_id, artifact_type, version, content, created_at
	 FROM artifacts
	 WHERE run_id = $1 AND artifact_type = $2 AND version = $3`
)

func NewArtifactStore(db DB) *ArtifactStore {
	if db == nil {
		return nil
	}
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) Append(ctx context.Context, runID, artifactType string, content map[string]any) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	runID = strings.TrimSpace(runID)
	artifactType = strings.TrimSpace(artifactType)
	if runID == "" {
		return domain.Artifact{}, fmt.Errorf("run id is required")
	}
	if artifactType == "" {
		return domain.Artifact{}, fmt.Errorf("artifact type is required")
	}
	contentJSON, err := encodeContent(content)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("encode content: %w", err)
	}

	var lastErr error
	for range appendMaxRetries {
		row := s.db.QueryRowContext(
			ctx,
			insertArtifactQuery,
			uuid.NewString(),
			runID,
			artifactType,
			contentJSON,
			time.Now().UTC(),
		)
		artifact, err := scanArtifactRow(row)
		if err == nil {
			return artifact, nil
		}
		if !isUniqueViolation(err) {
			return domain.Artifact{}, fmt.Errorf("append artifact: %w", err)
		}
		lastErr = err
	}
	return domain.Artifact{}, fmt.Errorf("append artifact: version contention: %w", lastErr)
}

func (s *ArtifactStore) Latest(ctx context.Context, runID, artifactType string) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectLatestArtifactQuery, strings.TrimSpace(runID), strings.TrimSpace(artifactType))
	return scanArtifactRow(row)
}

func (s *ArtifactStore) LatestVersion(ctx context.Context, runID, artifactType string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("artifact store not initialized")
	}
	var version int
	err := s.db.QueryRowContext(ctx, selectLatestVersionQuery, strings.TrimSpace(runID), strings.TrimSpace(artifactType)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return version, nil
}

func (s *ArtifactStore) LatestByType(ctx context.Context, runID string) (map[string]map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, selectLatestByTypeQuery, strings.TrimSpace(runID))
	if err != nil {
		return nil, fmt.Errorf("latest by type: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]map[string]any{}
	for rows.Next() {
		artifact, err := scanArtifactRows(rows)
		if err != nil {
			return nil, err
		}
		out[artifact.Type] = artifact.Content
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest by type: %w", err)
	}
	return out, nil
}

func (s *ArtifactStore) ListByType(ctx context.Context, runID, artifactType string) ([]domain.Artifact, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listArtifactsByTypeQuery, strings.TrimSpace(runID), strings.TrimSpace(artifactType))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Artifact
	for rows.Next() {
		artifact, err := scanArtifactRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

func (s *ArtifactStore) Get(ctx context.Context, runID string, version int, artifactType string) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectArtifactVersionQuery, strings.TrimSpace(runID), strings.TrimSpace(artifactType), version)
	return scanArtifactRow(row)
}

func scanArtifactRow(row *sql.Row) (domain.Artifact, error) {
	var artifact domain.Artifact
	var contentJSON []byte
	err := row.Scan(
		&artifact.ID,
		&artifact.RunID,
		&artifact.Type,
		&artifact.Version,
		&contentJSON,
		&artifact.CreatedAt,
	)
	if err != nil {
		return domain.Artifact{}, handleNotFound(err)
	}
	artifact.Content = decodeContent(contentJSON)
	return artifact, nil
}

func scanArtifactRows(rows *sql.Rows) (domain.Artifact, error) {
	var artifact domain.Artifact
	var contentJSON []byte
	err := rows.Scan(
		&artifact.ID,
		&artifact.RunID,
		&artifact.Type,
		&artifact.Version,
		&contentJSON,
		&artifact.CreatedAt,
	)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("scan artifact: %w", err)
	}
	artifact.Content = decodeContent(contentJSON)
	return artifact, nil
}
