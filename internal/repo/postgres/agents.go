package postgres

import (
	"context"
	"fmt"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

type AgentStore struct {
	db DB
}

const (
	upsertAgentQuery = `INSERT INTO agents (slug, name, endpoint, step_order, artifact_type)
	 VALUES ($1,$2,$3,$4,$5)
	 ON CONFLICT (slug) DO UPDATE SET
		name = EXCLUDED.name,
		endpoint = EXCLUDED.endpoint,
		step_order = EXCLUDED.step_order,
		artifact_type = EXCLUDED.artifact_type`

	listAgentsQuery = `SELECT slug, name, endpoint, step_order, artifact_type
	 FROM agents
	 ORDER BY step_order ASC`
)

func NewAgentStore(db DB) *AgentStore {
	if db == nil {
		return nil
	}
	return &AgentStore{db: db}
}

// Reconcile upserts the static pipeline definition into agent records and
// removes records for steps no longer defined.
func (s *AgentStore) Reconcile(ctx context.Context, steps []domain.PipelineStep) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("agent store not initialized")
	}
	slugs := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, upsertAgentQuery, step.Slug, step.Name, step.Endpoint, step.Order, step.ArtifactType); err != nil {
			return fmt.Errorf("upsert agent %s: %w", step.Slug, err)
		}
		slugs = append(slugs, step.Slug)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE NOT (slug = ANY($1))`, slugs); err != nil {
		return fmt.Errorf("prune agents: %w", err)
	}
	return nil
}

func (s *AgentStore) List(ctx context.Context) ([]domain.PipelineStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("agent store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listAgentsQuery)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PipelineStep
	for rows.Next() {
		var step domain.PipelineStep
		if err := rows.Scan(&step.Slug, &step.Name, &step.Endpoint, &step.Order, &step.ArtifactType); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}
