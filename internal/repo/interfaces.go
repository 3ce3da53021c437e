// Package repo declares the persistence contracts of the orchestrator and the
// errors they surface. Implementations live in subpackages.
package repo

import (
	"context"
	"errors"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

// ErrNotFound is returned when a run, artifact or execution does not exist.
var ErrNotFound = errors.New("not found")

// RunStore persists runs. Runs are mutated exclusively by the orchestrator and
// never physically deleted in normal operation.
type RunStore interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, error)
	Update(ctx context.Context, run domain.Run) error
}

// AgentStore mirrors the static pipeline definition into persisted agent
// records, reconciled once at startup.
type AgentStore interface {
	Reconcile(ctx context.Context, steps []domain.PipelineStep) error
	List(ctx context.Context) ([]domain.PipelineStep, error)
}

// ArtifactStore is the append-only versioned artifact log. Append assigns
// max(existing version)+1 atomically; concurrent appenders for the same
// (run, type) never collide or leave gaps.
type ArtifactStore interface {
	Append(ctx context.Context, runID, artifactType string, content map[string]any) (domain.Artifact, error)
	Latest(ctx context.Context, runID, artifactType string) (domain.Artifact, error)
	LatestVersion(ctx context.Context, runID, artifactType string) (int, error)
	LatestByType(ctx context.Context, runID string) (map[string]map[string]any, error)
	ListByType(ctx context.Context, runID, artifactType string) ([]domain.Artifact, error)
	Get(ctx context.Context, runID string, version int, artifactType string) (domain.Artifact, error)
}

// ExecutionStore is the execution ledger: one row per attempt, append-only
// ordered log lines per attempt. OpenAttempt assigns attempt numbers
// max(prior)+1 per (run, step); Close is terminal for that attempt.
type ExecutionStore interface {
	OpenAttempt(ctx context.Context, exec domain.StepExecution) (domain.StepExecution, error)
	AppendLog(ctx context.Context, executionID, message string) error
	SetStatus(ctx context.Context, executionID, status string) error
	Close(ctx context.Context, executionID, status, responseMessage string) error
	LatestAttempt(ctx context.Context, runID string, stepOrder int) (domain.StepExecution, error)
	ListByStep(ctx context.Context, runID string, stepOrder int) ([]domain.StepExecution, error)
}
