package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/repo"
)

type RunStore struct {
	db DB
}

const (
	insertRunQuery = `INSERT INTO runs (
		run_id,
		domain,
		brief,
		status,
		current_step_order,
		awaiting_decision,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	selectRunQuery = `SELECT run_id, domain, brief, status, current_step_order, awaiting_decision, created_at, updated_at
	 FROM runs
	 WHERE run_id = $1`

	updateRunQuery = `UPDATE runs
	 SET domain = $2,
	     brief = $3,
	     status = $4,
	     current_step_order = $5,
	     awaiting_decision = $6,
	     updated_at = $7
	 WHERE run_id = $1`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.Domain),
		run.Brief,
		run.Status,
		nullIntPtr(run.CurrentStepOrder),
		run.AwaitingDecision,
		normalizeTime(run.CreatedAt),
		normalizeTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, selectRunQuery, id)
	return scanRun(row)
}

func (s *RunStore) Update(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		updateRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.Domain),
		run.Brief,
		run.Status,
		nullIntPtr(run.CurrentStepOrder),
		run.AwaitingDecision,
		normalizeTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanRun(row *sql.Row) (domain.Run, error) {
	var run domain.Run
	var currentStep sql.NullInt64
	err := row.Scan(
		&run.ID,
		&run.Domain,
		&run.Brief,
		&run.Status,
		&currentStep,
		&run.AwaitingDecision,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	if currentStep.Valid {
		order := int(currentStep.Int64)
		run.CurrentStepOrder = &order
	}
	return run, nil
}

func nullIntPtr(value *int) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}
