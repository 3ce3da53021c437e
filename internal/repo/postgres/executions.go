package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/repo"
)

type ExecutionStore struct {
	db DB
}

const (
	// Attempt numbers are assigned inside the insert, analogous to artifact
	// versions: monotonic and gap-free per (run, step) even across retries
	// separated by arbitrary time.
	insertExecutionQuery = `INSERT INTO step_executions (
		execution_id,
		run_id,
		step_order,
		step_slug,
		attempt,
		is_feedback,
		feedback_text,
		status,
		request_payload,
		started_at
	) VALUES (
		$1, $2, $3, $4,
		(SELECT COALESCE(MAX(attempt), 0) + 1 FROM step_executions WHERE run_id = $2 AND step_order = $3),
		$5, $6, $7, $8, $9
	)
	RETURNING execution_id, run_id, step_order, step_slug, attempt, is_feedback, feedback_text, status, request_payload, response_message, started_at, finished_at`

	insertStepLogQuery = `INSERT INTO step_logs (execution_id, message, created_at) VALUES ($1,$2,$3)`

	setExecutionStatusQuery = `UPDATE step_executions SET status = $2 WHERE execution_id = $1`

	closeExecutionQuery = `UPDATE step_executions
	 SET status = $2, response_message = $3, finished_at = $4
	 WHERE execution_id = $1 AND finished_at IS NULL`

	selectLatestAttemptQuery = `SELECT execution_id, run_id, step_order, step_slug, attempt, is_feedback, feedback_text, status, request_payload, response_message, started_at, finished_at
	 FROM step_executions
	 WHERE run_id = $1 AND step_order = $2
	 ORDER BY attempt DESC, started_at DESC
	 LIMIT 1`

	listExecutionsByStepQuery = `SELECT execution_id, run_id, step_order, step_slug, attempt, is_feedback, feedback_text, status, request_payload, response_message, started_at, finished_at
	 FROM step_executions
	 WHERE run_id = $1 AND step_order = $2
	 ORDER BY attempt ASC, started_at ASC`

	listStepLogsQuery = `SELECT execution_id, message, created_at
	 FROM step_logs
	 WHERE execution_id = ANY($1)
	 ORDER BY created_at ASC, log_id ASC`
)

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) OpenAttempt(ctx context.Context, exec domain.StepExecution) (domain.StepExecution, error) {
	if s == nil || s.db == nil {
		return domain.StepExecution{}, fmt.Errorf("execution store not initialized")
	}
	if err := exec.Validate(); err != nil {
		return domain.StepExecution{}, err
	}
	payloadJSON, err := encodeContent(exec.RequestPayload)
	if err != nil {
		return domain.StepExecution{}, fmt.Errorf("encode payload: %w", err)
	}
	status := exec.Status
	if strings.TrimSpace(status) == "" {
		status = domain.ExecutionStatusStarted
	}
	startedAt := normalizeTime(exec.StartedAt)

	var lastErr error
	for range appendMaxRetries {
		row := s.db.QueryRowContext(
			ctx,
			insertExecutionQuery,
			uuid.NewString(),
			strings.TrimSpace(exec.RunID),
			exec.StepOrder,
			strings.TrimSpace(exec.StepSlug),
			exec.IsFeedback,
			nullIfEmpty(exec.FeedbackText),
			status,
			payloadJSON,
			startedAt,
		)
		opened, err := scanExecutionRow(row)
		if err == nil {
			return opened, nil
		}
		if !isUniqueViolation(err) {
			return domain.StepExecution{}, fmt.Errorf("open attempt: %w", err)
		}
		lastErr = err
	}
	return domain.StepExecution{}, fmt.Errorf("open attempt: attempt contention: %w", lastErr)
}

func (s *ExecutionStore) AppendLog(ctx context.Context, executionID, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if _, err := s.db.ExecContext(ctx, insertStepLogQuery, executionID, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *ExecutionStore) SetStatus(ctx context.Context, executionID, status string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	res, err := s.db.ExecContext(ctx, setExecutionStatusQuery, strings.TrimSpace(executionID), status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return requireAffected(res)
}

// Close is terminal: a closed execution keeps its first finish timestamp, a
// second close is a no-op reported as ErrNotFound.
func (s *ExecutionStore) Close(ctx context.Context, executionID, status, responseMessage string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	res, err := s.db.ExecContext(ctx, closeExecutionQuery, strings.TrimSpace(executionID), status, nullIfEmpty(responseMessage), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("close execution: %w", err)
	}
	return requireAffected(res)
}

func (s *ExecutionStore) LatestAttempt(ctx context.Context, runID string, stepOrder int) (domain.StepExecution, error) {
	if s == nil || s.db == nil {
		return domain.StepExecution{}, fmt.Errorf("execution store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectLatestAttemptQuery, strings.TrimSpace(runID), stepOrder)
	return scanExecutionRow(row)
}

func (s *ExecutionStore) ListByStep(ctx context.Context, runID string, stepOrder int) ([]domain.StepExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listExecutionsByStepQuery, strings.TrimSpace(runID), stepOrder)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.StepExecution
	ids := make([]string, 0, 4)
	index := map[string]int{}
	for rows.Next() {
		exec, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		index[exec.ID] = len(out)
		ids = append(ids, exec.ID)
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	logRows, err := s.db.QueryContext(ctx, listStepLogsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	defer func() { _ = logRows.Close() }()
	for logRows.Next() {
		var entry domain.StepLog
		if err := logRows.Scan(&entry.ExecutionID, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}
		if i, ok := index[entry.ExecutionID]; ok {
			out[i].Logs = append(out[i].Logs, entry)
		}
	}
	if err := logRows.Err(); err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type executionScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner executionScanner) (domain.StepExecution, error) {
	var exec domain.StepExecution
	var feedbackText sql.NullString
	var responseMessage sql.NullString
	var payloadJSON []byte
	var finishedAt sql.NullTime
	err := scanner.Scan(
		&exec.ID,
		&exec.RunID,
		&exec.StepOrder,
		&exec.StepSlug,
		&exec.Attempt,
		&exec.IsFeedback,
		&feedbackText,
		&exec.Status,
		&payloadJSON,
		&responseMessage,
		&exec.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.StepExecution{}, err
	}
	exec.FeedbackText = feedbackText.String
	exec.ResponseMessage = responseMessage.String
	exec.RequestPayload = decodeContent(payloadJSON)
	if finishedAt.Valid {
		t := finishedAt.Time
		exec.FinishedAt = &t
	}
	return exec, nil
}

func scanExecutionRow(row *sql.Row) (domain.StepExecution, error) {
	exec, err := scanExecution(row)
	if err != nil {
		return domain.StepExecution{}, handleNotFound(err)
	}
	return exec, nil
}

func scanExecutionRows(rows *sql.Rows) (domain.StepExecution, error) {
	exec, err := scanExecution(rows)
	if err != nil {
		return domain.StepExecution{}, fmt.Errorf("scan execution: %w", err)
	}
	return exec, nil
}
