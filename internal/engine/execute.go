package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devflow-labs/devflow-go/internal/agentgw"
	"github.com/devflow-labs/devflow-go/internal/content"
	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/pipeline"
	"github.com/devflow-labs/devflow-go/internal/repo"
)

// ExecuteParams identifies the step to run for an existing run.
type ExecuteParams struct {
	RunID    string
	StepSlug string

	// IsFeedback marks a retry after rejection; Feedback is then
	// required and forwarded to the agent.
	IsFeedback bool
	Feedback   string
}

// StepOutcome reports a finished synchronous step execution.
type StepOutcome struct {
	Run       domain.Run
	Execution domain.StepExecution
	Artifact  domain.Artifact
	Message   string
}

// ExecuteStep runs one step synchronously: it opens a ledger attempt,
// triggers the agent and waits for the artifact, then parks the run in
// its waiting-approval state. The run lock is held only around state
// transitions, never across the agent call or the poll loop.
func (e *Engine) ExecuteStep(ctx context.Context, params ExecuteParams) (StepOutcome, error) {
	step, ok := e.def.BySlug(strings.TrimSpace(params.StepSlug))
	if !ok {
		return StepOutcome{}, fmt.Errorf("%w: unknown step %q", ErrValidation, params.StepSlug)
	}
	if params.IsFeedback && strings.TrimSpace(params.Feedback) == "" {
		return StepOutcome{}, fmt.Errorf("%w: feedback is required for feedback attempts", ErrValidation)
	}

	runID := strings.TrimSpace(params.RunID)
	if runID == "" {
		return StepOutcome{}, fmt.Errorf("%w: run id is required", ErrValidation)
	}

	exec, stepCtx, baseline, err := e.beginAttempt(ctx, runID, step, params)
	if err != nil {
		return StepOutcome{}, err
	}

	e.log(ctx, exec.ID, fmt.Sprintf("triggering agent %s (attempt %d)", step.Slug, exec.Attempt))
	result, err := e.gateway.Trigger(ctx, step.Endpoint, agentgw.TriggerRequest{
		RunID:      runID,
		Context:    stepCtx,
		IsFeedback: params.IsFeedback,
		Feedback:   strings.TrimSpace(params.Feedback),
	})
	if err != nil {
		return StepOutcome{}, e.failStep(ctx, runID, step, exec.ID, err.Error(), ErrUpstreamError)
	}
	e.log(ctx, exec.ID, fmt.Sprintf("agent responded with status %d, waiting for artifact", result.StatusCode))
	if err := e.executions.SetStatus(ctx, exec.ID, domain.ExecutionStatusWaitingResult); err != nil {
		e.logger.Warn("ledger status update failed", "execution_id", exec.ID, "error", err)
	}

	artifact, timedOut, err := e.waitForArtifact(ctx, runID, step.ArtifactType, baseline)
	if err != nil {
		return StepOutcome{}, e.failStep(ctx, runID, step, exec.ID, err.Error(), ErrUpstreamError)
	}
	if timedOut {
		artifact, err = e.recoverEmbedded(ctx, runID, step, exec.ID, baseline, result)
		if err != nil {
			return StepOutcome{}, err
		}
	}

	return e.finishAttempt(ctx, runID, step, exec, artifact)
}

// beginAttempt validates the run state and opens the ledger attempt
// under the run lock. It returns the opened execution, the context
// payload sent to the agent, and the artifact version baseline the
// wait loop compares against.
func (e *Engine) beginAttempt(ctx context.Context, runID string, step domain.PipelineStep, params ExecuteParams) (domain.StepExecution, map[string]any, int, error) {
	lock := e.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return domain.StepExecution{}, nil, 0, err
	}
	if run.Status == domain.RunStatusCompleted {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("%w: run %s is completed", ErrInvalidState, runID)
	}
	if run.AwaitingDecision {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("%w: run %s is waiting for a decision on step %d", ErrInvalidState, runID, *run.CurrentStepOrder)
	}
	if err := e.checkStepOrder(run, step); err != nil {
		return domain.StepExecution{}, nil, 0, err
	}

	if last, err := e.executions.LatestAttempt(ctx, runID, step.Order); err == nil {
		if !last.Closed() {
			return domain.StepExecution{}, nil, 0, fmt.Errorf("%w: step %s already has attempt %d in flight", ErrInvalidState, step.Slug, last.Attempt)
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("load latest attempt: %w", err)
	}

	baseline, err := e.artifacts.LatestVersion(ctx, runID, step.ArtifactType)
	if err != nil {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("load artifact baseline: %w", err)
	}

	var stepCtx map[string]any
	if params.IsFeedback {
		stepCtx, err = e.feedbackContext(ctx, run, step)
	} else {
		stepCtx, err = e.buildStepContext(ctx, run, step)
	}
	if err != nil {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("build context: %w", err)
	}
	exec, err := e.executions.OpenAttempt(ctx, domain.StepExecution{
		RunID:          runID,
		StepOrder:      step.Order,
		StepSlug:       step.Slug,
		IsFeedback:     params.IsFeedback,
		FeedbackText:   strings.TrimSpace(params.Feedback),
		Status:         domain.ExecutionStatusStarted,
		RequestPayload: stepCtx,
	})
	if err != nil {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("open attempt: %w", err)
	}

	if params.IsFeedback {
		run.Status = domain.RunStatusRetrying(step.Slug)
	} else {
		run.Status = domain.RunStatusInProgress(step.Slug)
	}
	order := step.Order
	run.CurrentStepOrder = &order
	run.AwaitingDecision = false
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		return domain.StepExecution{}, nil, 0, fmt.Errorf("mark run in progress: %w", err)
	}
	return exec, stepCtx, baseline, nil
}

// checkStepOrder enforces the fixed pipeline order: the first step on
// a fresh run, a retry of the current step, or the direct successor of
// the current step.
func (e *Engine) checkStepOrder(run domain.Run, step domain.PipelineStep) error {
	if run.CurrentStepOrder == nil {
		if step.Order != e.def.First().Order {
			return fmt.Errorf("%w: run %s must start with step %s", ErrInvalidState, run.ID, e.def.First().Slug)
		}
		return nil
	}
	current := *run.CurrentStepOrder
	if step.Order == current || step.Order == current+1 {
		return nil
	}
	return fmt.Errorf("%w: step %s (order %d) is not executable from step order %d", ErrInvalidState, step.Slug, step.Order, current)
}

func (e *Engine) buildStepContext(ctx context.Context, run domain.Run, step domain.PipelineStep) (map[string]any, error) {
	latest, err := e.artifacts.LatestByType(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return pipeline.BuildContext(step.Slug, run, latest), nil
}

// feedbackContext sends the artifact being corrected back to the agent:
// a feedback attempt carries the latest artifact of the step's own type
// instead of the ordinary dependency context.
func (e *Engine) feedbackContext(ctx context.Context, run domain.Run, step domain.PipelineStep) (map[string]any, error) {
	latest, err := e.artifacts.Latest(ctx, run.ID, step.ArtifactType)
	if errors.Is(err, repo.ErrNotFound) {
		return e.buildStepContext(ctx, run, step)
	}
	if err != nil {
		return nil, err
	}
	return latest.Content, nil
}

// recoverEmbedded is the fallback after a wait deadline: if the agent
// embedded the artifact in its trigger response, store it; otherwise
// re-check the store once under the run lock so a callback racing the
// deadline is not declared a timeout, and only then give up.
func (e *Engine) recoverEmbedded(ctx context.Context, runID string, step domain.PipelineStep, execID string, baseline int, result agentgw.TriggerResult) (domain.Artifact, error) {
	if embedded := agentgw.ExtractEmbedded(result.Body); embedded != nil {
		doc, _ := content.NormalizeArtifact(embedded).(map[string]any)
		if len(doc) > 0 {
			e.log(ctx, execID, "no callback before deadline, using artifact embedded in trigger response")
			artifact, err := e.artifacts.Append(ctx, runID, step.ArtifactType, doc)
			if err != nil {
				return domain.Artifact{}, e.failStep(ctx, runID, step, execID, fmt.Sprintf("store embedded artifact: %v", err), ErrUpstreamError)
			}
			e.archive(ctx, artifact)
			return artifact, nil
		}
	}

	lock := e.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	version, err := e.artifacts.LatestVersion(ctx, runID, step.ArtifactType)
	if err == nil && version > baseline {
		artifact, err := e.artifacts.Latest(ctx, runID, step.ArtifactType)
		if err == nil {
			return artifact, nil
		}
	}

	e.closeAttempt(ctx, execID, domain.ExecutionStatusTimeout,
		fmt.Sprintf("no artifact of type %s received within %s", step.ArtifactType, e.cfg.WaitTimeout))
	e.markRunStatusLocked(ctx, runID, domain.RunStatusTimeout(step.Slug))
	return domain.Artifact{}, fmt.Errorf("%w: step %s produced no artifact within %s", ErrUpstreamTimeout, step.Slug, e.cfg.WaitTimeout)
}

// finishAttempt parks the run in waiting-approval and closes the
// ledger attempt with the human-facing completion message.
func (e *Engine) finishAttempt(ctx context.Context, runID string, step domain.PipelineStep, exec domain.StepExecution, artifact domain.Artifact) (StepOutcome, error) {
	message := CompletionMessage(step, artifact)

	lock := e.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return StepOutcome{}, err
	}
	run.Status = domain.RunStatusWaitingApproval(step.Slug)
	order := step.Order
	run.CurrentStepOrder = &order
	run.AwaitingDecision = true
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		return StepOutcome{}, fmt.Errorf("mark run waiting approval: %w", err)
	}

	if err := e.executions.SetStatus(ctx, exec.ID, domain.ExecutionStatusArtifactReceived); err != nil {
		e.logger.Warn("ledger status update failed", "execution_id", exec.ID, "error", err)
	}
	e.log(ctx, exec.ID, fmt.Sprintf("artifact %s v%d received", artifact.Type, artifact.Version))
	e.closeAttempt(ctx, exec.ID, domain.ExecutionStatusCompleted, message)

	e.logger.Info("step completed",
		"run_id", runID, "step", step.Slug, "attempt", exec.Attempt, "artifact_version", artifact.Version)
	exec.Status = domain.ExecutionStatusCompleted
	return StepOutcome{Run: run, Execution: exec, Artifact: artifact, Message: message}, nil
}

// failStep records an upstream failure in the ledger and on the run,
// then returns the given sentinel wrapped with the truncated detail.
func (e *Engine) failStep(ctx context.Context, runID string, step domain.PipelineStep, execID, detail string, sentinel error) error {
	detail = agentgw.Truncate(detail, storedMessageMax)
	e.closeAttempt(ctx, execID, domain.ExecutionStatusError, detail)

	lock := e.locks.get(runID)
	lock.Lock()
	e.markRunStatusLocked(ctx, runID, domain.RunStatusError(step.Slug))
	lock.Unlock()

	e.logger.Error("step failed", "run_id", runID, "step", step.Slug, "error", detail)
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// markRunStatusLocked updates the run status. Caller holds the run lock.
func (e *Engine) markRunStatusLocked(ctx context.Context, runID, status string) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		e.logger.Warn("run reload failed", "run_id", runID, "error", err)
		return
	}
	run.Status = status
	run.AwaitingDecision = false
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		e.logger.Warn("run status update failed", "run_id", runID, "status", status, "error", err)
	}
}

func (e *Engine) closeAttempt(ctx context.Context, execID, status, message string) {
	if err := e.executions.Close(ctx, execID, status, agentgw.Truncate(message, storedMessageMax)); err != nil {
		e.logger.Warn("ledger close failed", "execution_id", execID, "status", status, "error", err)
	}
}

func (e *Engine) log(ctx context.Context, execID, message string) {
	if err := e.executions.AppendLog(ctx, execID, message); err != nil {
		e.logger.Warn("ledger log append failed", "execution_id", execID, "error", err)
	}
}
