// Package engine drives runs through the pipeline: it opens ledger
// attempts, calls agents through the gateway, waits for artifacts and
// applies the approval workflow. All run state transitions go through
// this package.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/devflow-labs/devflow-go/internal/agentgw"
	"github.com/devflow-labs/devflow-go/internal/content"
	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/pipeline"
	"github.com/devflow-labs/devflow-go/internal/repo"
)

const (
	defaultWaitTimeout   = 120 * time.Second
	defaultPollInterval  = 2 * time.Second
	defaultDomainName    = "software"
	storedMessageMax     = 350
	backgroundRunTimeout = 10 * time.Minute
)

// Gateway triggers an agent endpoint. Satisfied by agentgw.Client.
type Gateway interface {
	Trigger(ctx context.Context, endpoint string, req agentgw.TriggerRequest) (agentgw.TriggerResult, error)
}

// Archiver mirrors accepted artifacts to long-term storage. Archiving
// is best effort and never blocks the pipeline.
type Archiver interface {
	ArchiveArtifact(ctx context.Context, artifact domain.Artifact) error
}

// Config tunes the wait-for-result protocol.
type Config struct {
	// WaitTimeout bounds how long a step waits for its artifact.
	WaitTimeout time.Duration

	// PollInterval is the artifact poll cadence while waiting.
	PollInterval time.Duration

	// DefaultDomain is applied to runs created without one.
	DefaultDomain string
}

func (c Config) withDefaults() Config {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = defaultWaitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if strings.TrimSpace(c.DefaultDomain) == "" {
		c.DefaultDomain = defaultDomainName
	}
	return c
}

// Deps collects the engine's collaborators.
type Deps struct {
	Runs       repo.RunStore
	Artifacts  repo.ArtifactStore
	Executions repo.ExecutionStore
	Gateway    Gateway

	// Archiver is optional.
	Archiver Archiver

	Logger *slog.Logger
}

// Engine coordinates runs. Safe for concurrent use; operations on the
// same run are serialized through a per-run lock.
type Engine struct {
	def        *pipeline.Definition
	runs       repo.RunStore
	artifacts  repo.ArtifactStore
	executions repo.ExecutionStore
	gateway    Gateway
	archiver   Archiver
	logger     *slog.Logger
	cfg        Config

	locks runLocks
	wg    sync.WaitGroup
}

// New builds an Engine. def, the stores and the gateway are required.
func New(def *pipeline.Definition, deps Deps, cfg Config) (*Engine, error) {
	if def == nil || def.Len() == 0 {
		return nil, errors.New("engine: pipeline definition is required")
	}
	if deps.Runs == nil || deps.Artifacts == nil || deps.Executions == nil {
		return nil, errors.New("engine: run, artifact and execution stores are required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("engine: gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		def:        def,
		runs:       deps.Runs,
		artifacts:  deps.Artifacts,
		executions: deps.Executions,
		gateway:    deps.Gateway,
		archiver:   deps.Archiver,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}, nil
}

// Wait blocks until all background step executions spawned by
// CreateRun, Approve and Reject have finished. Used for graceful
// shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Definition exposes the pipeline the engine runs.
func (e *Engine) Definition() *pipeline.Definition {
	return e.def
}

// CreateRun registers a new run and starts the first step in the
// background, so the returned run is already in progress on it.
func (e *Engine) CreateRun(ctx context.Context, domainName, brief string) (domain.Run, error) {
	brief = strings.TrimSpace(brief)
	if brief == "" {
		return domain.Run{}, fmt.Errorf("%w: brief is required", ErrValidation)
	}
	domainName = strings.TrimSpace(domainName)
	if domainName == "" {
		domainName = e.cfg.DefaultDomain
	}

	first := e.def.First()
	order := first.Order
	now := time.Now().UTC()
	run := domain.Run{
		ID:               domain.NewRunID(),
		Domain:           domainName,
		Brief:            brief,
		Status:           domain.RunStatusInProgress(first.Slug),
		CurrentStepOrder: &order,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := e.runs.Create(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}
	e.logger.Info("run created", "run_id", run.ID, "domain", run.Domain, "first_step", first.Slug)
	e.runStepAsync(ExecuteParams{RunID: run.ID, StepSlug: first.Slug})
	return run, nil
}

// GetRun loads a run by id.
func (e *Engine) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	run, err := e.runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

// Approve accepts the artifact the run is waiting on. For the final
// step the run completes; otherwise the next step is started in the
// background and the run moves to its in-progress state.
func (e *Engine) Approve(ctx context.Context, runID string) (domain.Run, error) {
	lock := e.locks.get(runID)
	lock.Lock()

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		lock.Unlock()
		return domain.Run{}, err
	}
	if !run.AwaitingDecision || run.CurrentStepOrder == nil {
		lock.Unlock()
		return domain.Run{}, fmt.Errorf("%w: run %s is not waiting for approval (status %s)", ErrInvalidState, runID, run.Status)
	}
	current, ok := e.def.ByOrder(*run.CurrentStepOrder)
	if !ok {
		lock.Unlock()
		return domain.Run{}, fmt.Errorf("%w: run %s references unknown step order %d", ErrInvalidState, runID, *run.CurrentStepOrder)
	}

	next, hasNext := e.def.Next(current.Order)
	run.AwaitingDecision = false
	if hasNext {
		run.Status = domain.RunStatusInProgress(next.Slug)
		order := next.Order
		run.CurrentStepOrder = &order
	} else {
		run.Status = domain.RunStatusCompleted
		run.CurrentStepOrder = nil
	}
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		lock.Unlock()
		return domain.Run{}, fmt.Errorf("approve run: %w", err)
	}
	lock.Unlock()

	e.logger.Info("step approved", "run_id", runID, "step", current.Slug, "completed", !hasNext)
	if hasNext {
		e.runStepAsync(ExecuteParams{RunID: runID, StepSlug: next.Slug})
	}
	return run, nil
}

// Reject declines the pending artifact and reopens the step as a
// feedback attempt. Feedback is mandatory.
func (e *Engine) Reject(ctx context.Context, runID, feedback string) (domain.Run, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return domain.Run{}, fmt.Errorf("%w: feedback is required to reject", ErrValidation)
	}

	lock := e.locks.get(runID)
	lock.Lock()

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		lock.Unlock()
		return domain.Run{}, err
	}
	if !run.AwaitingDecision || run.CurrentStepOrder == nil {
		lock.Unlock()
		return domain.Run{}, fmt.Errorf("%w: run %s is not waiting for approval (status %s)", ErrInvalidState, runID, run.Status)
	}
	current, ok := e.def.ByOrder(*run.CurrentStepOrder)
	if !ok {
		lock.Unlock()
		return domain.Run{}, fmt.Errorf("%w: run %s references unknown step order %d", ErrInvalidState, runID, *run.CurrentStepOrder)
	}

	run.AwaitingDecision = false
	run.Status = domain.RunStatusRetrying(current.Slug)
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		lock.Unlock()
		return domain.Run{}, fmt.Errorf("reject run: %w", err)
	}
	lock.Unlock()

	e.logger.Info("step rejected", "run_id", runID, "step", current.Slug)
	e.runStepAsync(ExecuteParams{RunID: runID, StepSlug: current.Slug, IsFeedback: true, Feedback: feedback})
	return run, nil
}

// HandleCallback stores an artifact reported by an agent. The type is
// resolved from the agent slug, then from the run's current step, then
// from a declared artifact_type field; unresolvable callbacks are
// stored under the unknown type so no agent output is lost. When an
// execution is waiting it observes the new version and finishes the
// transition itself; a callback landing with nobody waiting (for
// example after a timeout) parks the run in waiting-approval directly.
func (e *Engine) HandleCallback(ctx context.Context, agentSlug string, payload map[string]any) (domain.Artifact, error) {
	agentSlug = strings.TrimSpace(agentSlug)
	if len(payload) == 0 {
		return domain.Artifact{}, fmt.Errorf("%w: callback payload is empty", ErrValidation)
	}

	runID, _ := payload["run_id"].(string)
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Artifact{}, fmt.Errorf("%w: callback run_id is required", ErrValidation)
	}
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return domain.Artifact{}, err
	}

	step, resolved := e.def.BySlug(agentSlug)
	if !resolved && run.CurrentStepOrder != nil {
		step, resolved = e.def.ByOrder(*run.CurrentStepOrder)
	}
	if !resolved {
		if declared, ok := payload["artifact_type"].(string); ok {
			step, resolved = e.def.ByArtifactType(strings.TrimSpace(declared))
		}
	}
	artifactType := domain.ArtifactTypeUnknown
	if resolved {
		artifactType = step.ArtifactType
	}

	doc := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == "run_id" || key == "artifact_type" {
			continue
		}
		doc[key] = value
	}
	if embedded := agentgw.ExtractEmbeddedValue(doc); embedded != nil {
		doc = embedded
	}
	doc, _ = content.NormalizeArtifact(doc).(map[string]any)
	if len(doc) == 0 {
		return domain.Artifact{}, fmt.Errorf("%w: callback carries no artifact content", ErrValidation)
	}

	artifact, err := e.artifacts.Append(ctx, runID, artifactType, doc)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("store callback artifact: %w", err)
	}
	e.archive(ctx, artifact)
	e.logger.Info("callback artifact stored",
		"run_id", runID, "agent", agentSlug, "artifact_type", artifactType, "version", artifact.Version)

	if resolved {
		e.parkAfterLateCallback(ctx, runID, step)
	}
	return artifact, nil
}

// parkAfterLateCallback moves a run to waiting-approval when an
// artifact for its current step arrives with no attempt in flight.
// While an attempt is open the waiting execution owns the transition.
func (e *Engine) parkAfterLateCallback(ctx context.Context, runID string, step domain.PipelineStep) {
	lock := e.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return
	}
	if run.Status == domain.RunStatusCompleted || run.AwaitingDecision {
		return
	}
	if run.CurrentStepOrder == nil || *run.CurrentStepOrder != step.Order {
		return
	}
	if last, err := e.executions.LatestAttempt(ctx, runID, step.Order); err == nil && !last.Closed() {
		return
	}

	run.Status = domain.RunStatusWaitingApproval(step.Slug)
	run.AwaitingDecision = true
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		e.logger.Warn("run status update failed", "run_id", runID, "error", err)
		return
	}
	e.logger.Info("late callback parked run for approval", "run_id", runID, "step", step.Slug)
}

// runStepAsync executes a step in the background. Failures are already
// recorded in the ledger and on the run by ExecuteStep; here they are
// only logged.
func (e *Engine) runStepAsync(params ExecuteParams) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRunTimeout)
		defer cancel()
		if _, err := e.ExecuteStep(ctx, params); err != nil {
			e.logger.Error("background step execution failed",
				"run_id", params.RunID, "step", params.StepSlug, "error", err)
		}
	}()
}

func (e *Engine) archive(ctx context.Context, artifact domain.Artifact) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.ArchiveArtifact(ctx, artifact); err != nil {
		e.logger.Warn("artifact archive failed",
			"run_id", artifact.RunID, "artifact_type", artifact.Type, "version", artifact.Version, "error", err)
	}
}
