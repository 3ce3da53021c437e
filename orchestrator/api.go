package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devflow-labs/devflow-go/internal/agentgw"
	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/engine"
	"github.com/devflow-labs/devflow-go/internal/platform/auditlog"
	"github.com/devflow-labs/devflow-go/internal/platform/auth"
	"github.com/devflow-labs/devflow-go/internal/repo"
)

type orchestratorAPI struct {
	logger     *slog.Logger
	eng        *engine.Engine
	agents     repo.AgentStore
	artifacts  repo.ArtifactStore
	executions repo.ExecutionStore

	// audit is optional; when nil lifecycle actions are not audited.
	audit auditlog.QueryRower

	// callbackKey, when set, must match the X-API-Key header on
	// inbound agent callbacks.
	callbackKey string
}

func newOrchestratorAPI(logger *slog.Logger, eng *engine.Engine, agents repo.AgentStore, artifacts repo.ArtifactStore, executions repo.ExecutionStore, audit auditlog.QueryRower, callbackKey string) *orchestratorAPI {
	return &orchestratorAPI{
		logger:      logger,
		eng:         eng,
		agents:      agents,
		artifacts:   artifacts,
		executions:  executions,
		audit:       audit,
		callbackKey: strings.TrimSpace(callbackKey),
	}
}

func (api *orchestratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/steps/{step}/execute", api.handleExecuteStep)
	mux.HandleFunc("POST /runs/{run_id}/approve", api.handleApprove)
	mux.HandleFunc("POST /runs/{run_id}/reject", api.handleReject)

	mux.HandleFunc("GET /runs/{run_id}/artifacts", api.handleDownloadArtifact)
	mux.HandleFunc("GET /runs/{run_id}/artifacts/export", api.handleExportArtifacts)
	mux.HandleFunc("GET /runs/{run_id}/artifacts/versions", api.handleListArtifactVersions)
	mux.HandleFunc("GET /runs/{run_id}/logs", api.handleRunLogs)

	mux.HandleFunc("POST /callbacks/agent/{agent_slug}", api.handleAgentCallback)
	mux.HandleFunc("GET /agents", api.handleListAgents)
}

type runResponse struct {
	RunID            string    `json:"run_id"`
	Domain           string    `json:"domain"`
	Brief            string    `json:"brief"`
	Status           string    `json:"status"`
	CurrentStepOrder *int      `json:"current_step_order"`
	CurrentStepSlug  string    `json:"current_step_slug,omitempty"`
	AwaitingDecision bool      `json:"awaiting_decision"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (api *orchestratorAPI) runResponse(run domain.Run) runResponse {
	resp := runResponse{
		RunID:            run.ID,
		Domain:           run.Domain,
		Brief:            run.Brief,
		Status:           run.Status,
		CurrentStepOrder: run.CurrentStepOrder,
		AwaitingDecision: run.AwaitingDecision,
		CreatedAt:        run.CreatedAt,
		UpdatedAt:        run.UpdatedAt,
	}
	if run.CurrentStepOrder != nil {
		if step, ok := api.eng.Definition().ByOrder(*run.CurrentStepOrder); ok {
			resp.CurrentStepSlug = step.Slug
		}
	}
	return resp
}

type createRunRequest struct {
	Domain string `json:"domain,omitempty"`
	Brief  string `json:"brief"`
}

func (api *orchestratorAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	run, err := api.eng.CreateRun(r.Context(), req.Domain, req.Brief)
	if err != nil {
		api.writeEngineError(w, r, err)
		return
	}
	api.auditAction(r, "run.create", run.ID, map[string]any{"domain": run.Domain})
	api.writeJSON(w, http.StatusCreated, api.runResponse(run))
}

func (api *orchestratorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.eng.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeEngineError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, api.runResponse(run))
}

type executeStepRequest struct {
	IsFeedback bool   `json:"is_feedback,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}

type executeStepResponse struct {
	RunID           string `json:"run_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	Attempt         int    `json:"attempt,omitempty"`
	ArtifactType    string `json:"artifact_type,omitempty"`
	ArtifactVersion int    `json:"artifact_version,omitempty"`
}

// handleExecuteStep runs a step synchronously. Upstream failures are
// reported with a 200 and a diagnostic message because the run itself
// is in a consistent, retryable state; only caller mistakes are 4xx.
func (api *orchestratorAPI) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	stepSlug := r.PathValue("step")

	var req executeStepRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	outcome, err := api.eng.ExecuteStep(r.Context(), engine.ExecuteParams{
		RunID:      runID,
		StepSlug:   stepSlug,
		IsFeedback: req.IsFeedback,
		Feedback:   req.Feedback,
	})
	if err != nil {
		if errors.Is(err, engine.ErrUpstreamTimeout) || errors.Is(err, engine.ErrUpstreamError) {
			run, getErr := api.eng.GetRun(r.Context(), runID)
			if getErr != nil {
				api.writeEngineError(w, r, getErr)
				return
			}
			api.writeJSON(w, http.StatusOK, executeStepResponse{
				RunID:   run.ID,
				Status:  run.Status,
				Message: err.Error(),
			})
			return
		}
		api.writeEngineError(w, r, err)
		return
	}

	api.writeJSON(w, http.StatusOK, executeStepResponse{
		RunID:           outcome.Run.ID,
		Status:          outcome.Run.Status,
		Message:         outcome.Message,
		Attempt:         outcome.Execution.Attempt,
		ArtifactType:    outcome.Artifact.Type,
		ArtifactVersion: outcome.Artifact.Version,
	})
}

func (api *orchestratorAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := api.eng.Approve(r.Context(), runID)
	if err != nil {
		api.writeEngineError(w, r, err)
		return
	}
	api.auditAction(r, "run.approve", runID, map[string]any{"status": run.Status})
	api.writeJSON(w, http.StatusOK, api.runResponse(run))
}

type rejectRequest struct {
	Feedback string `json:"feedback"`
}

func (api *orchestratorAPI) handleReject(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	run, err := api.eng.Reject(r.Context(), runID, req.Feedback)
	if err != nil {
		api.writeEngineError(w, r, err)
		return
	}
	api.auditAction(r, "run.reject", runID, map[string]any{"feedback": req.Feedback})
	api.writeJSON(w, http.StatusOK, api.runResponse(run))
}

func (api *orchestratorAPI) handleAgentCallback(w http.ResponseWriter, r *http.Request) {
	if api.callbackKey != "" && r.Header.Get("X-API-Key") != api.callbackKey {
		api.writeError(w, r, http.StatusUnauthorized, "invalid_api_key")
		return
	}

	var payload map[string]any
	if err := decodeJSONLoose(r, &payload); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	artifact, err := api.eng.HandleCallback(r.Context(), r.PathValue("agent_slug"), payload)
	if err != nil {
		api.writeEngineError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":        artifact.RunID,
		"artifact_type": artifact.Type,
		"version":       artifact.Version,
	})
}

func (api *orchestratorAPI) handleListAgents(w http.ResponseWriter, r *http.Request) {
	steps, err := api.agents.List(r.Context())
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		out = append(out, map[string]any{
			"slug":          step.Slug,
			"name":          step.Name,
			"step_order":    step.Order,
			"endpoint":      step.Endpoint,
			"artifact_type": step.ArtifactType,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// handleDownloadArtifact returns one artifact's content, unwrapped from
// the {"artifact": ...} envelope agents use. Defaults to the latest
// version of the requested type.
func (api *orchestratorAPI) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	artifactType := strings.TrimSpace(r.URL.Query().Get("artifact_type"))
	if artifactType == "" {
		api.writeError(w, r, http.StatusBadRequest, "artifact_type_required")
		return
	}

	var artifact domain.Artifact
	var err error
	if rawVersion := strings.TrimSpace(r.URL.Query().Get("version")); rawVersion != "" {
		version, convErr := strconv.Atoi(rawVersion)
		if convErr != nil || version < 1 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_version")
			return
		}
		artifact, err = api.artifacts.Get(r.Context(), runID, version, artifactType)
	} else {
		artifact, err = api.artifacts.Latest(r.Context(), runID, artifactType)
	}
	if err != nil {
		api.writeEngineError(w, r, err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        artifact.RunID,
		"artifact_type": artifact.Type,
		"version":       artifact.Version,
		"created_at":    artifact.CreatedAt,
		"artifact":      agentgw.UnwrapArtifact(artifact.Content),
	})
}

func (api *orchestratorAPI) handleExportArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if _, err := api.eng.GetRun(r.Context(), runID); err != nil {
		api.writeEngineError(w, r, err)
		return
	}

	steps := api.eng.Definition().Steps()
	out := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		artifact, err := api.artifacts.Latest(r.Context(), runID, step.ArtifactType)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		out = append(out, map[string]any{
			"artifact_type": artifact.Type,
			"version":       artifact.Version,
			"created_at":    artifact.CreatedAt,
			"artifact":      agentgw.UnwrapArtifact(artifact.Content),
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "artifacts": out})
}

func (api *orchestratorAPI) handleListArtifactVersions(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	artifactType := strings.TrimSpace(r.URL.Query().Get("artifact_type"))
	if artifactType == "" {
		api.writeError(w, r, http.StatusBadRequest, "artifact_type_required")
		return
	}

	artifacts, err := api.artifacts.ListByType(r.Context(), runID, artifactType)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, map[string]any{
			"version":    artifact.Version,
			"created_at": artifact.CreatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        runID,
		"artifact_type": artifactType,
		"versions":      out,
	})
}

type executionLogResponse struct {
	StepOrder  int       `json:"step_order"`
	StepSlug   string    `json:"step_slug"`
	Attempt    int       `json:"attempt"`
	IsFeedback bool      `json:"is_feedback"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt *string   `json:"finished_at"`
	Logs       []string  `json:"logs"`
}

func (api *orchestratorAPI) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if _, err := api.eng.GetRun(r.Context(), runID); err != nil {
		api.writeEngineError(w, r, err)
		return
	}

	var out []executionLogResponse
	for _, step := range api.eng.Definition().Steps() {
		execs, err := api.executions.ListByStep(r.Context(), runID, step.Order)
		if err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		for _, exec := range execs {
			lines := make([]string, 0, len(exec.Logs))
			for _, entry := range exec.Logs {
				lines = append(lines, "[attempt "+strconv.Itoa(exec.Attempt)+"] "+entry.Message)
			}
			var finishedAt *string
			if exec.FinishedAt != nil {
				s := exec.FinishedAt.UTC().Format(time.RFC3339Nano)
				finishedAt = &s
			}
			out = append(out, executionLogResponse{
				StepOrder:  exec.StepOrder,
				StepSlug:   exec.StepSlug,
				Attempt:    exec.Attempt,
				IsFeedback: exec.IsFeedback,
				Status:     exec.Status,
				Message:    exec.ResponseMessage,
				StartedAt:  exec.StartedAt,
				FinishedAt: finishedAt,
				Logs:       lines,
			})
		}
	}
	if out == nil {
		out = []executionLogResponse{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "executions": out})
}

// auditAction records a lifecycle action. The mutation has already
// happened when this runs, so an audit failure is logged rather than
// turned into an error response, the same way artifact archival is
// handled.
func (api *orchestratorAPI) auditAction(r *http.Request, action, runID string, payload map[string]any) {
	if api.audit == nil {
		return
	}
	_, err := auditlog.Insert(r.Context(), api.audit, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        auth.ActorOrAnonymous(r.Context()),
		Action:       action,
		ResourceType: "run",
		ResourceID:   runID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Error("audit insert failed", "action", action, "run_id", runID, "error", err)
	}
}

func (api *orchestratorAPI) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		api.writeError(w, r, http.StatusBadRequest, "validation_error")
	case errors.Is(err, engine.ErrInvalidState):
		api.writeError(w, r, http.StatusConflict, "invalid_state")
	case errors.Is(err, engine.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

// decodeJSONLoose accepts arbitrary fields; callback payload shapes are
// agent-defined.
func decodeJSONLoose(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *orchestratorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *orchestratorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
