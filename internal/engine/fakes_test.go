package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devflow-labs/devflow-go/internal/agentgw"
	"github.com/devflow-labs/devflow-go/internal/domain"
	"github.com/devflow-labs/devflow-go/internal/repo"
)

// memDB backs the in-memory store fakes used by the engine tests. The
// single mutex mimics the serializable behavior of the real database.
type memDB struct {
	mu        sync.Mutex
	runs      map[string]domain.Run
	artifacts []domain.Artifact
	execs     []domain.StepExecution
	logs      map[string][]domain.StepLog
	nextID    int
}

func newMemDB() *memDB {
	return &memDB{
		runs: make(map[string]domain.Run),
		logs: make(map[string][]domain.StepLog),
	}
}

func (db *memDB) id(prefix string) string {
	db.nextID++
	return fmt.Sprintf("%s-%d", prefix, db.nextID)
}

type memRuns struct{ db *memDB }

func (s memRuns) Create(ctx context.Context, run domain.Run) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.db.runs[run.ID] = run
	return nil
}

func (s memRuns) Get(ctx context.Context, id string) (domain.Run, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	run, ok := s.db.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s memRuns) Update(ctx context.Context, run domain.Run) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	s.db.runs[run.ID] = run
	return nil
}

type memArtifacts struct{ db *memDB }

func (s memArtifacts) Append(ctx context.Context, runID, artifactType string, content map[string]any) (domain.Artifact, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	version := 0
	for _, a := range s.db.artifacts {
		if a.RunID == runID && a.Type == artifactType && a.Version > version {
			version = a.Version
		}
	}
	artifact := domain.Artifact{
		ID:        s.db.id("art"),
		RunID:     runID,
		Type:      artifactType,
		Version:   version + 1,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.db.artifacts = append(s.db.artifacts, artifact)
	return artifact, nil
}

func (s memArtifacts) Latest(ctx context.Context, runID, artifactType string) (domain.Artifact, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var found *domain.Artifact
	for i := range s.db.artifacts {
		a := s.db.artifacts[i]
		if a.RunID == runID && a.Type == artifactType && (found == nil || a.Version > found.Version) {
			found = &s.db.artifacts[i]
		}
	}
	if found == nil {
		return domain.Artifact{}, repo.ErrNotFound
	}
	return *found, nil
}

func (s memArtifacts) LatestVersion(ctx context.Context, runID, artifactType string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	version := 0
	for _, a := range s.db.artifacts {
		if a.RunID == runID && a.Type == artifactType && a.Version > version {
			version = a.Version
		}
	}
	return version, nil
}

func (s memArtifacts) LatestByType(ctx context.Context, runID string) (map[string]map[string]any, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	latest := make(map[string]domain.Artifact)
	for _, a := range s.db.artifacts {
		if a.RunID != runID {
			continue
		}
		if prev, ok := latest[a.Type]; !ok || a.Version > prev.Version {
			latest[a.Type] = a
		}
	}
	out := make(map[string]map[string]any, len(latest))
	for t, a := range latest {
		out[t] = a.Content
	}
	return out, nil
}

func (s memArtifacts) ListByType(ctx context.Context, runID, artifactType string) ([]domain.Artifact, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Artifact
	for _, a := range s.db.artifacts {
		if a.RunID == runID && a.Type == artifactType {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s memArtifacts) Get(ctx context.Context, runID string, version int, artifactType string) (domain.Artifact, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, a := range s.db.artifacts {
		if a.RunID == runID && a.Type == artifactType && a.Version == version {
			return a, nil
		}
	}
	return domain.Artifact{}, repo.ErrNotFound
}

type memExecs struct{ db *memDB }

func (s memExecs) OpenAttempt(ctx context.Context, exec domain.StepExecution) (domain.StepExecution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	attempt := 0
	for _, e := range s.db.execs {
		if e.RunID == exec.RunID && e.StepOrder == exec.StepOrder && e.Attempt > attempt {
			attempt = e.Attempt
		}
	}
	exec.ID = s.db.id("exec")
	exec.Attempt = attempt + 1
	if exec.Status == "" {
		exec.Status = domain.ExecutionStatusStarted
	}
	exec.StartedAt = time.Now().UTC()
	s.db.execs = append(s.db.execs, exec)
	return exec, nil
}

func (s memExecs) AppendLog(ctx context.Context, executionID, message string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.logs[executionID] = append(s.db.logs[executionID], domain.StepLog{
		ExecutionID: executionID,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (s memExecs) SetStatus(ctx context.Context, executionID, status string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.execs {
		if s.db.execs[i].ID == executionID {
			s.db.execs[i].Status = status
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s memExecs) Close(ctx context.Context, executionID, status, responseMessage string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.execs {
		if s.db.execs[i].ID == executionID && s.db.execs[i].FinishedAt == nil {
			now := time.Now().UTC()
			s.db.execs[i].Status = status
			s.db.execs[i].ResponseMessage = responseMessage
			s.db.execs[i].FinishedAt = &now
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s memExecs) LatestAttempt(ctx context.Context, runID string, stepOrder int) (domain.StepExecution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var found *domain.StepExecution
	for i := range s.db.execs {
		e := s.db.execs[i]
		if e.RunID == runID && e.StepOrder == stepOrder && (found == nil || e.Attempt > found.Attempt) {
			found = &s.db.execs[i]
		}
	}
	if found == nil {
		return domain.StepExecution{}, repo.ErrNotFound
	}
	return *found, nil
}

func (s memExecs) ListByStep(ctx context.Context, runID string, stepOrder int) ([]domain.StepExecution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.StepExecution
	for _, e := range s.db.execs {
		if e.RunID == runID && e.StepOrder == stepOrder {
			e.Logs = append([]domain.StepLog(nil), s.db.logs[e.ID]...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

// fakeGateway lets each test script the agent behavior per call.
type fakeGateway struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, endpoint string, req agentgw.TriggerRequest) (agentgw.TriggerResult, error)
	calls []agentgw.TriggerRequest
}

func (g *fakeGateway) Trigger(ctx context.Context, endpoint string, req agentgw.TriggerRequest) (agentgw.TriggerResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	fn := g.fn
	g.mu.Unlock()
	if fn == nil {
		return agentgw.TriggerResult{StatusCode: 200, Body: []byte(`{"message":"accepted"}`)}, nil
	}
	return fn(ctx, endpoint, req)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) lastCall() agentgw.TriggerRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}
