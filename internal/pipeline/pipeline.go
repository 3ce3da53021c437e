// Package pipeline holds the static step definition of the agent pipeline and
// the pure context builder that composes each step's input payload. The
// definition is read-only after startup; per-run mutable state lives on the
// Run entity.
package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

// Default six-step pipeline, mirroring the agent chain the workers implement.
var defaultSteps = []domain.PipelineStep{
	{
		Slug:         "requirements",
		Name:         "Requirements Agent",
		Order:        1,
		Endpoint:     "http://localhost:5678/webhook/brief-to-requirements",
		ArtifactType: "requirements",
	},
	{
		Slug:         "inception",
		Name:         "Inception Agent",
		Order:        2,
		Endpoint:     "http://localhost:5678/webhook/inception",
		ArtifactType: "inception",
	},
	{
		Slug:         "agile",
		Name:         "Agile Agent",
		Order:        3,
		Endpoint:     "http://localhost:5678/webhook/agile",
		ArtifactType: "agile",
	},
	{
		Slug:         "diagrams",
		Name:         "Diagrams Agent",
		Order:        4,
		Endpoint:     "http://localhost:5678/webhook/diagrams",
		ArtifactType: "diagrams",
	},
	{
		Slug:         "pseudocode",
		Name:         "Pseudocode Agent",
		Order:        5,
		Endpoint:     "http://localhost:5678/webhook/pseudocode",
		ArtifactType: "pseudocode",
	},
	{
		Slug:         "qa",
		Name:         "QA Agent",
		Order:        6,
		Endpoint:     "http://localhost:5678/webhook/qa",
		ArtifactType: "qa",
	},
}

// Definition is the immutable ordered step list.
type Definition struct {
	steps   []domain.PipelineStep
	bySlug  map[string]domain.PipelineStep
	byOrder map[int]domain.PipelineStep
}

// Default returns the compiled-in pipeline definition.
func Default() *Definition {
	def, err := New(defaultSteps)
	if err != nil {
		panic(fmt.Sprintf("default pipeline invalid: %v", err))
	}
	return def
}

// New validates the step list (unique slugs, gap-free 1..N order, unique
// artifact types) and freezes it into a Definition.
func New(steps []domain.PipelineStep) (*Definition, error) {
	if len(steps) == 0 {
		return nil, errors.New("at least one step is required")
	}

	ordered := make([]domain.PipelineStep, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	bySlug := make(map[string]domain.PipelineStep, len(ordered))
	byOrder := make(map[int]domain.PipelineStep, len(ordered))
	byType := make(map[string]string, len(ordered))
	for i, step := range ordered {
		if err := step.Validate(); err != nil {
			return nil, err
		}
		if step.Order != i+1 {
			return nil, fmt.Errorf("step orders must be 1..%d without gaps (got %d at position %d)", len(ordered), step.Order, i+1)
		}
		if _, dup := bySlug[step.Slug]; dup {
			return nil, fmt.Errorf("duplicate step slug %q", step.Slug)
		}
		if owner, dup := byType[step.ArtifactType]; dup {
			return nil, fmt.Errorf("artifact type %q produced by both %q and %q", step.ArtifactType, owner, step.Slug)
		}
		bySlug[step.Slug] = step
		byOrder[step.Order] = step
		byType[step.ArtifactType] = step.Slug
	}

	return &Definition{steps: ordered, bySlug: bySlug, byOrder: byOrder}, nil
}

// Steps returns a copy of the ordered step list.
func (d *Definition) Steps() []domain.PipelineStep {
	out := make([]domain.PipelineStep, len(d.steps))
	copy(out, d.steps)
	return out
}

func (d *Definition) Len() int {
	return len(d.steps)
}

func (d *Definition) First() domain.PipelineStep {
	return d.steps[0]
}

func (d *Definition) BySlug(slug string) (domain.PipelineStep, bool) {
	step, ok := d.bySlug[slug]
	return step, ok
}

func (d *Definition) ByOrder(order int) (domain.PipelineStep, bool) {
	step, ok := d.byOrder[order]
	return step, ok
}

// ByArtifactType resolves the step producing the given artifact type.
func (d *Definition) ByArtifactType(artifactType string) (domain.PipelineStep, bool) {
	for _, step := range d.steps {
		if step.ArtifactType == artifactType {
			return step, true
		}
	}
	return domain.PipelineStep{}, false
}

// Next returns the step with the smallest order strictly greater than the
// given order, or false when the pipeline is exhausted.
func (d *Definition) Next(order int) (domain.PipelineStep, bool) {
	for _, step := range d.steps {
		if step.Order > order {
			return step, true
		}
	}
	return domain.PipelineStep{}, false
}
