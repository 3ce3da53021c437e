package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

func TestDefaultDefinition(t *testing.T) {
	def := Default()
	if def.Len() != 6 {
		t.Fatalf("Len()=%d, want 6", def.Len())
	}
	if def.First().Slug != "requirements" {
		t.Fatalf("First()=%q, want requirements", def.First().Slug)
	}
	last := def.Steps()[def.Len()-1]
	if last.Slug != "qa" || last.Order != 6 {
		t.Fatalf("last step=%+v", last)
	}
	if _, ok := def.Next(6); ok {
		t.Fatalf("Next(6) must report no successor")
	}
	next, ok := def.Next(2)
	if !ok || next.Slug != "agile" {
		t.Fatalf("Next(2)=%+v ok=%v", next, ok)
	}
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	base := func() []domain.PipelineStep {
		return []domain.PipelineStep{
			{Slug: "a", Name: "A", Order: 1, Endpoint: "http://x/a", ArtifactType: "a_doc"},
			{Slug: "b", Name: "B", Order: 2, Endpoint: "http://x/b", ArtifactType: "b_doc"},
		}
	}

	cases := []struct {
		name   string
		mutate func([]domain.PipelineStep) []domain.PipelineStep
	}{
		{"empty", func(s []domain.PipelineStep) []domain.PipelineStep { return nil }},
		{"duplicate slug", func(s []domain.PipelineStep) []domain.PipelineStep {
			s[1].Slug = "a"
			return s
		}},
		{"duplicate artifact type", func(s []domain.PipelineStep) []domain.PipelineStep {
			s[1].ArtifactType = "a_doc"
			return s
		}},
		{"order gap", func(s []domain.PipelineStep) []domain.PipelineStep {
			s[1].Order = 3
			return s
		}},
		{"duplicate order", func(s []domain.PipelineStep) []domain.PipelineStep {
			s[1].Order = 1
			return s
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.mutate(base())); err == nil {
				t.Fatalf("New() expected error")
			}
		})
	}
}

func TestLookups(t *testing.T) {
	def := Default()
	if step, ok := def.BySlug("diagrams"); !ok || step.Order != 4 {
		t.Fatalf("BySlug(diagrams)=%+v ok=%v", step, ok)
	}
	if _, ok := def.BySlug("nope"); ok {
		t.Fatalf("BySlug(nope) must miss")
	}
	if step, ok := def.ByOrder(5); !ok || step.Slug != "pseudocode" {
		t.Fatalf("ByOrder(5)=%+v ok=%v", step, ok)
	}
	if step, ok := def.ByArtifactType("qa"); !ok || step.Slug != "qa" {
		t.Fatalf("ByArtifactType(qa)=%+v ok=%v", step, ok)
	}
}

func TestParseYAML(t *testing.T) {
	raw := []byte(`
steps:
  - slug: draft
    name: Draft Agent
    order: 1
    endpoint: http://agents.test/draft
    artifact_type: draft_doc
  - slug: review
    name: Review Agent
    order: 2
    endpoint: http://agents.test/review
    artifact_type: review_doc
`)
	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if def.Len() != 2 || def.First().Slug != "draft" {
		t.Fatalf("parsed definition: %+v", def.Steps())
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("steps: [unclosed")); err == nil {
		t.Fatalf("Parse() expected error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	raw := "steps:\n  - slug: solo\n    name: Solo\n    order: 1\n    endpoint: http://x/solo\n    artifact_type: solo_doc\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	if def.Len() != 1 || def.First().Slug != "solo" {
		t.Fatalf("loaded definition: %+v", def.Steps())
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read pipeline file") {
		t.Fatalf("LoadFile(missing) err=%v", err)
	}
}
