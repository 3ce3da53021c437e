package engine

import (
	"strings"
	"testing"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

func TestCompletionMessagePrefersJustification(t *testing.T) {
	step := domain.PipelineStep{Slug: "requirements", Name: "Requirements Agent", Order: 1}
	artifact := domain.Artifact{
		Version: 3,
		Content: map[string]any{
			"artifact":      map[string]any{"scope": "mvp"},
			"justification": "Scoped to the\nessential flows only.",
		},
	}
	got := CompletionMessage(step, artifact)
	if !strings.HasPrefix(got, "Requirements Agent completed. Artifact v3 ready for review.") {
		t.Fatalf("message=%q", got)
	}
	if !strings.Contains(got, "Scoped to the essential flows only.") {
		t.Fatalf("justification newlines not flattened: %q", got)
	}
}

func TestCompletionMessageTruncatesJustification(t *testing.T) {
	step := domain.PipelineStep{Slug: "qa", Name: "QA Agent", Order: 6}
	artifact := domain.Artifact{
		Version: 1,
		Content: map[string]any{"justification": strings.Repeat("a", 600)},
	}
	got := CompletionMessage(step, artifact)
	if len(got) > 600 {
		t.Fatalf("message not truncated: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated message missing ellipsis: %q", got)
	}
}

func TestCompletionMessageFallsBackToSections(t *testing.T) {
	step := domain.PipelineStep{Slug: "agile", Name: "Agile Agent", Order: 3}
	artifact := domain.Artifact{
		Version: 2,
		Content: map[string]any{
			"artifact": map[string]any{"epics": []any{}, "stories": []any{}},
		},
	}
	got := CompletionMessage(step, artifact)
	if !strings.Contains(got, "Sections: epics, stories.") {
		t.Fatalf("message=%q", got)
	}
}

func TestCompletionMessageBareContent(t *testing.T) {
	step := domain.PipelineStep{Slug: "diagrams", Name: "Diagrams Agent", Order: 4}
	got := CompletionMessage(step, domain.Artifact{Version: 1, Content: map[string]any{"flow": "graph TD"}})
	if got != "Diagrams Agent completed. Artifact v1 ready for review." {
		t.Fatalf("message=%q", got)
	}
}
