package pipeline

import (
	"reflect"
	"testing"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

func testRun() domain.Run {
	return domain.Run{ID: "RUN_CTX", Domain: "web", Brief: "build a todo app"}
}

func TestBuildContextFirstStepCarriesBrief(t *testing.T) {
	got := BuildContext("requirements", testRun(), nil)
	want := map[string]any{"domain": "web", "brief": "build a todo app"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildContext(requirements)=%v, want %v", got, want)
	}
}

func TestBuildContextOmitsAbsentDependencies(t *testing.T) {
	latest := map[string]map[string]any{
		"requirements": {"title": "Reqs"},
	}
	got := BuildContext("agile", testRun(), latest)
	if _, hasBrief := got["brief"]; hasBrief {
		t.Fatalf("agile context must not carry the brief: %v", got)
	}
	if _, hasInception := got["inception"]; hasInception {
		t.Fatalf("absent dependency must be omitted, not nil: %v", got)
	}
	if !reflect.DeepEqual(got["requirements"], map[string]any{"title": "Reqs"}) {
		t.Fatalf("requirements dependency missing: %v", got)
	}
}

func TestBuildContextQASeesAllDependencies(t *testing.T) {
	latest := map[string]map[string]any{
		"requirements": {"r": 1},
		"inception":    {"i": 1},
		"agile":        {"a": 1},
		"diagrams":     {"d": 1},
		"pseudocode":   {"p": 1},
		"unknown":      {"u": 1},
	}
	got := BuildContext("qa", testRun(), latest)
	if len(got) != 5 {
		t.Fatalf("qa context keys=%d, want 5: %v", len(got), got)
	}
	if _, leaked := got["unknown"]; leaked {
		t.Fatalf("unknown artifact type must not leak into qa context")
	}
}

func TestBuildContextPseudocodeSkipsInception(t *testing.T) {
	latest := map[string]map[string]any{
		"requirements": {"r": 1},
		"inception":    {"i": 1},
		"agile":        {"a": 1},
		"diagrams":     {"d": 1},
	}
	got := BuildContext("pseudocode", testRun(), latest)
	if _, has := got["inception"]; has {
		t.Fatalf("pseudocode must not depend on inception: %v", got)
	}
	for _, dep := range []string{"requirements", "agile", "diagrams"} {
		if _, ok := got[dep]; !ok {
			t.Fatalf("pseudocode missing dependency %s: %v", dep, got)
		}
	}
}

func TestBuildContextUnknownSlugFallback(t *testing.T) {
	latest := map[string]map[string]any{"requirements": {"r": 1}}
	got := BuildContext("mystery", testRun(), latest)
	if got["domain"] != "web" || got["brief"] != "build a todo app" {
		t.Fatalf("fallback context missing run fields: %v", got)
	}
	if !reflect.DeepEqual(got["requirements"], map[string]any{"r": 1}) {
		t.Fatalf("fallback context missing artifacts: %v", got)
	}
}

func TestBuildContextDeterministic(t *testing.T) {
	latest := map[string]map[string]any{
		"requirements": {"r": 1},
		"inception":    {"i": 1},
	}
	first := BuildContext("agile", testRun(), latest)
	second := BuildContext("agile", testRun(), latest)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("context builder must be deterministic: %v vs %v", first, second)
	}
}
