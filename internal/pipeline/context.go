package pipeline

import "github.com/devflow-labs/devflow-go/internal/domain"

// Per-step input dependencies over prior artifact types. Not every step needs
// every previous artifact; the sets below are the contract the workers expect.
var stepDependencies = map[string][]string{
	"requirements": {},
	"inception":    {"requirements"},
	"agile":        {"requirements", "inception"},
	"diagrams":     {"requirements", "inception", "agile"},
	"pseudocode":   {"requirements", "agile", "diagrams"},
	"qa":           {"requirements", "inception", "agile", "diagrams", "pseudocode"},
}

// Steps whose payload carries the run's domain and brief alongside their
// artifact dependencies.
var stepWantsBrief = map[string]bool{
	"requirements": true,
	"inception":    true,
}

// BuildContext composes the exact input payload for a step from the run and
// the latest artifacts by type. It is deterministic and side effect free:
// absent dependencies are omitted, never emitted as nulls. Unknown slugs fall
// back to domain, brief and the full latest-artifact map.
func BuildContext(slug string, run domain.Run, latestByType map[string]map[string]any) map[string]any {
	deps, known := stepDependencies[slug]
	if !known {
		fallback := map[string]any{
			"domain": run.Domain,
			"brief":  run.Brief,
		}
		for artifactType, content := range latestByType {
			fallback[artifactType] = content
		}
		return fallback
	}

	payload := map[string]any{}
	if stepWantsBrief[slug] {
		payload["domain"] = run.Domain
		payload["brief"] = run.Brief
	}
	for _, dep := range deps {
		if content, ok := latestByType[dep]; ok && content != nil {
			payload[dep] = content
		}
	}
	return payload
}
