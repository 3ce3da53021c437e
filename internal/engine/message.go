package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devflow-labs/devflow-go/internal/agentgw"
	"github.com/devflow-labs/devflow-go/internal/domain"
)

const (
	justificationSnippetMax = 500
	sectionKeysMax          = 8
)

// CompletionMessage builds the human-facing summary stored on a
// completed attempt. It prefers the agent's own justification text and
// falls back to naming the artifact's top-level sections.
func CompletionMessage(step domain.PipelineStep, artifact domain.Artifact) string {
	base := fmt.Sprintf("%s completed. Artifact v%d ready for review.", step.Name, artifact.Version)

	if justification, ok := artifact.Content["justification"].(string); ok {
		snippet := strings.Join(strings.Fields(justification), " ")
		if snippet = agentgw.Truncate(snippet, justificationSnippetMax); snippet != "" {
			return base + "\n\n" + snippet
		}
	}

	if section, ok := artifact.Content["artifact"].(map[string]any); ok && len(section) > 0 {
		keys := make([]string, 0, len(section))
		for key := range section {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if len(keys) > sectionKeysMax {
			keys = keys[:sectionKeysMax]
		}
		return base + "\n\nSections: " + strings.Join(keys, ", ") + "."
	}

	return base
}
