// Package content normalizes opaque artifact payloads before persistence.
// The orchestration core treats artifact content as untyped structured data;
// the one cleanup applied here is diagram text hygiene, because workers embed
// mermaid sources wrapped in markdown fences or with escaped newlines.
package content

import "strings"

var mermaidPrefixes = []string{
	"graph ",
	"flowchart",
	"sequenceDiagram",
	"classDiagram",
	"stateDiagram",
	"erDiagram",
	"journey",
	"gantt",
	"pie",
	"mindmap",
	"timeline",
	"quadrantChart",
	"requirementDiagram",
	"gitGraph",
	"C4Context",
	"C4Container",
	"C4Component",
	"C4Dynamic",
	"C4Deployment",
}

// NormalizeArtifact walks the payload and cleans every string value that is
// either hinted as a diagram by its key or looks like mermaid source. All
// other values pass through unchanged.
func NormalizeArtifact(payload any) any {
	switch v := payload.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if s, ok := value.(string); ok {
				keyLower := strings.ToLower(key)
				hinted := strings.Contains(keyLower, "mermaid") || strings.Contains(keyLower, "diagram")
				if hinted || looksLikeMermaid(s) {
					out[key] = NormalizeMermaid(s)
				} else {
					out[key] = s
				}
				continue
			}
			out[key] = NormalizeArtifact(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok && looksLikeMermaid(s) {
				out[i] = NormalizeMermaid(s)
				continue
			}
			out[i] = NormalizeArtifact(item)
		}
		return out
	default:
		return payload
	}
}

// NormalizeMermaid unescapes literal newline sequences, strips a surrounding
// markdown code fence and a leading "mermaid" designator line, and replaces
// tabs with spaces.
func NormalizeMermaid(value string) string {
	text := strings.TrimSpace(value)
	text = strings.ReplaceAll(text, "\\r\\n", "\n")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = strings.TrimSpace(stripCodeFence(text))

	if rest, ok := strings.CutPrefix(strings.ToLower(text), "mermaid\n"); ok {
		text = strings.TrimSpace(text[len(text)-len(rest):])
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.ReplaceAll(strings.TrimRight(line, " \t"), "\t", "    ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	first := strings.ToLower(strings.TrimSpace(lines[0]))
	if first != "```" && first != "```mermaid" {
		return text
	}
	body := lines[1:]
	if len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "```" {
		body = body[:len(body)-1]
	}
	return strings.Join(body, "\n")
}

func looksLikeMermaid(value string) bool {
	text := strings.TrimSpace(value)
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	if strings.HasPrefix(lowered, "mermaid\n") || strings.HasPrefix(lowered, "```mermaid") {
		return true
	}
	for _, prefix := range mermaidPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}
