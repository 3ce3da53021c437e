package agentgw

import "encoding/json"

// ExtractEmbedded pulls an artifact document out of a trigger response
// body when the agent returned it inline instead of through the
// callback. Workflow runners wrap responses in shapes like
// [{"json": {...}}] or {"json": {...}}; the document itself is only
// accepted when it carries an "artifact" key, so plain acknowledgement
// bodies are never mistaken for results. The wrapper document is
// returned as stored; unwrapping the inner artifact is the reader's
// concern.
func ExtractEmbedded(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil
	}
	return ExtractEmbeddedValue(decoded)
}

// ExtractEmbeddedValue is ExtractEmbedded for already-decoded JSON.
func ExtractEmbeddedValue(v any) map[string]any {
	doc, ok := v.(map[string]any)
	if list, isList := v.([]any); isList {
		if len(list) == 0 {
			return nil
		}
		first, isMap := list[0].(map[string]any)
		if !isMap {
			return nil
		}
		if inner, hasJSON := first["json"].(map[string]any); hasJSON {
			doc, ok = inner, true
		} else {
			doc, ok = first, true
		}
	}
	if !ok {
		return nil
	}

	if _, has := doc["artifact"]; has {
		return doc
	}
	if nested, isMap := doc["json"].(map[string]any); isMap {
		if _, has := nested["artifact"]; has {
			return nested
		}
	}
	return nil
}

// UnwrapArtifact returns the inner artifact document when content uses
// the {"artifact": {...}} envelope, and content itself otherwise.
func UnwrapArtifact(content map[string]any) any {
	if inner, ok := content["artifact"]; ok {
		return inner
	}
	return content
}
