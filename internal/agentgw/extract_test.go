package agentgw

import (
	"reflect"
	"testing"
)

func TestExtractEmbedded(t *testing.T) {
	cases := []struct {
		name string
		body string
		want map[string]any
	}{
		{
			name: "list wrapped json item",
			body: `[{"json": {"artifact": {"title": "Requirements"}}}]`,
			want: map[string]any{"artifact": map[string]any{"title": "Requirements"}},
		},
		{
			name: "list wrapped plain item",
			body: `[{"artifact": {"ok": true}}]`,
			want: map[string]any{"artifact": map[string]any{"ok": true}},
		},
		{
			name: "object with json envelope",
			body: `{"json": {"artifact": {"ok": true}, "justification": "done"}}`,
			want: map[string]any{"artifact": map[string]any{"ok": true}, "justification": "done"},
		},
		{
			name: "artifact key at top level",
			body: `{"artifact": {"sections": ["a", "b"]}}`,
			want: map[string]any{"artifact": map[string]any{"sections": []any{"a", "b"}}},
		},
		{
			name: "acknowledgement body is not an artifact",
			body: `{"message": "accepted"}`,
			want: nil,
		},
		{
			name: "empty list",
			body: `[]`,
			want: nil,
		},
		{
			name: "list of scalars",
			body: `["ok"]`,
			want: nil,
		},
		{
			name: "scalar body",
			body: `"ok"`,
			want: nil,
		},
		{
			name: "invalid json",
			body: `{not json`,
			want: nil,
		},
		{
			name: "empty body",
			body: ``,
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractEmbedded([]byte(tc.body))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ExtractEmbedded(%s)=%v, want %v", tc.body, got, tc.want)
			}
		})
	}
}

func TestUnwrapArtifact(t *testing.T) {
	wrapped := map[string]any{"artifact": map[string]any{"title": "QA"}, "justification": "x"}
	if got := UnwrapArtifact(wrapped); !reflect.DeepEqual(got, map[string]any{"title": "QA"}) {
		t.Fatalf("UnwrapArtifact(wrapped)=%v", got)
	}
	plain := map[string]any{"title": "QA"}
	if got := UnwrapArtifact(plain); !reflect.DeepEqual(got, plain) {
		t.Fatalf("UnwrapArtifact(plain)=%v", got)
	}
}
