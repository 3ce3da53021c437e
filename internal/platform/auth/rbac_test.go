package auth

import (
	"context"
	"net/http"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		roles    []string
		required string
		want     bool
	}{
		{[]string{"viewer"}, RoleViewer, true},
		{[]string{"viewer"}, RoleEditor, false},
		{[]string{"editor"}, RoleViewer, true},
		{[]string{"admin"}, RoleEditor, true},
		{[]string{" Admin "}, RoleEditor, true},
		{[]string{"owner"}, RoleViewer, false},
		{nil, RoleViewer, false},
		{[]string{"admin"}, "superuser", false},
	}
	for _, tc := range cases {
		if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
			t.Errorf("HasAtLeast(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
		}
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/runs/RUN_X", nil)
	if got := RequiredRoleForRequest(req); got != RoleViewer {
		t.Fatalf("RequiredRoleForRequest(GET)=%q, want viewer", got)
	}
	req.Method = http.MethodPost
	if got := RequiredRoleForRequest(req); got != RoleEditor {
		t.Fatalf("RequiredRoleForRequest(POST)=%q, want editor", got)
	}
}

func TestActorOrAnonymous(t *testing.T) {
	if got := ActorOrAnonymous(context.Background()); got != "anonymous" {
		t.Fatalf("ActorOrAnonymous()=%q, want anonymous", got)
	}
	ctx := ContextWithIdentity(context.Background(), Identity{Subject: "alice"})
	if got := ActorOrAnonymous(ctx); got != "alice" {
		t.Fatalf("ActorOrAnonymous()=%q, want alice", got)
	}
	ctx = ContextWithIdentity(context.Background(), Identity{Subject: "   "})
	if got := ActorOrAnonymous(ctx); got != "anonymous" {
		t.Fatalf("blank subject must map to anonymous, got %q", got)
	}
}
