package auth

import (
	"net/http"
	"strings"
)

// Roles accepted in token claims and DEVFLOW_DEV_AUTH_ROLES. The order
// is strict: a higher role implies every lower one.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

func roleLevel(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// HasAtLeast reports whether any of the roles meets the required level.
// Unknown role names never satisfy anything.
func HasAtLeast(roles []string, required string) bool {
	need := roleLevel(required)
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleLevel(role) >= need {
			return true
		}
	}
	return false
}

// RequiredRoleForRequest maps the request to the role the middleware
// enforces: reads need viewer, run lifecycle mutations need editor.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleEditor
	}
}
