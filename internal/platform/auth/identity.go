package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the caller resolved for a run lifecycle request. Subject
// is the stable principal id; Roles feed the viewer/editor gate.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// Authenticator resolves the identity behind a request. Implementations
// return ErrUnauthenticated when no usable credentials are present.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity so handlers
// and the audit trail can name the actor.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// ActorOrAnonymous names the audit actor for a request context. Requests
// that bypassed authentication (auth disabled, skip-listed paths) are
// recorded as anonymous.
func ActorOrAnonymous(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok && strings.TrimSpace(identity.Subject) != "" {
		return identity.Subject
	}
	return "anonymous"
}
