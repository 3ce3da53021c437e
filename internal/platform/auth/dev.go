package auth

import (
	"context"
	"net/http"
)

// DevAuthenticator resolves every request to the identity configured
// through DEVFLOW_DEV_AUTH_*. It exists so the pipeline can be driven
// locally without an identity provider and never rejects a request.
type DevAuthenticator struct {
	subject string
	email   string
	roles   []string
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		subject: cfg.DevSubject,
		email:   cfg.DevEmail,
		roles:   cfg.DevRoles,
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	roles := make([]string, len(a.roles))
	copy(roles, a.roles)
	return Identity{Subject: a.subject, Email: a.email, Roles: roles}, nil
}
