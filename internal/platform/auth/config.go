// Package auth guards the run lifecycle API. Three modes: disabled (no
// checks), dev (static identity) and oidc (bearer token or session cookie
// verified against a configured issuer).
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devflow-labs/devflow-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Config struct {
	Mode Mode

	// EnforceRoles applies viewer/editor gating on top of
	// authentication.
	EnforceRoles bool

	RolesClaim string
	EmailClaim string

	SessionCookieName     string
	SessionCookieSecure   bool
	SessionCookieMaxAge   time.Duration
	SessionCookieSameSite string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCScopes       []string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("DEVFLOW_AUTH_MODE", string(ModeDisabled))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("DEVFLOW_AUTH_MODE must be one of: oidc, dev, disabled (got %q)", modeRaw)
	}

	cookieSecure, err := env.Bool("DEVFLOW_AUTH_COOKIE_SECURE", true)
	if err != nil {
		return Config{}, err
	}
	maxAgeSeconds, err := env.Int("DEVFLOW_AUTH_SESSION_MAX_AGE_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	enforceRoles, err := env.Bool("DEVFLOW_AUTH_ENFORCE_ROLES", true)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                  mode,
		EnforceRoles:          enforceRoles,
		RolesClaim:            env.String("DEVFLOW_AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:            env.String("DEVFLOW_AUTH_EMAIL_CLAIM", "email"),
		SessionCookieName:     env.String("DEVFLOW_AUTH_COOKIE_NAME", "devflow_session"),
		SessionCookieSecure:   cookieSecure,
		SessionCookieMaxAge:   time.Duration(maxAgeSeconds) * time.Second,
		SessionCookieSameSite: env.String("DEVFLOW_AUTH_COOKIE_SAMESITE", "Lax"),
		OIDCIssuerURL:         env.String("DEVFLOW_OIDC_ISSUER_URL", ""),
		OIDCClientID:          env.String("DEVFLOW_OIDC_CLIENT_ID", ""),
		OIDCClientSecret:      env.String("DEVFLOW_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:       env.String("DEVFLOW_OIDC_REDIRECT_URL", ""),
		OIDCScopes:            splitList(env.String("DEVFLOW_OIDC_SCOPES", "openid profile email"), " "),
		DevSubject:            env.String("DEVFLOW_DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:              env.String("DEVFLOW_DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:              splitList(env.String("DEVFLOW_DEV_AUTH_ROLES", "admin"), ","),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDisabled:
		return nil
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEVFLOW_DEV_AUTH_SUBJECT is required in dev mode")
		}
		return nil
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("DEVFLOW_OIDC_ISSUER_URL is required in oidc mode")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("DEVFLOW_OIDC_CLIENT_ID is required in oidc mode")
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
}

func (c Config) ValidateForLogin() error {
	if c.Mode != ModeOIDC {
		return fmt.Errorf("login requires DEVFLOW_AUTH_MODE=oidc (got %q)", c.Mode)
	}
	if strings.TrimSpace(c.OIDCRedirectURL) == "" {
		return errors.New("DEVFLOW_OIDC_REDIRECT_URL is required for login")
	}
	return nil
}

func splitList(raw, sep string) []string {
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
