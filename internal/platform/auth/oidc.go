package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

type OIDCService struct {
	cfg          Config
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

func NewOIDCService(ctx context.Context, cfg Config) (*OIDCService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &OIDCService{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		},
	}, nil
}

// Authenticate accepts a bearer token or the session cookie set by the
// callback handler.
func (s *OIDCService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		rawToken = tokenFromCookie(r, s.cfg.SessionCookieName)
	}
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}

	subject, _ := claims["sub"].(string)
	return Identity{
		Subject: subject,
		Email:   stringClaim(claims, s.cfg.EmailClaim),
		Roles:   rolesClaim(claims, s.cfg.RolesClaim),
	}, nil
}

// LoginHandler starts the authorization-code flow, pinning state and
// return-to in short-lived cookies.
func (s *OIDCService) LoginHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		state, err := randomToken()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		returnTo := safeReturnTo(r.URL.Query().Get("return_to"))
		s.setShortCookie(w, "devflow_oidc_state", state)
		s.setShortCookie(w, "devflow_return_to", returnTo)

		http.Redirect(w, r, s.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOnline), http.StatusFound)
	}, nil
}

// CallbackHandler exchanges the code, verifies the resulting id token and
// moves it into the session cookie.
func (s *OIDCService) CallbackHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		stateCookie, err := r.Cookie("devflow_oidc_state")
		if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		token, err := s.oauth2Config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "code exchange failed", http.StatusUnauthorized)
			return
		}
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			http.Error(w, "missing id token", http.StatusUnauthorized)
			return
		}
		if _, err := s.verifier.Verify(r.Context(), rawIDToken); err != nil {
			http.Error(w, "invalid id token", http.StatusUnauthorized)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     s.cfg.SessionCookieName,
			Value:    rawIDToken,
			Path:     "/",
			MaxAge:   int(s.cfg.SessionCookieMaxAge.Seconds()),
			HttpOnly: true,
			Secure:   s.cfg.SessionCookieSecure,
			SameSite: sameSiteFromConfig(s.cfg.SessionCookieSameSite),
		})

		returnTo := "/"
		if c, err := r.Cookie("devflow_return_to"); err == nil {
			returnTo = safeReturnTo(c.Value)
		}
		s.clearShortCookie(w, "devflow_oidc_state")
		s.clearShortCookie(w, "devflow_return_to")
		http.Redirect(w, r, returnTo, http.StatusFound)
	}, nil
}

func (s *OIDCService) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: sameSiteFromConfig(s.cfg.SessionCookieSameSite),
	})
}

func (s *OIDCService) clearShortCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: sameSiteFromConfig(s.cfg.SessionCookieSameSite),
	})
}

func tokenFromHeader(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func tokenFromCookie(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func stringClaim(claims map[string]any, key string) string {
	if key == "" {
		return ""
	}
	v, _ := claims[key].(string)
	return v
}

func rolesClaim(claims map[string]any, key string) []string {
	if key == "" {
		return nil
	}
	switch v := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return splitList(v, ",")
	default:
		return nil
	}
}

// safeReturnTo only allows same-origin relative paths.
func safeReturnTo(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	if _, err := url.Parse(raw); err != nil {
		return "/"
	}
	return raw
}

func sameSiteFromConfig(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
