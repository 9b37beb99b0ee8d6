package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/httputil"
)

// Principal is the resolved identity of an authenticated caller, carrying
// either a session's user claims or an API key's scope — never both.
type Principal struct {
	Type       string // "session" or "api_key"
	UserID     string
	Role       domain.UserRole
	Name       string
	AuthSource domain.AuthSource
	KeyID      int64
	KeyPrefix  string
	KeyScope   domain.ApiKeyScope
}

// IsAdmin reports whether the principal may call admin-only endpoints.
func (p Principal) IsAdmin() bool {
	if p.Type == "session" {
		return p.Role == domain.RoleAdmin
	}
	return p.KeyScope == domain.ApiKeyScopeAdmin
}

type principalKey struct{}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// PrincipalFromRequest returns the caller resolved by Middleware, for
// handlers that need to know who's calling (audit logging, /vault/auth/me).
func PrincipalFromRequest(r *http.Request) (Principal, bool) {
	return principalFromContext(r.Context())
}

// Authenticate resolves a caller from bearer token or API key, attempted in
// that order per spec §4.7. Returns an error when neither scheme yields a
// valid principal.
func (s *Service) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	if token, ok := bearerToken(r); ok {
		claims, err := s.ValidateToken(token)
		if err != nil {
			return Principal{}, err
		}
		return Principal{
			Type:       "session",
			UserID:     claims.Subject,
			Role:       claims.Role,
			Name:       claims.Name,
			AuthSource: claims.AuthSource,
		}, nil
	}

	if key, ok := apiKeyFromRequest(r); ok {
		rec, err := s.ValidateAPIKey(ctx, key)
		if err != nil {
			return Principal{}, err
		}
		return Principal{
			Type:      "api_key",
			KeyID:     rec.ID,
			KeyPrefix: rec.KeyPrefix,
			KeyScope:  rec.Scope,
		}, nil
	}

	return Principal{}, apierr.Unauthorized("missing credentials")
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), true
	}
	return "", false
}

func apiKeyFromRequest(r *http.Request) (string, bool) {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k, true
	}
	if k := r.URL.Query().Get("api_key"); k != "" {
		return k, true
	}
	return "", false
}

// Middleware authenticates every request, rejecting with 401 on failure,
// and stashes the resolved Principal in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Authenticate(r.Context(), r)
		if err != nil {
			httputil.Unauthorized(w, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin wraps a handler that only an admin session or admin-scoped
// API key may call. Must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			httputil.Forbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthenticateWS resolves a caller for a WebSocket upgrade from its
// query-string token, tried first as a bearer session then as an API
// key — the "same key universe," accepted before the connection is
// accepted, matching spec §4.7.
func (s *Service) AuthenticateWS(ctx context.Context, r *http.Request) (Principal, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return Principal{}, apierr.Unauthorized("missing token")
	}
	if claims, err := s.ValidateToken(token); err == nil {
		return Principal{
			Type:       "session",
			UserID:     claims.Subject,
			Role:       claims.Role,
			Name:       claims.Name,
			AuthSource: claims.AuthSource,
		}, nil
	}
	rec, err := s.ValidateAPIKey(ctx, token)
	if err != nil {
		return Principal{}, apierr.Unauthorized("invalid token")
	}
	return Principal{
		Type:      "api_key",
		KeyID:     rec.ID,
		KeyPrefix: rec.KeyPrefix,
		KeyScope:  rec.Scope,
	}, nil
}
