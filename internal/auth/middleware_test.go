package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	s, _ := newTestService(t)
	token, _, err := s.tokens.Issue(domain.User{ID: "u1", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var gotAdmin bool
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromRequest(r)
		gotAdmin = p.IsAdmin()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/vault/system/resources", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !gotAdmin {
		t.Fatal("expected admin principal resolved from token")
	}
}

func TestMiddlewareFallsBackToAPIKey(t *testing.T) {
	s, mock := newTestService(t)
	now := time.Now().UTC()
	raw, hash, prefix, _ := GenerateAPIKeyRaw()

	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_hash = \\$1").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"id", "key_hash", "key_prefix", "label", "scope",
			"is_active", "user_id", "created_at", "last_used_at", "notes"}).
			AddRow(int64(1), hash, prefix, "ci", domain.ApiKeyScopeUser, true, nil, now, nil, ""))
	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/vault/system/resources", nil)
	req.Header.Set("X-API-Key", raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	s, _ := newTestService(t)
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/vault/system/resources", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	s, _ := newTestService(t)
	token, _, _ := s.tokens.Issue(domain.User{ID: "u1", Role: domain.RoleUser})

	handler := s.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("admin handler should not run for non-admin")
	})))

	req := httptest.NewRequest(http.MethodPost, "/vault/system/services/caddy/restart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAuthenticateWSTriesSessionThenAPIKey(t *testing.T) {
	s, mock := newTestService(t)
	token, _, _ := s.tokens.Issue(domain.User{ID: "u1", Role: domain.RoleAdmin})

	p, err := s.AuthenticateWS(context.Background(), httptest.NewRequest(http.MethodGet, "/ws/system?token="+token, nil))
	if err != nil {
		t.Fatalf("authenticate ws: %v", err)
	}
	if p.UserID != "u1" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	raw, hash, prefix, _ := GenerateAPIKeyRaw()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_hash = \\$1").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"id", "key_hash", "key_prefix", "label", "scope",
			"is_active", "user_id", "created_at", "last_used_at", "notes"}).
			AddRow(int64(3), hash, prefix, "ci", domain.ApiKeyScopeAdmin, true, nil, now, nil, ""))
	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WithArgs(int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p2, err := s.AuthenticateWS(context.Background(), httptest.NewRequest(http.MethodGet, "/ws/logs?token="+raw, nil))
	if err != nil {
		t.Fatalf("authenticate ws by key: %v", err)
	}
	if p2.KeyID != 3 || !p2.IsAdmin() {
		t.Fatalf("unexpected principal: %+v", p2)
	}
}
