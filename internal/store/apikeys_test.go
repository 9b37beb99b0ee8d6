package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestCreateApiKeyReturningID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	k, err := s.CreateApiKey(context.Background(), domain.ApiKey{
		KeyHash: "hash", KeyPrefix: "sk-ab", Label: "ci-runner", Scope: domain.ApiKeyScopeUser, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if k.ID != 7 {
		t.Fatalf("expected generated id 7, got %d", k.ID)
	}
}

func TestRevokeApiKeyNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE api_keys SET is_active = false WHERE id = \\$1").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RevokeApiKey(context.Background(), 99)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
