package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "Ada", "ada@example.com", domain.RoleUser, domain.UserActive,
			domain.AuthSourceLocal, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := s.CreateUser(context.Background(), domain.User{
		Name: "Ada", Email: "ada@example.com", Role: domain.RoleUser,
		Status: domain.UserActive, AuthSource: domain.AuthSourceLocal,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "name", "email", "role", "status", "auth_source", "credential_hash", "directory_dn", "created_at", "last_active_at"}
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	_, err := s.GetUser(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing row")
	}
}

func TestGetUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	cols := []string{"id", "name", "email", "role", "status", "auth_source", "credential_hash", "directory_dn", "created_at", "last_active_at"}
	mock.ExpectQuery("SELECT (.+) FROM users WHERE email = \\$1").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "Ada", "ada@example.com", domain.RoleAdmin,
			domain.UserActive, domain.AuthSourceLocal, "hash", nil, now, nil))

	u, err := s.GetUserByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if u.ID != "u1" || u.Role != domain.RoleAdmin {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestTouchLastActive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET last_active_at").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.TouchLastActive(context.Background(), "u1"); err != nil {
		t.Fatalf("touch last active: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
