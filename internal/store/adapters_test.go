package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestActivateAdapterDeactivatesIncumbent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT name FROM adapters WHERE id = \\$1").
		WithArgs("new-adapter").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("llama-lora"))
	mock.ExpectExec("UPDATE adapters SET status = \\$2 WHERE name = \\$1 AND status = \\$3").
		WithArgs("llama-lora", domain.AdapterStatusReady, domain.AdapterStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE adapters SET status = \\$2, activated_at = \\$3 WHERE id = \\$1").
		WithArgs("new-adapter", domain.AdapterStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.ActivateAdapter(context.Background(), "new-adapter"); err != nil {
		t.Fatalf("activate adapter: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeactivateAdapter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE adapters SET status = \\$2, activated_at = NULL WHERE id = \\$1").
		WithArgs("adapter-1", domain.AdapterStatusReady).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeactivateAdapter(context.Background(), "adapter-1"); err != nil {
		t.Fatalf("deactivate adapter: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeactivateAdapterMissingReturnsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE adapters SET status = \\$2, activated_at = NULL WHERE id = \\$1").
		WithArgs("missing", domain.AdapterStatusReady).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeactivateAdapter(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestActivateAdapterMissingRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT name FROM adapters WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.ActivateAdapter(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateAdapter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO adapters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	a, err := s.CreateAdapter(context.Background(), domain.Adapter{
		Name: "llama-lora", BaseModel: "llama-3-8b", AdapterType: domain.AdapterLoRA,
		Status: domain.AdapterStatusReady, Path: "/models/adapters/llama-lora",
	})
	if err != nil {
		t.Fatalf("create adapter: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestListAdaptersScansActivatedAt(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	cols := []string{"id", "name", "base_model", "adapter_type", "status", "path", "training_job_id",
		"config_blob", "metrics_blob", "size_bytes", "version", "created_at", "activated_at"}
	mock.ExpectQuery("SELECT (.+) FROM adapters ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "llama-lora", "llama-3-8b", domain.AdapterLoRA,
			domain.AdapterStatusActive, "/models/adapters/llama-lora", nil, []byte(`{}`), []byte(`{}`), 1024, 1, now, now))

	out, err := s.ListAdapters(context.Background())
	if err != nil {
		t.Fatalf("list adapters: %v", err)
	}
	if len(out) != 1 || !out[0].IsActive() {
		t.Fatalf("unexpected result: %+v", out)
	}
}
