package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestAppendAuditLog(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO audit_log_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	e, err := s.AppendAuditLog(context.Background(), domain.AuditLogEntry{
		Action: "inference.completion", Method: "POST", Path: "/v1/completions", UserKeyPrefix: "sk-abcd",
	})
	if err != nil {
		t.Fatalf("append audit log: %v", err)
	}
	if e.ID != 1 {
		t.Fatalf("expected generated id, got %d", e.ID)
	}
}

func TestListAuditLogFiltersByAction(t *testing.T) {
	s, mock := newMockStore(t)

	since := time.Now().Add(-time.Hour)
	until := time.Now()
	cols := []string{"id", "timestamp", "action", "method", "path", "user_key_prefix", "model",
		"status_code", "latency_ms", "tokens_input", "tokens_output", "details"}

	mock.ExpectQuery("SELECT (.+) FROM audit_log_entries WHERE timestamp >= \\$1 AND timestamp < \\$2 AND action = \\$3").
		WithArgs(since, until, "inference.completion", 0, 50).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), time.Now(), "inference.completion", "POST",
			"/v1/completions", "sk-abcd", "llama-3-8b", nil, nil, nil, nil, nil))

	out, err := s.ListAuditLog(context.Background(), since, until, "inference.completion", 0, 50)
	if err != nil {
		t.Fatalf("list audit log: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
}

func TestPurgeAuditLogReturnsRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec("DELETE FROM audit_log_entries WHERE timestamp < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.PurgeAuditLog(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("purge audit log: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42 rows purged, got %d", n)
	}
}
