package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestCreateQuarantineFileMarshalsFindings(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO quarantine_files").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := domain.QuarantineFile{
		JobID:            "job-1",
		OriginalFilename: "model.safetensors",
		FileSize:         2048,
		Status:           domain.QuarantineFilePending,
	}
	f.AddFinding(domain.Finding{Stage: domain.StageYARA, Severity: domain.SeverityHigh, Code: "suspicious_pickle"})

	out, err := s.CreateQuarantineFile(context.Background(), f)
	if err != nil {
		t.Fatalf("create quarantine file: %v", err)
	}
	if out.ID == "" {
		t.Fatal("expected generated id")
	}
	if out.RiskSeverity != domain.SeverityHigh {
		t.Fatalf("expected severity high, got %s", out.RiskSeverity)
	}
}

func TestListQuarantineFilesByStatusScansFindings(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "job_id", "original_filename", "file_size", "mime_type", "sha256_hash",
		"status", "current_stage", "risk_severity", "findings_blob", "quarantine_path", "sanitized_path",
		"destination_path", "review_reason", "reviewed_by", "reviewed_at", "created_at", "updated_at"}
	findingsBlob := `[{"stage":"yara","severity":"high","code":"suspicious_pickle","message":""}]`

	mock.ExpectQuery("SELECT (.+) FROM quarantine_files WHERE status = \\$1").
		WithArgs(domain.QuarantineFileHeld).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("f1", "job-1", "model.safetensors", int64(2048), "application/octet-stream",
			"deadbeef", domain.QuarantineFileHeld, "yara", domain.SeverityHigh, []byte(findingsBlob),
			"/quarantine/f1", nil, nil, nil, nil, nil, time.Now().UTC(), time.Now().UTC()))

	out, err := s.ListQuarantineFilesByStatus(context.Background(), domain.QuarantineFileHeld)
	if err != nil {
		t.Fatalf("list quarantine files: %v", err)
	}
	if len(out) != 1 || len(out[0].Findings) != 1 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out[0].Findings[0].Code != "suspicious_pickle" {
		t.Fatalf("unexpected finding: %+v", out[0].Findings[0])
	}
}

func TestReviewQuarantineFile(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE quarantine_files SET status = \\$2").
		WithArgs("f1", domain.QuarantineFileApproved, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "/models/approved/model.safetensors").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ReviewQuarantineFile(context.Background(), "f1", domain.QuarantineFileApproved, "looks fine", "admin@example.com", "/models/approved/model.safetensors")
	if err != nil {
		t.Fatalf("review quarantine file: %v", err)
	}
}
