package quarantine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Quarantine.MaxBatchFiles = 2
	cfg.Quarantine.MaxFileSize = 1024
	cfg.Quarantine.UploadDir = t.TempDir()
	cfg.Quarantine.HeldDir = t.TempDir()
	cfg.Quarantine.DestinationDir = t.TempDir()

	log := logger.New(logger.Config{Level: "error"})
	return New(cfg, nil, store.New(db), log), mock
}

func TestSubmitScanRejectsBatchTooLarge(t *testing.T) {
	d, _ := newMockDriver(t)
	files := []UploadFile{
		{Filename: "a.txt", Content: []byte("a")},
		{Filename: "b.txt", Content: []byte("b")},
		{Filename: "c.txt", Content: []byte("c")},
	}
	_, err := d.SubmitScan(context.Background(), files, domain.QuarantineSourceUpload, nil)
	if err == nil {
		t.Fatal("expected batch_too_large error")
	}
}

func TestSubmitScanRejectsOversizedFile(t *testing.T) {
	d, _ := newMockDriver(t)
	huge := make([]byte, 2048)
	files := []UploadFile{{Filename: "big.bin", Content: huge}}
	_, err := d.SubmitScan(context.Background(), files, domain.QuarantineSourceUpload, nil)
	if err == nil {
		t.Fatal("expected file_too_large error")
	}
}

func TestReviewRejectsNonHeldFile(t *testing.T) {
	d, mock := newMockDriver(t)

	rows := sqlmock.NewRows([]string{
		"id", "job_id", "original_filename", "file_size", "mime_type", "sha256_hash", "status",
		"current_stage", "risk_severity", "findings_blob", "quarantine_path", "sanitized_path",
		"destination_path", "review_reason", "reviewed_by", "reviewed_at", "created_at", "updated_at",
	}).AddRow("file-1", "job-1", "model.bin", int64(10), nil, nil, domain.QuarantineFileClean,
		nil, domain.SeverityNone, []byte("[]"), nil, nil, nil, nil, nil, nil, time.Now().UTC(), time.Now().UTC())
	mock.ExpectQuery("SELECT (.+) FROM quarantine_files WHERE id = \\$1").WithArgs("file-1").WillReturnRows(rows)

	_, err := d.Review(context.Background(), "file-1", true, "looks fine", "admin")
	if err == nil {
		t.Fatal("expected conflict error reviewing a non-held file")
	}
}

func TestReviewRequiresNonEmptyReason(t *testing.T) {
	d, _ := newMockDriver(t)
	_, err := d.Review(context.Background(), "file-1", true, "", "admin")
	if err == nil {
		t.Fatal("expected invalid_input error for empty reason")
	}
}
