package updateengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

func newMockEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Update.BundleDir = t.TempDir()
	cfg.Update.BackupDir = t.TempDir()
	cfg.Update.VersionFile = filepath.Join(t.TempDir(), "VERSION")
	cfg.Update.CurrentVersion = "1.0.0"
	cfg.Update.TrustedKeyring = filepath.Join(t.TempDir(), "key.pub")
	cfg.Update.ComponentDirs = map[string]string{"backend": t.TempDir()}

	log := logger.New(logger.Config{Level: "error"})
	return New(cfg, store.New(db), log), mock
}

func TestApplyUpdateRequiresExactConfirmation(t *testing.T) {
	e, _ := newMockEngine(t)
	_, err := e.ApplyUpdate(context.Background(), "/tmp/bundle.tar", "apply update", true, "", "admin")
	if err == nil {
		t.Fatal("expected invalid_input error for wrong confirmation string")
	}
}

func TestRollbackRequiresExactConfirmation(t *testing.T) {
	e, _ := newMockEngine(t)
	_, err := e.Rollback(context.Background(), "rollback", "", "admin")
	if err == nil {
		t.Fatal("expected invalid_input error for wrong confirmation string")
	}
}

func TestApplyUpdateRejectsMissingBundle(t *testing.T) {
	e, _ := newMockEngine(t)
	_, err := e.ApplyUpdate(context.Background(), filepath.Join(t.TempDir(), "missing.tar"), applyConfirmation, true, "", "admin")
	if err == nil {
		t.Fatal("expected error for a bundle that cannot be parsed")
	}
}

func TestScanForUpdatesFindsCandidateBundle(t *testing.T) {
	e, _ := newMockEngine(t)
	path := writeTestBundle(t, e.cfg.Update.BundleDir, "2.0.0", []testFile{{"backend/app.py", []byte("x")}}, nil)
	_ = path

	found, err := e.ScanForUpdates(context.Background())
	if err != nil {
		t.Fatalf("ScanForUpdates: %v", err)
	}
	if len(found) != 1 || found[0].Version != "2.0.0" {
		t.Fatalf("expected to find one v2.0.0 bundle, got %+v", found)
	}
	if found[0].SignatureValid {
		t.Fatal("expected signature_valid=false with no keyring configured")
	}
}

func TestGetPendingReturnsLastScan(t *testing.T) {
	e, _ := newMockEngine(t)
	writeTestBundle(t, e.cfg.Update.BundleDir, "3.0.0", nil, nil)

	if _, err := e.ScanForUpdates(context.Background()); err != nil {
		t.Fatalf("ScanForUpdates: %v", err)
	}
	pending, err := e.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if pending == nil || pending.Version != "3.0.0" {
		t.Fatalf("expected pending bundle 3.0.0, got %+v", pending)
	}
}

func TestGetPendingNilWhenNoScanYet(t *testing.T) {
	e, _ := newMockEngine(t)
	pending, err := e.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if pending != nil {
		t.Fatal("expected nil pending bundle before any scan")
	}
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	liveDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(liveDir, "app.bin"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("seed live dir: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "backup.tar")
	dirs := map[string]string{"backend": liveDir}
	components := map[string]bool{"backend": true}

	if err := writeBackupTar(backupPath, dirs, components); err != nil {
		t.Fatalf("writeBackupTar: %v", err)
	}

	if err := os.WriteFile(filepath.Join(liveDir, "app.bin"), []byte("v2-corrupted"), 0o644); err != nil {
		t.Fatalf("mutate live dir: %v", err)
	}

	if err := restoreBackupTar(backupPath, dirs, components); err != nil {
		t.Fatalf("restoreBackupTar: %v", err)
	}

	restored, err := os.ReadFile(filepath.Join(liveDir, "app.bin"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(restored) != "v1" {
		t.Fatalf("expected restored content v1, got %q", restored)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "plain.tar")
	if err := os.WriteFile(plainPath, []byte("top secret backup bytes"), 0o644); err != nil {
		t.Fatalf("write plain: %v", err)
	}

	encPath := filepath.Join(dir, "plain.tar.gpg")
	if err := encryptFile(plainPath, encPath, "correct-horse-battery-staple"); err != nil {
		t.Fatalf("encryptFile: %v", err)
	}

	decPath := filepath.Join(dir, "decrypted.tar")
	if err := decryptFile(encPath, decPath, "correct-horse-battery-staple"); err != nil {
		t.Fatalf("decryptFile: %v", err)
	}

	got, err := os.ReadFile(decPath)
	if err != nil {
		t.Fatalf("read decrypted: %v", err)
	}
	if string(got) != "top secret backup bytes" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}
