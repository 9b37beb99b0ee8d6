package quarantine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestHashBlacklistStageHoldsOnMatch(t *testing.T) {
	dir := t.TempDir()
	content := []byte("malicious payload")
	filePath := writeTempFile(t, dir, "payload.bin", content)

	sum, err := sha256File(filePath)
	if err != nil {
		t.Fatalf("sha256File: %v", err)
	}
	blacklistPath := writeTempFile(t, dir, "blacklist.json", []byte(`{"hashes":["`+sum+`"]}`))

	cfg := config.QuarantineConfig{HashBlacklistPath: blacklistPath}
	stage := NewHashBlacklistStage()

	result, err := stage.Scan(context.Background(), filePath, "payload.bin", cfg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Passed {
		t.Fatal("expected blacklisted hash to fail the stage")
	}
	if result.Findings[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", result.Findings[0].Severity)
	}
}

func TestHashBlacklistStagePassesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	filePath := writeTempFile(t, dir, "clean.bin", []byte("nothing to see here"))

	cfg := config.QuarantineConfig{HashBlacklistPath: filepath.Join(dir, "does-not-exist.json")}
	stage := NewHashBlacklistStage()

	result, err := stage.Scan(context.Background(), filePath, "clean.bin", cfg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !result.Passed {
		t.Fatal("expected a missing blacklist to pass, not hold")
	}
}

func TestHashBlacklistCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	content := []byte("another payload")
	filePath := writeTempFile(t, dir, "payload2.bin", content)

	sum, _ := sha256File(filePath)
	upper := ""
	for _, c := range sum {
		if c >= 'a' && c <= 'f' {
			upper += string(c - 32)
		} else {
			upper += string(c)
		}
	}
	blacklistPath := writeTempFile(t, dir, "blacklist.json", []byte(`{"hashes":["`+upper+`"]}`))

	cfg := config.QuarantineConfig{HashBlacklistPath: blacklistPath}
	stage := NewHashBlacklistStage()

	result, err := stage.Scan(context.Background(), filePath, "payload2.bin", cfg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Passed {
		t.Fatal("expected an uppercase-hex blacklist hash to still match after lowercasing")
	}
}
