package quarantine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

type hashBlacklistFile struct {
	Hashes []string `json:"hashes"`
}

// HashBlacklistStage loads a JSON {"hashes": [...]} document once per scan
// (re-read, not cached, so an admin-installed bundle takes effect on the
// next submission without a restart) and checks the file's SHA-256 against
// it in O(1). Runs last in the fixed stage order: any hit is critical
// regardless of what the earlier stages concluded.
type HashBlacklistStage struct{}

func NewHashBlacklistStage() *HashBlacklistStage { return &HashBlacklistStage{} }

func (s *HashBlacklistStage) Name() string { return domain.StageHashBlacklist }

func (s *HashBlacklistStage) Scan(ctx context.Context, path, originalFilename string, cfg config.QuarantineConfig) (StageResult, error) {
	sum, err := sha256File(path)
	if err != nil {
		return StageResult{}, err
	}

	blacklist, err := loadHashBlacklist(cfg.HashBlacklistPath)
	if err != nil {
		// Missing or unreadable blacklist is not a hold-worthy condition —
		// it means nothing was ever installed, not that this file is bad.
		return StageResult{Passed: true, Findings: []domain.Finding{{
			Stage:    s.Name(),
			Severity: domain.SeverityNone,
			Code:     "unavailable",
			Message:  "hash blacklist not installed",
		}}}, nil
	}

	if _, blocked := blacklist[sum]; blocked {
		return holdResult(domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityCritical,
			Code:     "hash_blacklisted",
			Message:  "file SHA-256 matches the installed hash blacklist",
			Details:  map[string]any{"sha256": sum},
		}), nil
	}
	return passResult(), nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadHashBlacklist(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc hashBlacklistFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(doc.Hashes))
	for _, h := range doc.Hashes {
		set[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return set, nil
}
