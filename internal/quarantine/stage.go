// Package quarantine implements the multi-stage scan pipeline every
// uploaded model, dataset or adapter walks through before it is trusted:
// a magic-byte sniff, antivirus scan, YARA rule match, content-policy
// check, sanitize pass and hash-blacklist lookup, in that fixed order.
package quarantine

import (
	"context"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

// StageResult is one stage's verdict on a file. A stage that fails (Passed
// == false) stops the pipeline for that file; the driver holds it with the
// findings accumulated so far.
type StageResult struct {
	Passed        bool
	Findings      []domain.Finding
	SanitizedPath string
}

// Stage is one step of the fixed pipeline DAG. Implementations must be safe
// to call from a worker goroutine and must not mutate the file at path
// except sanitize, which writes a separate sanitized copy and returns its
// path.
type Stage interface {
	Name() string
	Scan(ctx context.Context, path, originalFilename string, cfg config.QuarantineConfig) (StageResult, error)
}

func passResult() StageResult {
	return StageResult{Passed: true}
}

func holdResult(findings ...domain.Finding) StageResult {
	return StageResult{Passed: false, Findings: findings}
}
