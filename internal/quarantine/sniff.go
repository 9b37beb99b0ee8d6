package quarantine

import (
	"context"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

// blockedMimePrefixes are executable/script content types that have no
// business in a model or dataset upload; their presence alone is enough to
// hold the file regardless of what the AV/rule stages later say.
var blockedMimePrefixes = []string{
	"application/x-executable",
	"application/x-dosexec",
	"application/x-mach-binary",
	"application/x-sharedlib",
	"application/x-elf",
}

// SniffStage performs the first pipeline stage: a size recheck (defense in
// depth against the submission-time cap being bypassed by a later write)
// and a magic-byte MIME sniff, rejecting binaries that have no place in a
// model/dataset upload.
type SniffStage struct{}

func NewSniffStage() *SniffStage { return &SniffStage{} }

func (s *SniffStage) Name() string { return domain.StageSniff }

func (s *SniffStage) Scan(ctx context.Context, path, originalFilename string, cfg config.QuarantineConfig) (StageResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return StageResult{}, err
	}
	if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
		return holdResult(domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityHigh,
			Code:     "file_too_large",
			Message:  "file exceeds the configured maximum size",
			Details:  map[string]any{"size": info.Size(), "max": cfg.MaxFileSize},
		}), nil
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return holdResult(domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityMedium,
			Code:     "mime_detect_failed",
			Message:  err.Error(),
		}), nil
	}

	for _, blocked := range blockedMimePrefixes {
		if mtype.Is(blocked) {
			return holdResult(domain.Finding{
				Stage:    s.Name(),
				Severity: domain.SeverityCritical,
				Code:     "disallowed_executable",
				Message:  "file content is an executable binary, not a model/dataset artifact",
				Details:  map[string]any{"mime_type": mtype.String(), "filename": originalFilename},
			}), nil
		}
	}

	return passResult(), nil
}

// DetectMIME exposes the sniff's MIME detection for callers that only need
// the type, not the full stage contract (the driver uses this to populate
// QuarantineFile.MimeType once up front).
func DetectMIME(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mtype.String(), nil
}
