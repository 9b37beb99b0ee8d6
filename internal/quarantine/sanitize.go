package quarantine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

// SanitizeStage is the fifth pipeline stage: it writes a normalized copy of
// the file (stripped of NUL padding and C0 control bytes other than tab,
// newline and carriage return) next to the original. Multi-byte characters
// such as zero-width spaces are left as they are. The sanitized copy, not
// the original, is what a later approve copies to its destination.
type SanitizeStage struct{}

func NewSanitizeStage() *SanitizeStage { return &SanitizeStage{} }

func (s *SanitizeStage) Name() string { return domain.StageSanitize }

func (s *SanitizeStage) Scan(ctx context.Context, path, originalFilename string, cfg config.QuarantineConfig) (StageResult, error) {
	src, err := os.Open(path)
	if err != nil {
		return StageResult{}, err
	}
	defer src.Close()

	sanitizedPath := path + ".sanitized"
	dst, err := os.OpenFile(sanitizedPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return StageResult{}, err
	}
	defer dst.Close()

	stripped, err := stripControlBytes(src, dst)
	if err != nil {
		os.Remove(sanitizedPath)
		return StageResult{}, err
	}

	result := StageResult{Passed: true, SanitizedPath: sanitizedPath}
	if stripped > 0 {
		result.Findings = []domain.Finding{{
			Stage:    s.Name(),
			Severity: domain.SeverityNone,
			Code:     "bytes_stripped",
			Message:  "sanitization removed embedded control characters",
			Details:  map[string]any{"bytes_removed": stripped, "filename": filepath.Base(originalFilename)},
		}}
	}
	return result, nil
}

// stripControlBytes copies src to dst, dropping NUL bytes and C0 control
// characters other than \t, \n and \r, and returns how many bytes were
// removed.
func stripControlBytes(src io.Reader, dst io.Writer) (int64, error) {
	buf := make([]byte, 64*1024)
	var removed int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			clean := buf[:0:n]
			for _, b := range buf[:n] {
				if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
					removed++
					continue
				}
				clean = append(clean, b)
			}
			if _, werr := dst.Write(clean); werr != nil {
				return removed, werr
			}
		}
		if err == io.EOF {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
	}
}
