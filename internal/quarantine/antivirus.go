package quarantine

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"strings"
	"time"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

const (
	clamavChunkSize   = 1024 * 1024
	clamavDialTimeout = 2 * time.Second
	clamavIOTimeout   = 30 * time.Second
)

// ClamAVClient speaks clamd's INSTREAM protocol over a Unix domain socket:
// a command header, then repeated (4-byte big-endian length, chunk) pairs
// terminated by a zero-length chunk, with the response read until a null
// terminator. A failure to connect or to send the data is a soft
// "unavailable", never an error — a down AV daemon must not become a silent
// hard-fail for every upload. A response that cannot be read or parsed is
// an "error" result.
type ClamAVClient struct {
	socketPath string
}

func NewClamAVClient(socketPath string) *ClamAVClient {
	return &ClamAVClient{socketPath: socketPath}
}

// AVStatus is the outcome of one scan_bytes/scan_file call.
type AVStatus string

const (
	AVClean       AVStatus = "clean"
	AVInfected    AVStatus = "infected"
	AVUnavailable AVStatus = "unavailable"
	AVError       AVStatus = "error"
)

type AVResult struct {
	Status  AVStatus
	Threat  string
	Message string
}

// IsAvailable pings the daemon with zPING\0 and expects a PONG reply.
func (c *ClamAVClient) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, clamavDialTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(clamavDialTimeout))

	if _, err := conn.Write([]byte("zPING\000")); err != nil {
		return false
	}
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.Trim(string(buf[:n]), "\x00")) == "PONG"
}

func (c *ClamAVClient) ScanFile(path string) AVResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return AVResult{Status: AVUnavailable, Message: err.Error()}
	}
	return c.ScanBytes(data)
}

func (c *ClamAVClient) ScanBytes(data []byte) AVResult {
	conn, err := net.DialTimeout("unix", c.socketPath, clamavIOTimeout)
	if err != nil {
		return AVResult{Status: AVUnavailable, Message: err.Error()}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(clamavIOTimeout))

	if _, err := conn.Write([]byte("zINSTREAM\000")); err != nil {
		return AVResult{Status: AVUnavailable, Message: err.Error()}
	}

	for offset := 0; offset < len(data); offset += clamavChunkSize {
		end := offset + clamavChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(chunk)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			return AVResult{Status: AVUnavailable, Message: err.Error()}
		}
		if _, err := conn.Write(chunk); err != nil {
			return AVResult{Status: AVUnavailable, Message: err.Error()}
		}
	}
	var zero [4]byte
	if _, err := conn.Write(zero[:]); err != nil {
		return AVResult{Status: AVUnavailable, Message: err.Error()}
	}

	var response bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			response.Write(buf[:n])
		}
		if err != nil || bytes.Contains(buf[:n], []byte{0}) {
			break
		}
	}

	resultText := strings.TrimSpace(strings.Trim(response.String(), "\x00"))
	switch {
	case strings.Contains(resultText, "OK"):
		return AVResult{Status: AVClean}
	case strings.Contains(resultText, "FOUND"):
		threat := "Unknown"
		if parts := strings.SplitN(resultText, ":", 2); len(parts) > 1 {
			threat = strings.TrimSpace(strings.ReplaceAll(parts[1], "FOUND", ""))
		}
		return AVResult{Status: AVInfected, Threat: threat}
	default:
		return AVResult{Status: AVError, Message: resultText}
	}
}

// AntivirusStage wraps ClamAVClient in the Stage contract. An unavailable
// daemon is recorded as an informational finding and the stage passes —
// the spec's "never held on unavailable" rule.
type AntivirusStage struct {
	newClient func(socketPath string) *ClamAVClient
}

func NewAntivirusStage() *AntivirusStage {
	return &AntivirusStage{newClient: NewClamAVClient}
}

func (s *AntivirusStage) Name() string { return domain.StageAntivirus }

func (s *AntivirusStage) Scan(ctx context.Context, path, originalFilename string, cfg config.QuarantineConfig) (StageResult, error) {
	client := s.newClient(cfg.ClamAVSocket)
	result := client.ScanFile(path)

	switch result.Status {
	case AVClean:
		return passResult(), nil
	case AVInfected:
		return holdResult(domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityCritical,
			Code:     "malware_detected",
			Message:  "antivirus scan flagged this file as infected",
			Details:  map[string]any{"threat": result.Threat},
		}), nil
	case AVUnavailable:
		return StageResult{Passed: true, Findings: []domain.Finding{{
			Stage:    s.Name(),
			Severity: domain.SeverityNone,
			Code:     "unavailable",
			Message:  "antivirus daemon unreachable; scan skipped",
			Details:  map[string]any{"reason": result.Message},
		}}}, nil
	default:
		return holdResult(domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityMedium,
			Code:     "scan_error",
			Message:  result.Message,
		}), nil
	}
}
