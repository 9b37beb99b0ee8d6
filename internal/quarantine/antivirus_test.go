package quarantine

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

// fakeClamd starts a Unix socket listener that speaks just enough of the
// INSTREAM protocol to exercise ClamAVClient: it drains length-prefixed
// chunks until a zero-length terminator, then writes the given response.
func fakeClamd(t *testing.T, response string) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "clamd.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				cmd := make([]byte, 10) // "zINSTREAM\0" or "zPING\0"
				n, _ := r.Read(cmd)
				if n >= 6 && string(cmd[:6]) == "zPING\000" {
					c.Write([]byte("PONG\000"))
					return
				}
				for {
					var lenBuf [4]byte
					if _, err := r.Read(lenBuf[:]); err != nil {
						return
					}
					length := binary.BigEndian.Uint32(lenBuf[:])
					if length == 0 {
						break
					}
					buf := make([]byte, length)
					r.Read(buf)
				}
				c.Write([]byte(response + "\000"))
			}(conn)
		}
	}()
	return sockPath
}

func TestClamAVClientReportsClean(t *testing.T) {
	sock := fakeClamd(t, "stream: OK")
	client := NewClamAVClient(sock)
	result := client.ScanBytes([]byte("harmless content"))
	if result.Status != AVClean {
		t.Fatalf("expected clean, got %+v", result)
	}
}

func TestClamAVClientReportsInfected(t *testing.T) {
	sock := fakeClamd(t, "stream: Win.Test.EICAR_HDB-1 FOUND")
	client := NewClamAVClient(sock)
	result := client.ScanBytes([]byte("eicar-like content"))
	if result.Status != AVInfected {
		t.Fatalf("expected infected, got %+v", result)
	}
	if result.Threat == "" {
		t.Fatal("expected a non-empty threat name")
	}
}

func TestClamAVClientUnavailableWhenSocketMissing(t *testing.T) {
	client := NewClamAVClient(filepath.Join(t.TempDir(), "no-such.sock"))
	result := client.ScanBytes([]byte("data"))
	if result.Status != AVUnavailable {
		t.Fatalf("expected unavailable, got %+v", result)
	}
}

func TestAntivirusStageNeverHoldsOnUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	os.WriteFile(path, []byte("data"), 0o644)

	stage := NewAntivirusStage()
	cfg := config.QuarantineConfig{ClamAVSocket: filepath.Join(dir, "missing.sock")}

	result, err := stage.Scan(context.Background(), path, "file.bin", cfg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !result.Passed {
		t.Fatal("an unavailable AV daemon must never hold a file")
	}
	if result.Findings[0].Code != "unavailable" {
		t.Fatalf("expected unavailable finding, got %+v", result.Findings)
	}
}

func TestAntivirusStageHoldsOnInfection(t *testing.T) {
	sock := fakeClamd(t, "stream: Win.Test.EICAR_HDB-1 FOUND")
	dir := t.TempDir()
	path := filepath.Join(dir, "eicar.txt")
	os.WriteFile(path, []byte("X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*"), 0o644)

	stage := NewAntivirusStage()
	result, err := stage.Scan(context.Background(), path, "eicar.txt", config.QuarantineConfig{ClamAVSocket: sock})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Passed {
		t.Fatal("expected infected verdict to hold the file")
	}
	if result.Findings[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", result.Findings[0].Severity)
	}
}
