package proxy

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/pkg/logger"
)

func newTestProxy(t *testing.T, backendURL string) *Proxy {
	t.Helper()
	cfg := config.New()
	cfg.Inference.BackendURL = backendURL
	return New(cfg, logger.New(logger.Config{Level: "error"}))
}

func TestForwardNonStreamingPassesThroughAndExtractsUsage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path forwarded: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"llama-3-8b","usage":{"prompt_tokens":12,"completion_tokens":34}}`)
	}))
	defer backend.Close()

	p := newTestProxy(t, backend.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"llama-3-8b","messages":[]}`))
	rec := httptest.NewRecorder()

	result := p.Forward(rec, req)

	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.TokensInput != 12 || result.TokensOutput != 34 {
		t.Fatalf("expected usage extracted, got %+v", result)
	}
	if result.Model != "llama-3-8b" {
		t.Fatalf("expected model from request body, got %q", result.Model)
	}
	if !strings.Contains(rec.Body.String(), "usage") {
		t.Fatal("expected body forwarded to client")
	}
}

func TestForwardStreamingFlushesFrames(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"token\":\"hel\"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer backend.Close()

	p := newTestProxy(t, backend.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(`{"model":"llama-3-8b","stream":true}`))
	rec := httptest.NewRecorder()

	result := p.Forward(rec, req)

	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var frames []string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, line)
		}
	}
	if len(frames) != 2 || frames[1] != "data: [DONE]" {
		t.Fatalf("expected two framed chunks terminating in [DONE], got %v", frames)
	}
}

func TestForwardBackendUnavailableReturns503(t *testing.T) {
	p := newTestProxy(t, "http://127.0.0.1:1")
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()

	result := p.Forward(rec, req)

	if result.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", result.StatusCode)
	}
}
