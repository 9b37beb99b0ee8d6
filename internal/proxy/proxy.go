// Package proxy forwards OpenAI-compatible inference requests
// (/v1/chat/completions, /v1/completions, /v1/embeddings, /v1/models) to the
// vLLM backend as a byte-pipe: request and response bodies pass through
// unmodified, streaming responses are flushed chunk by chunk and never
// buffered whole into memory. Grounded on internal/httputil's
// CopyHTTPClientWithTimeout/DefaultTransportWithMinTLS12, which already
// anticipate this client's construction, and on spec §5's connect/read/write
// timeout budgets.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/httputil"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// hopByHopHeaders are stripped before forwarding in either direction, per
// RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Result summarizes one forwarded call for the caller's audit log entry.
type Result struct {
	StatusCode   int
	LatencyMs    int64
	Model        string
	TokensInput  int
	TokensOutput int
}

type Proxy struct {
	backendURL string
	client     *http.Client
	log        *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Proxy {
	inf := cfg.Inference
	connectTimeout := secondsOrDefault(inf.ConnectTimeoutSec, 5)
	readTimeout := secondsOrDefault(inf.ReadTimeoutSec, 120)
	writeTimeout := secondsOrDefault(inf.WriteTimeoutSec, 5)

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := httputil.DefaultTransportWithMinTLS12()
	t, ok := transport.(*http.Transport)
	if ok {
		t = t.Clone()
	} else {
		t = &http.Transport{}
	}
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}, nil
	}

	// No overall client.Timeout: a streaming completion may legitimately run
	// far longer than any single read/write budget. deadlineConn enforces
	// those budgets per I/O operation instead, so an inactive connection
	// still gets killed while an active stream never does.
	client := httputil.CopyHTTPClientWithTimeout(&http.Client{Transport: t}, 0, false)

	return &Proxy{
		backendURL: strings.TrimSuffix(inf.BackendURL, "/"),
		client:     client,
		log:        log,
	}
}

func secondsOrDefault(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// deadlineConn resets a read or write deadline before every operation,
// turning the configured read/write budgets into per-operation inactivity
// timeouts rather than a single deadline for the whole connection lifetime.
type deadlineConn struct {
	net.Conn
	readTimeout, writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.Write(b)
}

// Forward proxies r to the backend at the same path and streams the
// response back to w. A streaming (text/event-stream) response is flushed
// after every chunk and never read into memory whole. A non-streaming
// response body is read whole so its usage counts and model name can be
// extracted for the audit log. The request body (a JSON prompt) is also
// buffered, to pull out the model name.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request) Result {
	started := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.InvalidInput("body", "could not read request body"))
		return Result{StatusCode: http.StatusBadRequest, LatencyMs: time.Since(started).Milliseconds()}
	}
	model := gjson.GetBytes(body, "model").String()

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, p.backendURL+r.URL.Path+queryString(r), strings.NewReader(string(body)))
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.Internal("failed to build backend request", err))
		return Result{StatusCode: http.StatusInternalServerError, LatencyMs: time.Since(started).Milliseconds(), Model: model}
	}
	copyHeaders(outReq.Header, r.Header)

	resp, err := p.client.Do(outReq)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.BackendUnavailable("inference backend", "check that vault-vllm is running"))
		return Result{StatusCode: http.StatusServiceUnavailable, LatencyMs: time.Since(started).Milliseconds(), Model: model}
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	tokensIn, tokensOut := 0, 0
	if isStreaming(resp.Header) {
		streamChunks(w, resp.Body)
	} else {
		respBody, _ := io.ReadAll(resp.Body)
		_, _ = w.Write(respBody)
		tokensIn = int(gjson.GetBytes(respBody, "usage.prompt_tokens").Int())
		tokensOut = int(gjson.GetBytes(respBody, "usage.completion_tokens").Int())
		if model == "" {
			model = gjson.GetBytes(respBody, "model").String()
		}
	}

	return Result{
		StatusCode:   resp.StatusCode,
		LatencyMs:    time.Since(started).Milliseconds(),
		Model:        model,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
	}
}

// ChatCompletionRequest is the minimal shape quick eval needs to drive a
// single non-streaming chat-completion call.
type ChatCompletionRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// CallChatCompletion issues one synchronous, non-streaming call to the
// backend's /v1/chat/completions, returning the generated message content.
// Grounded on original_source/app/services/eval/quick.py's
// _call_inference_async: same endpoint, same message construction (an
// optional system message ahead of the user prompt), same bearer-forwarding
// of the caller's own credential rather than any credential of the proxy's
// own. Quick eval never goes through Forward — it needs the parsed content
// string back, not a byte-pipe to a client's ResponseWriter.
func (p *Proxy) CallChatCompletion(ctx context.Context, authHeader string, req ChatCompletionRequest) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	body, err := json.Marshal(map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"stream":      false,
	})
	if err != nil {
		return "", apierr.Internal("failed to encode chat completion request", err)
	}

	outReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.backendURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apierr.Internal("failed to build chat completion request", err)
	}
	outReq.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		outReq.Header.Set("Authorization", authHeader)
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		return "", apierr.BackendUnavailable("inference backend", "check that vault-vllm is running")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", apierr.Internal("failed to read chat completion response", err)
	}
	if resp.StatusCode >= 400 {
		return "", apierr.Wrap(apierr.CodeBackendUnavailable, "inference backend returned an error", resp.StatusCode, errors.New(string(respBody)))
	}
	return gjson.GetBytes(respBody, "choices.0.message.content").String(), nil
}

// Healthy probes the backend's own /health endpoint with a short timeout,
// for the expanded system health check to fold in a live inference-engine
// signal rather than relying on the systemd unit state alone.
func (p *Proxy) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.backendURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func isStreaming(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

// streamChunks copies resp.Body to w one Read() at a time, flushing after
// each, so the client sees each `data: …\n\n` frame as the backend emits it
// rather than after the whole response completes.
func streamChunks(w http.ResponseWriter, body io.Reader) {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func queryString(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}
