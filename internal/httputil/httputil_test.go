package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorResponseEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	WriteErrorResponse(rec, req, http.StatusConflict, "RES_4003", "already running", map[string]any{"job_id": "j1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"RES_4003"`)
	assert.Contains(t, rec.Body.String(), `"status":409`)
}

func TestClientIPTrustsForwardedFromPrivatePeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestClientIPIgnoresForwardedFromPublicPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.1:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, "203.0.113.1", ClientIP(req))
}

func TestPaginationParamsClamps(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=-3", nil)
	offset, limit := PaginationParams(req, 20, 100)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 100, limit)
}

func TestDecodeJSONOptionalEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	rec := httptest.NewRecorder()
	var v struct{ X int }
	ok := DecodeJSONOptional(rec, req, &v)
	require.True(t, ok)
}
