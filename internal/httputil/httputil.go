// Package httputil provides the error envelope, request helpers and
// client-IP extraction shared by every handler in internal/api.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// ErrorEnvelope is the spec §6 error response shape:
// {error:{code,message,status,details?}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes the standard error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	if r != nil {
		if traceID := logger.GetTraceID(r.Context()); traceID != "" && w.Header().Get("X-Trace-ID") == "" {
			w.Header().Set("X-Trace-ID", traceID)
		}
	}
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message, Status: status, Details: details}})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, nil, status, "", message, nil)
}

func BadRequest(w http.ResponseWriter, message string) { WriteError(w, http.StatusBadRequest, message) }

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, orDefault(message, "unauthorized"))
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, orDefault(message, "forbidden"))
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, orDefault(message, "not found"))
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, orDefault(message, "conflict"))
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, orDefault(message, "internal server error"))
}

func ServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, orDefault(message, "service unavailable"))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// DecodeJSON decodes r's body into v. On failure it writes a 400 response
// and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "", "request body too large", map[string]any{"limit_bytes": maxErr.Limit})
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// DecodeJSONOptional is DecodeJSON but tolerates an empty body.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// PathParamAt extracts a path segment at the given 0-based index.
func PathParamAt(path string, index int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if index >= 0 && index < len(parts) {
		return parts[index]
	}
	return ""
}

func QueryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func QueryString(r *http.Request, key, defaultVal string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultVal
}

func QueryBool(r *http.Request, key string, defaultVal bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1" || v == "yes"
}

// PaginationParams extracts offset/limit, clamped to [1, maxLimit].
func PaginationParams(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = QueryInt(r, "offset", 0)
	limit = QueryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// ClientIP extracts a best-effort client address: trusts X-Forwarded-For /
// X-Real-IP only when the direct peer is private/loopback, otherwise falls
// back to RemoteAddr so a request arriving straight from the internet can't
// spoof its own source via headers.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	parsed := net.ParseIP(remote)
	trustForwarded := parsed != nil && (parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast())
	if trustForwarded {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			candidate := strings.TrimSpace(strings.Split(xff, ",")[0])
			if host, _, err := net.SplitHostPort(candidate); err == nil {
				candidate = host
			}
			if candidate != "" {
				return candidate
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return remote
}

// WriteServiceError renders err as the standard error envelope. A
// *apierr.ServiceError supplies its own code/status/details; any other
// error is treated as an unclassified internal failure.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if se := apierr.GetServiceError(err); se != nil {
		WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
		return
	}
	WriteErrorResponse(w, r, http.StatusInternalServerError, string(apierr.CodeInternal), "internal server error", nil)
}

// WrapError wraps err with a message, or returns nil if err is nil.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
