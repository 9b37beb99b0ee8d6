// Package middleware holds the cross-cutting HTTP wrappers api.Server's own
// request/response-shaping middleware (recovery, logging, metrics, cors)
// doesn't cover: request body size capping, baseline security headers, and
// a per-caller rate limiter. Grounded on
// infrastructure/middleware/{bodylimit,security_headers,ratelimit}.go.
package middleware

import (
	"net/http"

	"github.com/vault-ai/control-plane/internal/httputil"
)

// defaultMaxRequestBodyBytes bounds any request this appliance's dashboard
// or API clients send outside the quarantine upload path, which sets its
// own much larger ceiling via http.MaxBytesReader directly.
const defaultMaxRequestBodyBytes int64 = 8 << 20 // 8MiB

// BodyLimit caps request bodies to reduce memory/CPU DoS risk. It applies
// http.MaxBytesReader so downstream handlers/decoders cannot read beyond
// the configured limit.
type BodyLimit struct {
	maxBytes int64
}

// NewBodyLimit builds a BodyLimit. maxBytes <= 0 falls back to a
// conservative default.
func NewBodyLimit(maxBytes int64) *BodyLimit {
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBodyBytes
	}
	return &BodyLimit{maxBytes: maxBytes}
}

func (m *BodyLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.maxBytes <= 0 || r == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.maxBytes {
			httputil.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "",
				"request body too large", map[string]any{"limit_bytes": m.maxBytes})
			return
		}

		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		}

		next.ServeHTTP(w, r)
	})
}
