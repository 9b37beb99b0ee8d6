package api

import (
	"net/http"
	"time"

	"github.com/vault-ai/control-plane/internal/httputil"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// recoveryMiddleware converts a panicking handler into a 500 response
// instead of crashing the process, the same last-line-of-defense wrapper
// cmd/gateway installs outermost in its own chain.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.log != nil {
					s.log.WithField("panic", rec).WithField("path", r.URL.Path).Error("panic recovered in handler")
				}
				httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware stamps a trace ID onto the request context and emits a
// structured request log line, mirroring pkg/logger's WithTraceID/LogRequest
// pairing used across the rest of this tree.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := logger.NewTraceID()
		ctx := logger.WithTraceID(r.Context(), traceID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Trace-ID", traceID)

		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if s.log != nil {
			s.log.LogRequest(ctx, r.Method, r.URL.Path, sw.status, time.Since(started))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request count and latency by route template and
// status code for /metrics.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.observeRequest(r.Method, routeTemplate(r), sw.status, time.Since(started))
	})
}

// corsMiddleware allows the appliance's own locally-served dashboard to call
// the API from a different port/origin during development; on the
// air-gapped appliance itself frontend and backend typically share an
// origin behind the reverse proxy, so this is permissive by design rather
// than an externally-facing CORS policy.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusNotFound, "", "route not found", nil)
}

// routeTemplate returns the X-Route-Template request header when present,
// else the raw request path. Path parameters (IDs) are not collapsed, so
// every distinct path becomes its own metrics label value.
func routeTemplate(r *http.Request) string {
	if route := r.Header.Get("X-Route-Template"); route != "" {
		return route
	}
	return r.URL.Path
}
