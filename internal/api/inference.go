package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// registerInferenceRoutes wires the OpenAI-compatible surface spec §4.7
// describes: every request under /v1 is authenticated the same way as the
// rest of the control plane, then handed whole to proxy.Proxy.Forward,
// which streams the backend's response back byte for byte.
func (s *Server) registerInferenceRoutes(r *mux.Router) {
	r.Handle("/v1/chat/completions", s.protect(s.handleInference)).Methods(http.MethodPost)
	r.Handle("/v1/completions", s.protect(s.handleInference)).Methods(http.MethodPost)
	r.Handle("/v1/embeddings", s.protect(s.handleInference)).Methods(http.MethodPost)
	r.Handle("/v1/models", s.protect(s.handleInference)).Methods(http.MethodGet)
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	keyPrefix := ""
	if principal, ok := principalFromRequestSafe(r); ok {
		keyPrefix = principal.KeyPrefix
	}

	result := s.inference.Forward(w, r)

	s.metrics.observeInferenceTokens(result.Model, result.TokensInput, result.TokensOutput)
	s.auditLog.InferenceCall(r.Context(), keyPrefix, r.Method, r.URL.Path, result.Model, result.StatusCode, result.LatencyMs, result.TokensInput, result.TokensOutput)
}
