package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/auth"
	"github.com/vault-ai/control-plane/internal/httputil"
)

func (s *Server) registerAuthRoutes(r *mux.Router) {
	r.HandleFunc("/vault/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/vault/auth/ldap-enabled", s.handleLdapEnabled).Methods(http.MethodGet)
	r.Handle("/vault/auth/me", s.protect(s.handleMe)).Methods(http.MethodGet)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int         `json:"expires_in"`
	User      userSummary `json:"user"`
}

type userSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	AuthSource string `json:"auth_source"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("username or password"))
		return
	}

	result, err := s.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresIn: result.ExpiresIn,
		User: userSummary{
			ID:         result.User.ID,
			Name:       result.User.Name,
			Email:      result.User.Email,
			Role:       string(result.User.Role),
			AuthSource: string(result.User.AuthSource),
		},
	})
}

func (s *Server) handleLdapEnabled(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": s.authSvc.DirectoryEnabled(r.Context())})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromRequest(r)
	if !ok {
		httputil.WriteServiceError(w, r, apierr.Unauthorized("authentication required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"type":        principal.Type,
		"user_id":     principal.UserID,
		"name":        principal.Name,
		"role":        principal.Role,
		"auth_source": principal.AuthSource,
	})
}
