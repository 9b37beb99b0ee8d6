package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/httputil"
)

func (s *Server) registerAdapterRoutes(r *mux.Router) {
	r.Handle("/vault/adapters", s.protect(s.handleListAdapters)).Methods(http.MethodGet)
	r.Handle("/vault/adapters/{id}", s.protect(s.handleGetAdapter)).Methods(http.MethodGet)
	r.Handle("/vault/adapters/{id}/activate", s.admin(s.handleActivateAdapter)).Methods(http.MethodPost)
	r.Handle("/vault/adapters/{id}/deactivate", s.admin(s.handleDeactivateAdapter)).Methods(http.MethodPost)
	r.Handle("/vault/adapters/{id}", s.admin(s.handleDeleteAdapter)).Methods(http.MethodDelete)
}

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	adapters, err := s.adapters.List(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_adapters", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adapters)
}

func (s *Server) handleGetAdapter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	adapter, err := s.adapters.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adapter)
}

func (s *Server) handleActivateAdapter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	adapter, err := s.adapters.Activate(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "adapter.activate", id)
	httputil.WriteJSON(w, http.StatusOK, adapter)
}

func (s *Server) handleDeactivateAdapter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	adapter, err := s.adapters.Deactivate(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "adapter.deactivate", id)
	httputil.WriteJSON(w, http.StatusOK, adapter)
}

func (s *Server) handleDeleteAdapter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.adapters.Delete(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "adapter.delete", id)
	w.WriteHeader(http.StatusNoContent)
}
