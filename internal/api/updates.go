package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/httputil"
)

func (s *Server) registerUpdateRoutes(r *mux.Router) {
	r.Handle("/vault/updates/status", s.protect(s.handleUpdateStatus)).Methods(http.MethodGet)
	r.Handle("/vault/updates/scan", s.admin(s.handleScanForUpdates)).Methods(http.MethodPost)
	r.Handle("/vault/updates/pending", s.protect(s.handleGetPendingUpdate)).Methods(http.MethodGet)
	r.Handle("/vault/updates/apply", s.admin(s.handleApplyUpdate)).Methods(http.MethodPost)
	r.Handle("/vault/updates/rollback", s.admin(s.handleRollbackUpdate)).Methods(http.MethodPost)
	r.Handle("/vault/updates/progress/{job_id}", s.protect(s.handleUpdateProgress)).Methods(http.MethodGet)
	r.Handle("/vault/updates/history", s.protect(s.handleUpdateHistory)).Methods(http.MethodGet)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.updates.GetStatus(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleScanForUpdates(w http.ResponseWriter, r *http.Request) {
	bundles, err := s.updates.ScanForUpdates(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bundles)
}

func (s *Server) handleGetPendingUpdate(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.updates.GetPending(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if bundle == nil {
		httputil.WriteJSON(w, http.StatusOK, nil)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bundle)
}

type applyUpdateRequest struct {
	BundlePath       string `json:"bundle_path"`
	Confirmation     string `json:"confirmation"`
	CreateBackup     bool   `json:"create_backup"`
	BackupPassphrase string `json:"backup_passphrase"`
}

func (s *Server) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	var req applyUpdateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BundlePath == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("bundle_path"))
		return
	}

	submittedBy := ""
	if principal, ok := principalFromRequestSafe(r); ok {
		submittedBy = principal.UserID
	}

	job, err := s.updates.ApplyUpdate(r.Context(), req.BundlePath, req.Confirmation, req.CreateBackup, req.BackupPassphrase, submittedBy)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "update.apply", job.ID)
	httputil.WriteJSON(w, http.StatusAccepted, job)
}

type rollbackUpdateRequest struct {
	Confirmation string `json:"confirmation"`
	Passphrase   string `json:"passphrase"`
}

func (s *Server) handleRollbackUpdate(w http.ResponseWriter, r *http.Request) {
	var req rollbackUpdateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	submittedBy := ""
	if principal, ok := principalFromRequestSafe(r); ok {
		submittedBy = principal.UserID
	}

	job, err := s.updates.Rollback(r.Context(), req.Confirmation, req.Passphrase, submittedBy)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "update.rollback", job.ID)
	httputil.WriteJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, err := s.updates.GetProgress(r.Context(), jobID)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("update_job", jobID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, 50, 200)
	jobs, err := s.updates.GetHistory(r.Context(), offset, limit)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_update_jobs", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobs)
}
