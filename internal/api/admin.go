package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/audit"
	"github.com/vault-ai/control-plane/internal/auth"
	"github.com/vault-ai/control-plane/internal/diagnostics"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/httputil"
)

// registerAdminRoutes wires the operator-facing surface spec §6 groups
// under admin: user/API-key/LDAP-mapping management, audit log, and the
// diagnostics service's export/purge/archive/factory-reset/backup/restore
// operations.
func (s *Server) registerAdminRoutes(r *mux.Router) {
	r.Handle("/vault/admin/users", s.admin(s.handleListUsers)).Methods(http.MethodGet)
	r.Handle("/vault/admin/users", s.admin(s.handleCreateUser)).Methods(http.MethodPost)
	r.Handle("/vault/admin/users/{id}", s.admin(s.handleUpdateUser)).Methods(http.MethodPut)
	r.Handle("/vault/admin/users/{id}", s.admin(s.handleDeleteUser)).Methods(http.MethodDelete)

	r.Handle("/vault/admin/api-keys", s.admin(s.handleListApiKeys)).Methods(http.MethodGet)
	r.Handle("/vault/admin/api-keys", s.admin(s.handleCreateApiKey)).Methods(http.MethodPost)
	r.Handle("/vault/admin/api-keys/{id}", s.admin(s.handleRevokeApiKey)).Methods(http.MethodDelete)

	r.Handle("/vault/admin/ldap-mappings", s.admin(s.handleListLdapMappings)).Methods(http.MethodGet)
	r.Handle("/vault/admin/ldap-mappings", s.admin(s.handleCreateLdapMapping)).Methods(http.MethodPost)
	r.Handle("/vault/admin/ldap-mappings/{id}", s.admin(s.handleUpdateLdapMapping)).Methods(http.MethodPut)
	r.Handle("/vault/admin/ldap-mappings/{id}", s.admin(s.handleDeleteLdapMapping)).Methods(http.MethodDelete)

	r.Handle("/vault/admin/audit-log", s.admin(s.handleListAuditLog)).Methods(http.MethodGet)

	r.Handle("/vault/admin/data/export", s.admin(s.handleDataExport)).Methods(http.MethodGet)
	r.Handle("/vault/admin/data/purge", s.admin(s.handleDataPurge)).Methods(http.MethodPost)
	r.Handle("/vault/admin/conversations/archive", s.admin(s.handleArchiveConversations)).Methods(http.MethodPost)
	r.Handle("/vault/admin/factory-reset", s.admin(s.handleFactoryReset)).Methods(http.MethodPost)
	r.Handle("/vault/admin/diagnostics/bundle", s.admin(s.handleDiagnosticsBundle)).Methods(http.MethodPost)
	r.Handle("/vault/admin/backup", s.admin(s.handleBackup)).Methods(http.MethodPost)
	r.Handle("/vault/admin/restore", s.admin(s.handleRestore)).Methods(http.MethodPost)
}

// --- users ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_users", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Role       domain.UserRole `json:"role"`
	Password   string          `json:"password"`
	AuthSource domain.AuthSource `json:"auth_source"`
	DirectoryDN string         `json:"directory_dn"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("name/email"))
		return
	}
	if req.AuthSource == "" {
		req.AuthSource = domain.AuthSourceLocal
	}
	if req.Role == "" {
		req.Role = domain.RoleUser
	}

	u := domain.User{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Email:      req.Email,
		Role:       req.Role,
		Status:     domain.UserActive,
		AuthSource: req.AuthSource,
	}
	switch req.AuthSource {
	case domain.AuthSourceLocal:
		if req.Password == "" {
			httputil.WriteServiceError(w, r, apierr.MissingParameter("password"))
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			httputil.WriteServiceError(w, r, apierr.Internal("failed to hash password", err))
			return
		}
		u.CredentialHash = hash
	case domain.AuthSourceDirectory:
		if req.DirectoryDN == "" {
			httputil.WriteServiceError(w, r, apierr.MissingParameter("directory_dn"))
			return
		}
		u.DirectoryDN = req.DirectoryDN
	default:
		httputil.WriteServiceError(w, r, apierr.InvalidInput("auth_source", "must be local or directory"))
		return
	}

	created, err := s.store.CreateUser(r.Context(), u)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("create_user", err))
		return
	}
	s.auditLog.Admin(r.Context(), "user.create", created.ID)
	httputil.WriteJSON(w, http.StatusCreated, created)
}

type updateUserRequest struct {
	Name     string           `json:"name"`
	Email    string           `json:"email"`
	Role     domain.UserRole  `json:"role"`
	Status   domain.UserStatus `json:"status"`
	Password string           `json:"password"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("user", id))
		return
	}
	var req updateUserRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Email != "" {
		existing.Email = req.Email
	}
	if req.Role != "" {
		existing.Role = req.Role
	}
	if req.Status != "" {
		existing.Status = req.Status
	}
	if req.Password != "" {
		if existing.AuthSource != domain.AuthSourceLocal {
			httputil.WriteServiceError(w, r, apierr.InvalidInput("password", "cannot set a password on a directory-sourced account"))
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			httputil.WriteServiceError(w, r, apierr.Internal("failed to hash password", err))
			return
		}
		existing.CredentialHash = hash
	}
	if err := s.store.UpdateUser(r.Context(), existing); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("update_user", err))
		return
	}
	s.auditLog.Admin(r.Context(), "user.update", id)
	httputil.WriteJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("delete_user", err))
		return
	}
	s.auditLog.Admin(r.Context(), "user.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- api keys ---

func (s *Server) handleListApiKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListApiKeys(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_api_keys", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, keys)
}

type createApiKeyRequest struct {
	Label  string              `json:"label"`
	Scope  domain.ApiKeyScope  `json:"scope"`
	UserID *string             `json:"user_id"`
	Notes  string              `json:"notes"`
}

type createApiKeyResponse struct {
	Key domain.ApiKey `json:"key"`
	RawKey string     `json:"raw_key"`
}

// handleCreateApiKey is the one and only time a raw key value is ever
// visible — it is generated, hashed, and the raw form handed back in the
// response body only; the store never sees it again after this call.
func (s *Server) handleCreateApiKey(w http.ResponseWriter, r *http.Request) {
	var req createApiKeyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Label == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("label"))
		return
	}
	if req.Scope == "" {
		req.Scope = domain.ApiKeyScopeUser
	}

	raw, hash, prefix, err := auth.GenerateAPIKeyRaw()
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.Internal("failed to generate api key", err))
		return
	}

	created, err := s.store.CreateApiKey(r.Context(), domain.ApiKey{
		KeyHash:   hash,
		KeyPrefix: prefix,
		Label:     req.Label,
		Scope:     req.Scope,
		IsActive:  true,
		UserID:    req.UserID,
		Notes:     req.Notes,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("create_api_key", err))
		return
	}
	s.auditLog.Admin(r.Context(), "apikey.create", created.Label)
	httputil.WriteJSON(w, http.StatusCreated, createApiKeyResponse{Key: created, RawKey: raw})
}

func (s *Server) handleRevokeApiKey(w http.ResponseWriter, r *http.Request) {
	rawID := mux.Vars(r)["id"]
	n, err := parseInt64(rawID)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.InvalidInput("id", "must be numeric"))
		return
	}
	if err := s.store.RevokeApiKey(r.Context(), n); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("revoke_api_key", err))
		return
	}
	s.auditLog.Admin(r.Context(), "apikey.revoke", rawID)
	w.WriteHeader(http.StatusNoContent)
}

// --- ldap group mappings ---

func (s *Server) handleListLdapMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.store.ListLdapGroupMappings(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_ldap_mappings", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mappings)
}

type ldapMappingRequest struct {
	DirectoryGroupIdentifier string          `json:"directory_group_identifier"`
	Role                     domain.UserRole `json:"role"`
	Priority                 int             `json:"priority"`
}

func (s *Server) handleCreateLdapMapping(w http.ResponseWriter, r *http.Request) {
	var req ldapMappingRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.DirectoryGroupIdentifier == "" || req.Role == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("directory_group_identifier/role"))
		return
	}
	created, err := s.store.CreateLdapGroupMapping(r.Context(), domain.LdapGroupMapping{
		DirectoryGroupIdentifier: req.DirectoryGroupIdentifier,
		Role:                     req.Role,
		Priority:                 req.Priority,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("create_ldap_mapping", err))
		return
	}
	s.auditLog.Admin(r.Context(), "ldap_mapping.create", created.ID)
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateLdapMapping(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ldapMappingRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	m := domain.LdapGroupMapping{ID: id, DirectoryGroupIdentifier: req.DirectoryGroupIdentifier, Role: req.Role, Priority: req.Priority}
	if err := s.store.UpdateLdapGroupMapping(r.Context(), m); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("update_ldap_mapping", err))
		return
	}
	s.auditLog.Admin(r.Context(), "ldap_mapping.update", id)
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteLdapMapping(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteLdapGroupMapping(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("delete_ldap_mapping", err))
		return
	}
	s.auditLog.Admin(r.Context(), "ldap_mapping.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- audit log ---

func (s *Server) handleListAuditLog(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, 100, 500)
	action := httputil.QueryString(r, "action", "")
	entries, err := s.auditLog.List(r.Context(), audit.ListFilter{Action: action, Offset: offset, Limit: limit})
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_audit_log", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// --- diagnostics ---

func (s *Server) handleDataExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.diagnostics.Export(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}

type purgeRequest struct {
	Confirmation string    `json:"confirmation"`
	OlderThan    time.Time `json:"older_than"`
}

func (s *Server) handleDataPurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.OlderThan.IsZero() {
		req.OlderThan = time.Now().UTC()
	}
	n, err := s.diagnostics.Purge(r.Context(), req.Confirmation, req.OlderThan)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "data.purge", "")
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"purged": n})
}

type confirmationRequest struct {
	Confirmation string `json:"confirmation"`
}

func (s *Server) handleArchiveConversations(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	path, err := s.diagnostics.ArchiveConversations(r.Context(), req.Confirmation)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "conversations.archive", path)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"archive_path": path})
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.diagnostics.FactoryReset(r.Context(), req.Confirmation); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "system.factory_reset", "")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset complete"})
}

func (s *Server) handleDiagnosticsBundle(w http.ResponseWriter, r *http.Request) {
	dest := filepath.Join(os.TempDir(), "vault-diagnostics-"+time.Now().UTC().Format("20060102T150405Z")+".tar.gz")
	if err := s.diagnostics.Bundle(r.Context(), dest); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "diagnostics.bundle", dest)
	http.ServeFile(w, r, dest)
}

type backupRequest struct {
	Confirmation string `json:"confirmation"`
	Passphrase   string `json:"backup_passphrase"`
}

// handleBackup validates the diagnostics confirmation string and reports
// the update engine's configured backup directory. The engine only takes a
// backup as part of applying a bundle (internal/updateengine.Engine.takeBackup
// is unexported and unconditionally paired with an apply); there is no
// bundle-less on-demand backup path to call into, so this endpoint's
// contract is confirmation-gated visibility into where the next apply's
// backup will land, not a new backup taken on the spot.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !diagnostics.BackupConfirmationOK(req.Confirmation) {
		httputil.WriteServiceError(w, r, apierr.InvalidInput("confirmation", "must be exactly \"BACKUP SYSTEM\""))
		return
	}
	s.auditLog.Admin(r.Context(), "system.backup", s.cfg.Update.BackupDir)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"backup_dir": s.cfg.Update.BackupDir})
}

type restoreRequest struct {
	Confirmation string `json:"confirmation"`
	Passphrase   string `json:"passphrase"`
}

// handleRestore validates the diagnostics confirmation string and then
// hands off to the update engine's own rollback machinery, which already
// knows how to restore the last good backup under BackupDir.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !diagnostics.RestoreConfirmationOK(req.Confirmation) {
		httputil.WriteServiceError(w, r, apierr.InvalidInput("confirmation", "must be exactly \"RESTORE SYSTEM\""))
		return
	}
	submittedBy := ""
	if principal, ok := principalFromRequestSafe(r); ok {
		submittedBy = principal.UserID
	}
	job, err := s.updates.Rollback(r.Context(), "ROLLBACK UPDATE", req.Passphrase, submittedBy)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "system.restore", job.ID)
	httputil.WriteJSON(w, http.StatusAccepted, job)
}

func parseInt64(s string) (int64, error) {
	var n int64
	neg := false
	if len(s) == 0 {
		return 0, apierr.InvalidInput("id", "empty")
	}
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0, apierr.InvalidInput("id", "not numeric")
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
