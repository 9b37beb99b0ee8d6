// Package diagnostics implements the appliance's destructive and
// data-export admin operations: export, purge, job-history archive,
// factory reset, and a support bundle. Each mutating operation requires
// its own literal confirmation string, per spec §6. Directory copies are
// grounded on internal/updateengine's copyTree, the same "walk, mkdir,
// copy" shape used for bundle apply/rollback.
package diagnostics

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

const (
	purgeConfirmation        = "PURGE DATA"
	archiveConfirmation      = "ARCHIVE CONVERSATIONS"
	factoryResetConfirmation = "FACTORY RESET"
	backupConfirmation       = "BACKUP SYSTEM"
	restoreConfirmation      = "RESTORE SYSTEM"
)

type Service struct {
	cfg   *config.Config
	store *store.Store
	log   *logger.Logger
}

func New(cfg *config.Config, st *store.Store, log *logger.Logger) *Service {
	return &Service{cfg: cfg, store: st, log: log}
}

// Export is a point-in-time JSON snapshot of users, API keys (hash and
// notes omitted), LDAP group mappings and recent audit log entries —
// everything GET /vault/admin/data/export hands back for an operator to
// inspect or hand to support.
type Export struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Users       []domain.User             `json:"users"`
	ApiKeys     []exportedKey             `json:"api_keys"`
	LdapMapping []domain.LdapGroupMapping `json:"ldap_group_mappings"`
	AuditLog    []domain.AuditLogEntry    `json:"audit_log_recent"`
}

type exportedKey struct {
	ID        int64             `json:"id"`
	Label     string            `json:"label"`
	Scope     domain.ApiKeyScope `json:"scope"`
	IsActive  bool              `json:"is_active"`
	KeyPrefix string            `json:"key_prefix"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Service) Export(ctx context.Context) (Export, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return Export{}, apierr.DatabaseError("list_users", err)
	}
	keys, err := s.store.ListApiKeys(ctx)
	if err != nil {
		return Export{}, apierr.DatabaseError("list_api_keys", err)
	}
	mappings, err := s.store.ListLdapGroupMappings(ctx)
	if err != nil {
		return Export{}, apierr.DatabaseError("list_ldap_mappings", err)
	}
	audit, err := s.store.ListAuditLog(ctx, time.Time{}, time.Now().UTC(), "", 0, 1000)
	if err != nil {
		return Export{}, apierr.DatabaseError("list_audit_log", err)
	}

	exported := make([]exportedKey, 0, len(keys))
	for _, k := range keys {
		exported = append(exported, exportedKey{ID: k.ID, Label: k.Label, Scope: k.Scope, IsActive: k.IsActive, KeyPrefix: k.KeyPrefix, CreatedAt: k.CreatedAt})
	}

	return Export{GeneratedAt: time.Now().UTC(), Users: users, ApiKeys: exported, LdapMapping: mappings, AuditLog: audit}, nil
}

// Purge deletes audit log entries older than olderThan. It is the only
// store-level destructive operation implemented here: there is no
// conversation-transcript table in this appliance's data model (inference
// conversations live entirely in the backend's own context window, never
// persisted by the control plane), so "purge" scopes to the one durable,
// ever-growing table the control plane itself owns.
func (s *Service) Purge(ctx context.Context, confirmation string, olderThan time.Time) (int, error) {
	if confirmation != purgeConfirmation {
		return 0, apierr.InvalidInput("confirmation", fmt.Sprintf("must be exactly %q", purgeConfirmation))
	}
	return s.store.PurgeAuditLog(ctx, olderThan)
}

// ArchiveConversations writes every terminal training and eval job's
// record to a timestamped JSON file under the update engine's backup
// directory, then reports the archive path. "Conversations" in spec
// terms are eval/training runs — the only job history this appliance
// persists — so archiving means snapshotting that history before an
// operator prunes it.
func (s *Service) ArchiveConversations(ctx context.Context, confirmation string) (string, error) {
	if confirmation != archiveConfirmation {
		return "", apierr.InvalidInput("confirmation", fmt.Sprintf("must be exactly %q", archiveConfirmation))
	}
	training, err := s.store.ListTrainingJobs(ctx, 0, 10000)
	if err != nil {
		return "", apierr.DatabaseError("list_training_jobs", err)
	}
	evalJobs, err := s.store.ListEvalJobs(ctx, 0, 10000)
	if err != nil {
		return "", apierr.DatabaseError("list_eval_jobs", err)
	}

	archive := struct {
		GeneratedAt time.Time              `json:"generated_at"`
		Training    []domain.TrainingJob   `json:"training_jobs"`
		Eval        []domain.EvalJob       `json:"eval_jobs"`
	}{time.Now().UTC(), training, evalJobs}

	path := filepath.Join(s.cfg.Update.BackupDir, fmt.Sprintf("job-history-%s.json", time.Now().UTC().Format("20060102T150405Z")))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apierr.Internal("failed to create archive directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", apierr.Internal("failed to create archive file", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(archive); err != nil {
		return "", apierr.Internal("failed to write archive", err)
	}
	return path, nil
}

// FactoryReset wipes every configured data directory (quarantine staging/
// held, adapters, job status roots) back to empty. Database rows are left
// untouched — the appliance's SQL store is provisioned by its own
// migration step on next boot, outside this process's purview.
func (s *Service) FactoryReset(ctx context.Context, confirmation string) error {
	if confirmation != factoryResetConfirmation {
		return apierr.InvalidInput("confirmation", fmt.Sprintf("must be exactly %q", factoryResetConfirmation))
	}
	dirs := []string{
		s.cfg.Quarantine.UploadDir,
		s.cfg.Quarantine.HeldDir,
		s.cfg.AdapterMgr.AdaptersDir,
		s.cfg.JobRunner.StatusDirRoot,
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.RemoveAll(d); err != nil {
			return apierr.Internal(fmt.Sprintf("failed to clear %s", d), err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return apierr.Internal(fmt.Sprintf("failed to recreate %s", d), err)
		}
	}
	if s.log != nil {
		s.log.Warn("factory reset completed: quarantine, adapter and job data directories cleared")
	}
	return nil
}

// Bundle writes a gzipped tar of the appliance's config directory and the
// job-status tree to path, for attaching to a support ticket.
func (s *Service) Bundle(ctx context.Context, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return apierr.Internal("failed to create bundle file", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, root := range []string{s.cfg.JobRunner.StatusDirRoot, filepath.Dir(s.cfg.Update.TrustedKeyring)} {
		if root == "" {
			continue
		}
		if err := addTree(tw, root); err != nil && !os.IsNotExist(err) {
			return apierr.Internal("failed to add "+root+" to bundle", err)
		}
	}
	return nil
}

func addTree(tw *tar.Writer, root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(filepath.Dir(root), p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// BackupConfirmationOK and RestoreConfirmationOK let handlers validate the
// literal confirmation strings for the backup/restore endpoints, which
// otherwise delegate entirely to the update engine's own backup/rollback
// machinery (internal/updateengine.Engine.Rollback covers restore; a fresh
// on-demand backup reuses the same BackupDir the apply path writes to).
func BackupConfirmationOK(s string) bool  { return s == backupConfirmation }
func RestoreConfirmationOK(s string) bool { return s == restoreConfirmation }
