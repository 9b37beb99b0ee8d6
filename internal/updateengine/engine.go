package updateengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

const (
	applyConfirmation    = "APPLY UPDATE"
	rollbackConfirmation = "ROLLBACK UPDATE"
)

// BundleInfo describes one bundle ScanForUpdates discovered on removable
// media, signature-checked but not yet applied.
type BundleInfo struct {
	Version              string          `json:"version"`
	Path                 string          `json:"path"`
	SignatureValid       bool            `json:"signature_valid"`
	SizeBytes            int64           `json:"size_bytes"`
	Changelog            string          `json:"changelog"`
	Components           map[string]bool `json:"components"`
	Compatible           bool            `json:"compatible"`
	MinCompatibleVersion string          `json:"min_compatible_version"`
	CreatedAt            string          `json:"created_at"`
}

// Status is the engine's answer to "what version are we on, and can we roll
// back".
type Status struct {
	CurrentVersion    string
	LastUpdateAt      *time.Time
	LastUpdateVersion string
	RollbackAvailable bool
	RollbackVersion   string
	UpdateCount       int
}

// Engine drives bundle discovery, verification, apply and rollback. Exactly
// one apply-or-rollback job may be in flight at a time, enforced by mu.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	verifier *Verifier
	log      *logger.Logger

	mu          sync.Mutex
	running     bool
	lastScanned []BundleInfo

	// restartFunc is invoked after a successful apply to hand control back
	// to the process supervisor. Overridable in tests; defaults to a no-op
	// that only logs, since the real restart is the caller's systemd unit
	// restarting the process once this call returns.
	restartFunc func()
}

func New(cfg *config.Config, st *store.Store, log *logger.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       st,
		verifier:    NewVerifier(cfg.Update.TrustedKeyring),
		log:         log,
		restartFunc: func() {},
	}
}

// GetStatus reports the installed version and rollback eligibility, grounded
// on the most recent completed job among the latest 100 in history.
func (e *Engine) GetStatus(ctx context.Context) (Status, error) {
	st := Status{CurrentVersion: e.currentVersion()}

	jobs, err := e.store.ListUpdateJobs(ctx, 0, 100)
	if err != nil {
		return Status{}, err
	}
	st.UpdateCount = len(jobs)

	for _, j := range jobs {
		if j.Status == domain.UpdateJobCompleted {
			st.LastUpdateAt = j.CompletedAt
			st.LastUpdateVersion = j.BundleVersion
			if j.BackupPath != "" {
				st.RollbackAvailable = true
				st.RollbackVersion = j.FromVersion
			}
			break
		}
	}
	return st, nil
}

func (e *Engine) currentVersion() string {
	return readVersionMarker(e.cfg.Update.VersionFile, e.cfg.Update.CurrentVersion)
}

// ScanForUpdates walks the configured removable-media mount points for
// vault-update-*.tar bundles, parses each manifest and checks its detached
// signature. Results are cached for GetPending.
func (e *Engine) ScanForUpdates(ctx context.Context) ([]BundleInfo, error) {
	var found []BundleInfo

	dirs := append([]string{e.cfg.Update.BundleDir}, e.cfg.Update.ScanDirs...)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // unmounted media or missing directory is not an error
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), "vault-update-") || !strings.HasSuffix(entry.Name(), ".tar") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := e.inspectBundle(path)
			if err != nil {
				e.log.WithField("path", path).WithError(err).Warn("updateengine: skipping unreadable bundle")
				continue
			}
			found = append(found, info)
		}
	}

	e.mu.Lock()
	e.lastScanned = found
	e.mu.Unlock()
	return found, nil
}

func (e *Engine) inspectBundle(path string) (BundleInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return BundleInfo{}, err
	}

	bundle := NewUpdateBundle(path)
	manifest, err := bundle.ParseManifest()
	if err != nil {
		return BundleInfo{}, err
	}

	sigValid := false
	if e.verifier.IsAvailable() {
		sigPath := path + ".sig"
		if err := e.verifier.Verify(path, sigPath); err == nil {
			sigValid = true
		}
	}

	return BundleInfo{
		Version:              manifest.Version,
		Path:                 path,
		SignatureValid:       sigValid,
		SizeBytes:            stat.Size(),
		Changelog:            manifest.Changelog,
		Components:           manifest.Components,
		Compatible:           compatible(manifest.MinCompatibleVersion, e.currentVersion()),
		MinCompatibleVersion: manifest.MinCompatibleVersion,
		CreatedAt:            manifest.CreatedAt,
	}, nil
}

// compatible is a best-effort dotted-version compare: the running version
// must be >= the bundle's declared minimum.
func compatible(minVersion, current string) bool {
	return compareVersions(current, minVersion) >= 0
}

func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			fmt.Sscanf(as[i], "%d", &av)
		}
		if i < len(bs) {
			fmt.Sscanf(bs[i], "%d", &bv)
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

// GetPending returns the most recently scanned bundle, if any.
func (e *Engine) GetPending(ctx context.Context) (*BundleInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.lastScanned) == 0 {
		return nil, nil
	}
	b := e.lastScanned[0]
	return &b, nil
}

// ApplyUpdate verifies bundlePath end to end and, if every check passes,
// launches the apply sequence in a background goroutine. Returns the job
// immediately with status "running" so the caller can poll GetProgress.
func (e *Engine) ApplyUpdate(ctx context.Context, bundlePath, confirmation string, createBackup bool, backupPassphrase, submittedBy string) (domain.UpdateJob, error) {
	if confirmation != applyConfirmation {
		return domain.UpdateJob{}, apierr.InvalidInput("confirmation", fmt.Sprintf("must be exactly %q", applyConfirmation))
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return domain.UpdateJob{}, apierr.Conflict("an update or rollback is already in progress")
	}
	e.running = true
	e.mu.Unlock()

	bundle := NewUpdateBundle(bundlePath)
	manifest, err := bundle.ParseManifest()
	if err != nil {
		e.clearRunning()
		return domain.UpdateJob{}, err
	}

	componentsBlob, err := json.Marshal(manifest.Components)
	if err != nil {
		e.clearRunning()
		return domain.UpdateJob{}, err
	}

	job, err := e.store.CreateUpdateJob(ctx, domain.UpdateJob{
		Status:         domain.UpdateJobRunning,
		BundleVersion:  manifest.Version,
		FromVersion:    e.currentVersion(),
		BundlePath:     bundlePath,
		Changelog:      manifest.Changelog,
		ComponentsBlob: componentsBlob,
		Steps:          buildApplySteps(manifest),
	})
	if err != nil {
		e.clearRunning()
		return domain.UpdateJob{}, err
	}

	go e.runApply(context.Background(), job.ID, bundle, manifest, createBackup, backupPassphrase)

	details, _ := json.Marshal(map[string]any{"job_id": job.ID, "bundle_version": manifest.Version, "create_backup": createBackup})
	_, _ = e.store.AppendAuditLog(ctx, domain.AuditLogEntry{
		Action:        "update_apply_started",
		UserKeyPrefix: submittedBy,
		Details:       string(details),
	})

	return job, nil
}

func buildApplySteps(m *Manifest) []domain.UpdateStep {
	steps := []domain.UpdateStep{
		{Name: "verify_signature", Status: "pending"},
		{Name: "verify_checksums", Status: "pending"},
		{Name: "backup", Status: "pending"},
	}
	for _, name := range componentOrder {
		status := "pending"
		if !m.Components[name] {
			status = "skipped"
		}
		steps = append(steps, domain.UpdateStep{Name: "apply_" + name, Status: status})
	}
	steps = append(steps, domain.UpdateStep{Name: "finalize", Status: "pending"})
	return steps
}

// runApply drives the step sequence, persisting progress to the UpdateJob
// row after every step so GetProgress always reflects the latest state.
func (e *Engine) runApply(ctx context.Context, jobID string, bundle *UpdateBundle, manifest *Manifest, createBackup bool, backupPassphrase string) {
	defer e.clearRunning()

	var logEntries []string
	steps := buildApplySteps(manifest)
	appendLog := func(msg string) {
		logEntries = append(logEntries, fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), msg))
	}
	persist := func(stepIdx int, status domain.UpdateJobStatus) {
		pct := 0
		if len(steps) > 0 {
			pct = ((stepIdx + 1) * 100) / len(steps)
		}
		current := ""
		if stepIdx >= 0 && stepIdx < len(steps) {
			current = steps[stepIdx].Name
		}
		logBlob, _ := json.Marshal(logEntries)
		_ = e.store.UpdateUpdateJobProgress(ctx, jobID, status, pct, current, steps, logBlob)
	}
	fail := func(stepIdx int, err error) {
		steps[stepIdx].Status = "failed"
		steps[stepIdx].Error = err.Error()
		appendLog(fmt.Sprintf("%s failed: %v", steps[stepIdx].Name, err))
		persist(stepIdx, domain.UpdateJobFailed)
		_ = e.store.FinishUpdateJob(ctx, jobID, domain.UpdateJobFailed, err.Error(), "")
	}

	extractDir, err := os.MkdirTemp("", "vault-update-extract-*")
	if err != nil {
		fail(0, err)
		return
	}
	defer os.RemoveAll(extractDir)

	// Step: verify_signature
	sigPath := bundle.Path() + ".sig"
	if err := e.verifier.Verify(bundle.Path(), sigPath); err != nil {
		fail(0, err)
		return
	}
	steps[0].Status = "completed"
	appendLog("signature verified")
	persist(0, domain.UpdateJobRunning)

	if err := bundle.ExtractTo(extractDir); err != nil {
		fail(0, err)
		return
	}

	// Step: verify_checksums
	contentDir := extractDir
	errs, err := bundle.VerifyChecksums(contentDir)
	if err != nil {
		fail(1, err)
		return
	}
	if len(errs) > 0 {
		fail(1, apierr.InvalidInput("bundle", strings.Join(errs, "; ")))
		return
	}
	steps[1].Status = "completed"
	appendLog("checksums verified")
	persist(1, domain.UpdateJobRunning)

	// Step: backup
	var backupPath string
	if createBackup {
		backupPath, err = e.takeBackup(jobID, manifest, backupPassphrase)
		if err != nil {
			fail(2, err)
			return
		}
		appendLog(fmt.Sprintf("backup written to %s", backupPath))
	} else {
		steps[2].Status = "skipped"
	}
	if steps[2].Status != "skipped" {
		steps[2].Status = "completed"
	}
	persist(2, domain.UpdateJobRunning)

	// Steps: apply each component in fixed order.
	for i, name := range componentOrder {
		stepIdx := 3 + i
		if !manifest.Components[name] {
			continue
		}
		src := filepath.Join(contentDir, name)
		dst := e.cfg.Update.ComponentDirs[name]
		if dst == "" {
			fail(stepIdx, apierr.Internal(fmt.Sprintf("no live directory configured for component %q", name), nil))
			if backupPath != "" && createBackup {
				_ = e.restoreBackup(backupPath, backupPassphrase, manifest)
			}
			return
		}
		if err := replaceDirectory(src, dst); err != nil {
			fail(stepIdx, err)
			if backupPath != "" && createBackup {
				appendLog("restoring backup after failed component apply")
				_ = e.restoreBackup(backupPath, backupPassphrase, manifest)
			}
			return
		}
		steps[stepIdx].Status = "completed"
		appendLog(fmt.Sprintf("applied component %s", name))
		persist(stepIdx, domain.UpdateJobRunning)
	}

	// Step: finalize
	finalIdx := len(steps) - 1
	if err := writeVersionMarker(e.cfg.Update.VersionFile, manifest.Version); err != nil {
		fail(finalIdx, err)
		if backupPath != "" && createBackup {
			appendLog("restoring backup after failed finalize")
			_ = e.restoreBackup(backupPath, backupPassphrase, manifest)
		}
		return
	}
	steps[finalIdx].Status = "completed"
	appendLog("version marker updated; scheduling restart")
	persist(finalIdx, domain.UpdateJobCompleted)
	_ = e.store.FinishUpdateJob(ctx, jobID, domain.UpdateJobCompleted, "", backupPath)

	e.restartFunc()
}

func (e *Engine) clearRunning() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// replaceDirectory atomically swaps a live component directory for a staged
// one: the staged copy lands next to dst first, then dst is renamed aside
// and the new tree renamed into place.
func replaceDirectory(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil // manifest declared the component but shipped no files for it
	}
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	staged := dst + ".incoming"
	_ = os.RemoveAll(staged)
	if err := copyTree(src, staged); err != nil {
		os.RemoveAll(staged)
		return err
	}
	old := dst + ".previous"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, old); err != nil {
			os.RemoveAll(staged)
			return err
		}
	}
	if err := os.Rename(staged, dst); err != nil {
		return err
	}
	os.RemoveAll(old)
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// Rollback restores the most recent backup and records a new terminal job.
// passphrase must match whatever ApplyUpdate's create_backup step used to
// encrypt the snapshot, if any — there is deliberately no stored copy of it.
func (e *Engine) Rollback(ctx context.Context, confirmation, passphrase, submittedBy string) (domain.UpdateJob, error) {
	if confirmation != rollbackConfirmation {
		return domain.UpdateJob{}, apierr.InvalidInput("confirmation", fmt.Sprintf("must be exactly %q", rollbackConfirmation))
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return domain.UpdateJob{}, apierr.Conflict("an update or rollback is already in progress")
	}
	e.running = true
	e.mu.Unlock()
	defer e.clearRunning()

	jobs, err := e.store.ListUpdateJobs(ctx, 0, 100)
	if err != nil {
		return domain.UpdateJob{}, err
	}
	var last *domain.UpdateJob
	for i := range jobs {
		if jobs[i].Status == domain.UpdateJobCompleted && jobs[i].BackupPath != "" {
			last = &jobs[i]
			break
		}
	}
	if last == nil {
		return domain.UpdateJob{}, apierr.NotFound("backup", "no rollback snapshot available")
	}

	var manifest Manifest
	if len(last.ComponentsBlob) > 0 {
		_ = json.Unmarshal(last.ComponentsBlob, &manifest.Components)
	}
	if err := e.restoreBackup(last.BackupPath, passphrase, &manifest); err != nil {
		return domain.UpdateJob{}, err
	}
	if err := writeVersionMarker(e.cfg.Update.VersionFile, last.FromVersion); err != nil {
		return domain.UpdateJob{}, err
	}

	job, err := e.store.CreateUpdateJob(ctx, domain.UpdateJob{
		Status:        domain.UpdateJobRolledBack,
		BundleVersion: last.FromVersion,
		FromVersion:   last.BundleVersion,
		BackupPath:    last.BackupPath,
		Steps:         []domain.UpdateStep{{Name: "restore_backup", Status: "completed"}},
	})
	if err != nil {
		return domain.UpdateJob{}, err
	}

	details, _ := json.Marshal(map[string]any{"job_id": job.ID, "restored_version": last.FromVersion})
	_, _ = e.store.AppendAuditLog(ctx, domain.AuditLogEntry{
		Action:        "update_rollback",
		UserKeyPrefix: submittedBy,
		Details:       string(details),
	})
	return job, nil
}

// GetProgress returns the stored job as-is; the caller renders it into the
// spec's {status, progress_pct, current_step, steps, log_entries} shape.
func (e *Engine) GetProgress(ctx context.Context, jobID string) (domain.UpdateJob, error) {
	j, err := e.store.GetUpdateJob(ctx, jobID)
	if err != nil {
		return domain.UpdateJob{}, apierr.NotFound("update_job", jobID)
	}
	return j, nil
}

func (e *Engine) GetHistory(ctx context.Context, offset, limit int) ([]domain.UpdateJob, error) {
	return e.store.ListUpdateJobs(ctx, offset, limit)
}

// takeBackup snapshots every component directory the manifest is about to
// replace into a single tar under BackupDir, optionally symmetrically
// encrypted with passphrase via OpenPGP.
func (e *Engine) takeBackup(jobID string, manifest *Manifest, passphrase string) (string, error) {
	if err := os.MkdirAll(e.cfg.Update.BackupDir, 0o755); err != nil {
		return "", err
	}
	plainPath := filepath.Join(e.cfg.Update.BackupDir, jobID+".tar")
	if err := writeBackupTar(plainPath, e.cfg.Update.ComponentDirs, manifest.Components); err != nil {
		return "", err
	}
	if passphrase == "" {
		return plainPath, nil
	}

	encPath := plainPath + ".gpg"
	if err := encryptFile(plainPath, encPath, passphrase); err != nil {
		return "", err
	}
	os.Remove(plainPath)
	return encPath, nil
}

func (e *Engine) restoreBackup(backupPath, passphrase string, manifest *Manifest) error {
	src := backupPath
	if strings.HasSuffix(backupPath, ".gpg") {
		if passphrase == "" {
			return apierr.InvalidInput("backup_passphrase", "this backup is encrypted; a passphrase is required to restore it")
		}
		tmp, err := os.CreateTemp("", "vault-update-restore-*.tar")
		if err != nil {
			return err
		}
		tmp.Close()
		if err := decryptFile(backupPath, tmp.Name(), passphrase); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		defer os.Remove(tmp.Name())
		src = tmp.Name()
	}
	return restoreBackupTar(src, e.cfg.Update.ComponentDirs, manifest.Components)
}
