package quarantine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// UploadFile is one (filename, content) pair submitted for scanning.
type UploadFile struct {
	Filename string
	Content  []byte
}

// Driver runs the fixed six-stage pipeline over every file of a submitted
// job, sequentially per file, one background goroutine per job — the
// supervision shape mirrors the job runner's own "spawn, then let a
// goroutine carry it to a terminal state" pattern.
type Driver struct {
	cfg    *config.Config
	reader config.SystemConfigReader
	store  *store.Store
	log    *logger.Logger
	stages []Stage
}

func New(cfg *config.Config, reader config.SystemConfigReader, st *store.Store, log *logger.Logger) *Driver {
	d := &Driver{cfg: cfg, reader: reader, store: st, log: log}
	qcfg := cfg.Quarantine
	d.stages = []Stage{
		NewSniffStage(),
		NewAntivirusStage(),
		NewYARAStage(qcfg.YARARulesDir, qcfg.YARABinary),
		NewContentPolicyStage(),
		NewSanitizeStage(),
		NewHashBlacklistStage(),
	}
	return d
}

// SubmitScan lays files out under the staging directory keyed by job ID and
// file name, creates the job + per-file rows, and launches the
// background pipeline. Size/batch caps are enforced before any file is
// written to disk.
func (d *Driver) SubmitScan(ctx context.Context, files []UploadFile, sourceType domain.QuarantineSourceType, submittedBy *string) (domain.QuarantineJob, error) {
	qcfg := d.cfg.LoadQuarantineConfig(ctx, d.reader)

	if qcfg.MaxBatchFiles > 0 && len(files) > qcfg.MaxBatchFiles {
		return domain.QuarantineJob{}, apierr.InvalidInput("files", "batch exceeds the configured maximum file count")
	}
	for _, f := range files {
		if qcfg.MaxFileSize > 0 && int64(len(f.Content)) > qcfg.MaxFileSize {
			return domain.QuarantineJob{}, apierr.InvalidInput("files", fmt.Sprintf("file %q exceeds the configured maximum size", f.Filename))
		}
	}

	job, err := d.store.CreateQuarantineJob(ctx, domain.QuarantineJob{
		Status:      domain.QuarantineJobPending,
		TotalFiles:  len(files),
		SourceType:  sourceType,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		return domain.QuarantineJob{}, err
	}

	for _, f := range files {
		stagingPath, err := d.stagingPath(job.ID, f.Filename)
		if err != nil {
			return domain.QuarantineJob{}, err
		}
		if err := os.WriteFile(stagingPath, f.Content, 0o644); err != nil {
			return domain.QuarantineJob{}, err
		}
		sum := sha256.Sum256(f.Content)

		if _, err := d.store.CreateQuarantineFile(ctx, domain.QuarantineFile{
			JobID:            job.ID,
			OriginalFilename: f.Filename,
			FileSize:         int64(len(f.Content)),
			SHA256Hash:       hex.EncodeToString(sum[:]),
			Status:           domain.QuarantineFilePending,
			Paths:            domain.QuarantinePaths{Quarantine: stagingPath},
		}); err != nil {
			return domain.QuarantineJob{}, err
		}
	}

	go d.runPipeline(context.Background(), job.ID)
	return job, nil
}

// SubmitScanPath walks a filesystem path (a USB mount or an import
// directory) into the same upload shape SubmitScan expects.
func (d *Driver) SubmitScanPath(ctx context.Context, scanPath string, sourceType domain.QuarantineSourceType, submittedBy *string) (domain.QuarantineJob, error) {
	info, err := os.Stat(scanPath)
	if err != nil {
		return domain.QuarantineJob{}, apierr.NotFound("path", scanPath)
	}

	var files []UploadFile
	if info.IsDir() {
		err = filepath.Walk(scanPath, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			content, rerr := os.ReadFile(p)
			if rerr != nil {
				return rerr
			}
			rel, rerr := filepath.Rel(scanPath, p)
			if rerr != nil {
				rel = fi.Name()
			}
			files = append(files, UploadFile{Filename: rel, Content: content})
			return nil
		})
		if err != nil {
			return domain.QuarantineJob{}, err
		}
	} else {
		content, err := os.ReadFile(scanPath)
		if err != nil {
			return domain.QuarantineJob{}, err
		}
		files = []UploadFile{{Filename: filepath.Base(scanPath), Content: content}}
	}

	return d.SubmitScan(ctx, files, sourceType, submittedBy)
}

func (d *Driver) stagingPath(jobID, filename string) (string, error) {
	dir := filepath.Join(d.cfg.Quarantine.UploadDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(filename)), nil
}

// runPipeline drives every file of a job through the fixed stage order,
// then rolls the per-file outcomes into job-level counters. Runs in its
// own goroutine per submission, same as _run_pipeline's asyncio task.
func (d *Driver) runPipeline(ctx context.Context, jobID string) {
	qcfg := d.cfg.LoadQuarantineConfig(ctx, d.reader)

	files, err := d.store.ListQuarantineFilesByJob(ctx, jobID)
	if err != nil {
		d.log.WithField("job_id", jobID).WithError(err).Error("quarantine: failed to list files for job")
		return
	}

	for _, f := range files {
		d.scanOneFile(ctx, f, qcfg)
	}

	if err := d.store.UpdateQuarantineJobCounters(ctx, jobID); err != nil {
		d.log.WithField("job_id", jobID).WithError(err).Error("quarantine: failed to finalize job counters")
	}
}

// scanOneFile walks a single file through every stage sequentially, stops
// at the first failure, and persists the terminal status.
func (d *Driver) scanOneFile(ctx context.Context, f domain.QuarantineFile, qcfg config.QuarantineConfig) {
	defer func() {
		if r := recover(); r != nil {
			f.Status = domain.QuarantineFileHeld
			f.RiskSeverity = domain.SeverityHigh
			f.ReviewReason = "unexpected error during scanning"
			_ = d.store.UpdateQuarantineFileProgress(ctx, f)
		}
	}()

	if mime, err := DetectMIME(f.Paths.Quarantine); err == nil {
		f.MimeType = mime
	}

	for _, stage := range d.stages {
		f.CurrentStage = stage.Name()
		_ = d.store.UpdateQuarantineFileProgress(ctx, f)

		result, err := stage.Scan(ctx, f.Paths.Quarantine, f.OriginalFilename, qcfg)
		if err != nil {
			f.Status = domain.QuarantineFileHeld
			f.RiskSeverity = domain.SeverityHigh
			f.ReviewReason = "unexpected error during " + stage.Name() + " stage: " + err.Error()
			_ = d.store.UpdateQuarantineFileProgress(ctx, f)
			return
		}

		for _, finding := range result.Findings {
			f.AddFinding(finding)
		}
		if result.SanitizedPath != "" {
			f.Paths.Sanitized = result.SanitizedPath
		}

		if !result.Passed {
			f.Status = domain.QuarantineFileHeld
			f.ReviewReason = "failed " + stage.Name() + " stage"
			d.copyToHeld(f)
			_ = d.store.UpdateQuarantineFileProgress(ctx, f)
			return
		}
	}

	f.CurrentStage = "complete"
	if qcfg.AutoApproveClean {
		f.Status = domain.QuarantineFileClean
	} else {
		f.Status = domain.QuarantineFileHeld
		f.ReviewReason = "manual-review-required"
	}
	_ = d.store.UpdateQuarantineFileProgress(ctx, f)
}

func (d *Driver) copyToHeld(f domain.QuarantineFile) {
	src := f.Paths.Quarantine
	if _, err := os.Stat(src); err != nil {
		return
	}
	dir := d.cfg.Quarantine.HeldDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = copyFile(src, filepath.Join(dir, f.ID+"-"+filepath.Base(f.OriginalFilename)))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Review enforces the held -> {approved, rejected} transition. On approve,
// the sanitized copy (or, absent one, the original) is copied to the
// file's destination path and an audit entry is written; on reject every
// on-disk copy is deleted. Only a file currently in "held" may be
// reviewed.
func (d *Driver) Review(ctx context.Context, fileID string, approve bool, reason, reviewedBy string) (domain.QuarantineFile, error) {
	if reason == "" {
		return domain.QuarantineFile{}, apierr.InvalidInput("reason", "a non-empty reason is required")
	}

	f, err := d.store.GetQuarantineFile(ctx, fileID)
	if err != nil {
		return domain.QuarantineFile{}, apierr.NotFound("quarantine_file", fileID)
	}
	if f.Status != domain.QuarantineFileHeld {
		return domain.QuarantineFile{}, apierr.Conflict(fmt.Sprintf("file status is %q, not \"held\"", f.Status))
	}

	var newStatus domain.QuarantineFileStatus
	var destinationPath, action string
	if approve {
		newStatus = domain.QuarantineFileApproved
		action = "quarantine_approve"

		source := f.Paths.Sanitized
		if source == "" {
			source = f.Paths.Quarantine
		}
		destinationPath = filepath.Join(d.cfg.Quarantine.DestinationDir, f.ID+"-"+filepath.Base(f.OriginalFilename))
		if source != "" {
			if _, statErr := os.Stat(source); statErr == nil {
				if err := os.MkdirAll(d.cfg.Quarantine.DestinationDir, 0o755); err != nil {
					return domain.QuarantineFile{}, err
				}
				if err := copyFile(source, destinationPath); err != nil {
					return domain.QuarantineFile{}, err
				}
			}
		}
	} else {
		newStatus = domain.QuarantineFileRejected
		action = "quarantine_reject"
		heldCopy := filepath.Join(d.cfg.Quarantine.HeldDir, f.ID+"-"+filepath.Base(f.OriginalFilename))
		for _, p := range []string{f.Paths.Quarantine, f.Paths.Sanitized, heldCopy} {
			if p != "" {
				_ = os.Remove(p)
			}
		}
	}

	if err := d.store.ReviewQuarantineFile(ctx, fileID, newStatus, reason, reviewedBy, destinationPath); err != nil {
		return domain.QuarantineFile{}, err
	}

	details, _ := json.Marshal(map[string]any{
		"file_id": fileID, "filename": f.OriginalFilename, "reason": reason,
	})
	_, _ = d.store.AppendAuditLog(ctx, domain.AuditLogEntry{
		Action:        action,
		UserKeyPrefix: reviewedBy,
		Details:       string(details),
	})

	return d.store.GetQuarantineFile(ctx, fileID)
}
