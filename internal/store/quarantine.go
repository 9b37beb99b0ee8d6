package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

func (s *Store) CreateQuarantineJob(ctx context.Context, j domain.QuarantineJob) (domain.QuarantineJob, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine_jobs (id, status, total_files, files_completed, files_flagged, files_clean,
			source_type, submitted_by, created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, j.ID, j.Status, j.TotalFiles, j.FilesCompleted, j.FilesFlagged, j.FilesClean, j.SourceType,
		nullStringPtr(j.SubmittedBy), j.CreatedAt, j.UpdatedAt, toNullTimePtr(j.CompletedAt))
	if err != nil {
		return domain.QuarantineJob{}, err
	}
	return j, nil
}

func (s *Store) GetQuarantineJob(ctx context.Context, id string) (domain.QuarantineJob, error) {
	return scanQuarantineJob(s.db.QueryRowContext(ctx, quarantineJobSelect+` WHERE id = $1`, id))
}

func (s *Store) ListQuarantineJobs(ctx context.Context, offset, limit int) ([]domain.QuarantineJob, error) {
	rows, err := s.db.QueryContext(ctx, quarantineJobSelect+` ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QuarantineJob
	for rows.Next() {
		j, err := scanQuarantineJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateQuarantineJobCounters recomputes the per-job tallies; called by the
// driver once every file of the job has been through the pipeline.
func (s *Store) UpdateQuarantineJobCounters(ctx context.Context, jobID string) error {
	var total, completed, flagged, clean int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine_files WHERE job_id = $1`, jobID).Scan(&total)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status NOT IN ('pending','scanning')),
			COUNT(*) FILTER (WHERE status IN ('held','rejected')),
			COUNT(*) FILTER (WHERE status IN ('clean','approved'))
		FROM quarantine_files WHERE job_id = $1
	`, jobID).Scan(&completed, &flagged, &clean)
	if err != nil {
		return err
	}

	status := domain.QuarantineJobScanning
	var completedAt any
	if completed == total && total > 0 {
		status = domain.QuarantineJobCompleted
		completedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE quarantine_jobs SET total_files = $2, files_completed = $3, files_flagged = $4,
			files_clean = $5, status = $6, updated_at = $7, completed_at = COALESCE(completed_at, $8)
		WHERE id = $1
	`, jobID, total, completed, flagged, clean, status, time.Now().UTC(), completedAt)
	return err
}

const quarantineJobSelect = `
	SELECT id, status, total_files, files_completed, files_flagged, files_clean, source_type,
		submitted_by, created_at, updated_at, completed_at
	FROM quarantine_jobs`

func scanQuarantineJob(row rowScanner) (domain.QuarantineJob, error) {
	var j domain.QuarantineJob
	var submittedBy sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Status, &j.TotalFiles, &j.FilesCompleted, &j.FilesFlagged, &j.FilesClean,
		&j.SourceType, &submittedBy, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return domain.QuarantineJob{}, err
	}
	if submittedBy.Valid {
		v := submittedBy.String
		j.SubmittedBy = &v
	}
	j.CompletedAt = nullTimeToPtr(completedAt)
	return j, nil
}

// QuarantineStats is the aggregate counter view GET /vault/quarantine/stats
// returns — per-status file counts across every job, not scoped to one.
type QuarantineStats struct {
	TotalFiles    int `json:"total_files"`
	PendingFiles  int `json:"pending_files"`
	ScanningFiles int `json:"scanning_files"`
	CleanFiles    int `json:"clean_files"`
	HeldFiles     int `json:"held_files"`
	ApprovedFiles int `json:"approved_files"`
	RejectedFiles int `json:"rejected_files"`
}

func (s *Store) GetQuarantineStats(ctx context.Context) (QuarantineStats, error) {
	var st QuarantineStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'scanning'),
			COUNT(*) FILTER (WHERE status = 'clean'),
			COUNT(*) FILTER (WHERE status = 'held'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM quarantine_files
	`).Scan(&st.TotalFiles, &st.PendingFiles, &st.ScanningFiles, &st.CleanFiles,
		&st.HeldFiles, &st.ApprovedFiles, &st.RejectedFiles)
	if err != nil {
		return QuarantineStats{}, err
	}
	return st, nil
}

// --- QuarantineFile ---------------------------------------------------------

func (s *Store) CreateQuarantineFile(ctx context.Context, f domain.QuarantineFile) (domain.QuarantineFile, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	findingsJSON, err := f.FindingsJSON()
	if err != nil {
		return domain.QuarantineFile{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quarantine_files (id, job_id, original_filename, file_size, mime_type, sha256_hash,
			status, current_stage, risk_severity, findings_blob, quarantine_path, sanitized_path,
			destination_path, review_reason, reviewed_by, reviewed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, f.ID, f.JobID, f.OriginalFilename, f.FileSize, nullString(f.MimeType), nullString(f.SHA256Hash),
		f.Status, nullString(f.CurrentStage), f.RiskSeverity, findingsJSON,
		nullString(f.Paths.Quarantine), nullString(f.Paths.Sanitized), nullString(f.Paths.Destination),
		nullString(f.ReviewReason), nullStringPtr(f.ReviewedBy), toNullTimePtr(f.ReviewedAt), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return domain.QuarantineFile{}, err
	}
	return f, nil
}

func (s *Store) GetQuarantineFile(ctx context.Context, id string) (domain.QuarantineFile, error) {
	return scanQuarantineFile(s.db.QueryRowContext(ctx, quarantineFileSelect+` WHERE id = $1`, id))
}

func (s *Store) ListQuarantineFilesByJob(ctx context.Context, jobID string) ([]domain.QuarantineFile, error) {
	rows, err := s.db.QueryContext(ctx, quarantineFileSelect+` WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QuarantineFile
	for rows.Next() {
		f, err := scanQuarantineFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListQuarantineFilesByStatus returns every file in one status, oldest
// first; the review queue uses it for held files awaiting a human decision.
func (s *Store) ListQuarantineFilesByStatus(ctx context.Context, status domain.QuarantineFileStatus) ([]domain.QuarantineFile, error) {
	rows, err := s.db.QueryContext(ctx, quarantineFileSelect+` WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QuarantineFile
	for rows.Next() {
		f, err := scanQuarantineFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateQuarantineFileProgress persists the current stage, status and
// accumulated findings after each stage in the pipeline runs.
func (s *Store) UpdateQuarantineFileProgress(ctx context.Context, f domain.QuarantineFile) error {
	findingsJSON, err := f.FindingsJSON()
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE quarantine_files SET status = $2, current_stage = $3, risk_severity = $4, findings_blob = $5,
			sha256_hash = $6, mime_type = $7, sanitized_path = $8, updated_at = $9
		WHERE id = $1
	`, f.ID, f.Status, nullString(f.CurrentStage), f.RiskSeverity, findingsJSON,
		nullString(f.SHA256Hash), nullString(f.MimeType), nullString(f.Paths.Sanitized), time.Now().UTC())
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

// ReviewQuarantineFile records a human decision on a held file.
func (s *Store) ReviewQuarantineFile(ctx context.Context, id string, status domain.QuarantineFileStatus, reason, reviewedBy, destinationPath string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quarantine_files SET status = $2, review_reason = $3, reviewed_by = $4, reviewed_at = $5,
			destination_path = COALESCE(NULLIF($6, ''), destination_path), updated_at = $5
		WHERE id = $1
	`, id, status, nullString(reason), nullString(reviewedBy), time.Now().UTC(), destinationPath)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

const quarantineFileSelect = `
	SELECT id, job_id, original_filename, file_size, mime_type, sha256_hash, status, current_stage,
		risk_severity, findings_blob, quarantine_path, sanitized_path, destination_path, review_reason,
		reviewed_by, reviewed_at, created_at, updated_at
	FROM quarantine_files`

func scanQuarantineFile(row rowScanner) (domain.QuarantineFile, error) {
	var f domain.QuarantineFile
	var mimeType, sha256Hash, currentStage, reviewReason, reviewedBy sql.NullString
	var quarantinePath, sanitizedPath, destinationPath sql.NullString
	var findingsBlob []byte
	var reviewedAt sql.NullTime

	if err := row.Scan(&f.ID, &f.JobID, &f.OriginalFilename, &f.FileSize, &mimeType, &sha256Hash,
		&f.Status, &currentStage, &f.RiskSeverity, &findingsBlob, &quarantinePath, &sanitizedPath,
		&destinationPath, &reviewReason, &reviewedBy, &reviewedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return domain.QuarantineFile{}, err
	}
	f.MimeType = mimeType.String
	f.SHA256Hash = sha256Hash.String
	f.CurrentStage = currentStage.String
	f.ReviewReason = reviewReason.String
	if reviewedBy.Valid {
		v := reviewedBy.String
		f.ReviewedBy = &v
	}
	f.Paths = domain.QuarantinePaths{
		Quarantine:  quarantinePath.String,
		Sanitized:   sanitizedPath.String,
		Destination: destinationPath.String,
	}
	f.ReviewedAt = nullTimeToPtr(reviewedAt)
	if len(findingsBlob) > 0 {
		if err := json.Unmarshal(findingsBlob, &f.Findings); err != nil {
			return domain.QuarantineFile{}, err
		}
	}
	return f, nil
}
