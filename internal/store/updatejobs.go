package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

func (s *Store) CreateUpdateJob(ctx context.Context, j domain.UpdateJob) (domain.UpdateJob, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	stepsBlob, err := marshalSteps(j.Steps)
	if err != nil {
		return domain.UpdateJob{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO update_jobs (id, status, bundle_version, from_version, bundle_path, progress_pct,
			current_step, steps_blob, log_blob, changelog, components_blob, backup_path, error,
			created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, j.ID, j.Status, j.BundleVersion, j.FromVersion, nullString(j.BundlePath), j.ProgressPct,
		nullString(j.CurrentStep), stepsBlob, orEmptyArray(j.LogBlob), nullString(j.Changelog),
		orEmptyObject(j.ComponentsBlob), nullString(j.BackupPath), nullString(j.Error),
		j.CreatedAt, j.UpdatedAt, toNullTimePtr(j.CompletedAt))
	if err != nil {
		return domain.UpdateJob{}, err
	}
	return j, nil
}

// UpdateUpdateJobProgress persists step list, log and progress after each
// step of the apply sequence runs.
func (s *Store) UpdateUpdateJobProgress(ctx context.Context, id string, status domain.UpdateJobStatus, progressPct int, currentStep string, steps []domain.UpdateStep, logBlob json.RawMessage) error {
	stepsBlob, err := marshalSteps(steps)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE update_jobs SET status = $2, progress_pct = $3, current_step = $4, steps_blob = $5,
			log_blob = $6, updated_at = $7
		WHERE id = $1
	`, id, status, progressPct, nullString(currentStep), stepsBlob, orEmptyArray(logBlob), time.Now().UTC())
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

// FinishUpdateJob records the terminal outcome — completed, failed or
// rolled_back — along with the backup path a rollback would restore from.
func (s *Store) FinishUpdateJob(ctx context.Context, id string, status domain.UpdateJobStatus, errMsg, backupPath string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE update_jobs SET status = $2, error = $3, backup_path = COALESCE(NULLIF($4, ''), backup_path),
			updated_at = $5, completed_at = $5
		WHERE id = $1
	`, id, status, nullString(errMsg), backupPath, time.Now().UTC())
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) GetUpdateJob(ctx context.Context, id string) (domain.UpdateJob, error) {
	return scanUpdateJob(s.db.QueryRowContext(ctx, updateJobSelect+` WHERE id = $1`, id))
}

func (s *Store) ListUpdateJobs(ctx context.Context, offset, limit int) ([]domain.UpdateJob, error) {
	rows, err := s.db.QueryContext(ctx, updateJobSelect+` ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UpdateJob
	for rows.Next() {
		j, err := scanUpdateJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const updateJobSelect = `
	SELECT id, status, bundle_version, from_version, bundle_path, progress_pct, current_step,
		steps_blob, log_blob, changelog, components_blob, backup_path, error, created_at, updated_at, completed_at
	FROM update_jobs`

func scanUpdateJob(row rowScanner) (domain.UpdateJob, error) {
	var j domain.UpdateJob
	var bundlePath, currentStep, changelog, backupPath, errMsg sql.NullString
	var stepsBlob, logBlob, componentsBlob []byte
	var completedAt sql.NullTime

	if err := row.Scan(&j.ID, &j.Status, &j.BundleVersion, &j.FromVersion, &bundlePath, &j.ProgressPct,
		&currentStep, &stepsBlob, &logBlob, &changelog, &componentsBlob, &backupPath, &errMsg,
		&j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return domain.UpdateJob{}, err
	}
	j.BundlePath = bundlePath.String
	j.CurrentStep = currentStep.String
	j.Changelog = changelog.String
	j.BackupPath = backupPath.String
	j.Error = errMsg.String
	j.ComponentsBlob = componentsBlob
	j.LogBlob = logBlob
	j.CompletedAt = nullTimeToPtr(completedAt)
	if len(stepsBlob) > 0 {
		if err := json.Unmarshal(stepsBlob, &j.Steps); err != nil {
			return domain.UpdateJob{}, err
		}
	}
	return j, nil
}

func marshalSteps(steps []domain.UpdateStep) (json.RawMessage, error) {
	if steps == nil {
		return json.RawMessage(`[]`), nil
	}
	return json.Marshal(steps)
}

func orEmptyArray(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`[]`)
	}
	return b
}
