package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

func (s *Store) CreateTrainingJob(ctx context.Context, j domain.TrainingJob) (domain.TrainingJob, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	configBlob := orEmptyObject(j.ConfigBlob)
	metricsBlob := orEmptyObject(j.MetricsBlob)
	resourceBlob := orEmptyObject(j.ResourceBlob)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_jobs (id, name, status, progress, model, dataset, config_blob, metrics_blob,
			resource_blob, error, adapter_type, adapter_config_blob, adapter_id, created_at, updated_at, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, j.ID, j.Name, j.Status, j.Progress, j.Model, j.Dataset, configBlob, metricsBlob, resourceBlob,
		nullString(j.Error), j.AdapterType, nullJSON(j.AdapterConfigBlob), nullStringPtr(j.AdapterID),
		j.CreatedAt, j.UpdatedAt, toNullTimePtr(j.StartedAt), toNullTimePtr(j.CompletedAt))
	if err != nil {
		return domain.TrainingJob{}, err
	}
	return j, nil
}

// UpdateTrainingJobStatus transitions status, optionally updating progress,
// error text and the started/completed timestamps in the same statement —
// this is the update the job runner calls on every status-file poll.
func (s *Store) UpdateTrainingJobStatus(ctx context.Context, id string, status domain.TrainingJobStatus, progress float64, errMsg string, startedAt, completedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE training_jobs SET status = $2, progress = $3, error = $4, updated_at = $5,
			started_at = COALESCE(started_at, $6), completed_at = $7
		WHERE id = $1
	`, id, status, progress, nullString(errMsg), time.Now().UTC(), toNullTimePtr(startedAt), toNullTimePtr(completedAt))
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) UpdateTrainingJobMetrics(ctx context.Context, id string, metricsBlob, resourceBlob json.RawMessage) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE training_jobs SET metrics_blob = $2, resource_blob = $3, updated_at = $4 WHERE id = $1
	`, id, orEmptyObject(metricsBlob), orEmptyObject(resourceBlob), time.Now().UTC())
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) SetTrainingJobAdapter(ctx context.Context, id, adapterID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE training_jobs SET adapter_id = $2, updated_at = $3 WHERE id = $1`,
		id, adapterID, time.Now().UTC())
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) GetTrainingJob(ctx context.Context, id string) (domain.TrainingJob, error) {
	return scanTrainingJob(s.db.QueryRowContext(ctx, trainingJobSelect+` WHERE id = $1`, id))
}

func (s *Store) ListTrainingJobs(ctx context.Context, offset, limit int) ([]domain.TrainingJob, error) {
	rows, err := s.db.QueryContext(ctx, trainingJobSelect+` ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrainingJob
	for rows.Next() {
		j, err := scanTrainingJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListActiveTrainingJobs returns jobs in queued/running/paused state, oldest
// first. No startup path calls it.
func (s *Store) ListActiveTrainingJobs(ctx context.Context) ([]domain.TrainingJob, error) {
	rows, err := s.db.QueryContext(ctx, trainingJobSelect+` WHERE status IN ('queued','running','paused') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrainingJob
	for rows.Next() {
		j, err := scanTrainingJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteTrainingJob removes a training job row outright. Callers are
// responsible for rejecting deletion of a non-terminal job before calling
// this — the store layer only deletes what it's told to.
func (s *Store) DeleteTrainingJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM training_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

const trainingJobSelect = `
	SELECT id, name, status, progress, model, dataset, config_blob, metrics_blob, resource_blob,
		error, adapter_type, adapter_config_blob, adapter_id, created_at, updated_at, started_at, completed_at
	FROM training_jobs`

func scanTrainingJob(row rowScanner) (domain.TrainingJob, error) {
	var j domain.TrainingJob
	var configBlob, metricsBlob, resourceBlob, adapterConfigBlob []byte
	var errMsg sql.NullString
	var adapterID sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&j.ID, &j.Name, &j.Status, &j.Progress, &j.Model, &j.Dataset,
		&configBlob, &metricsBlob, &resourceBlob, &errMsg, &j.AdapterType, &adapterConfigBlob,
		&adapterID, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt); err != nil {
		return domain.TrainingJob{}, err
	}
	j.ConfigBlob = configBlob
	j.MetricsBlob = metricsBlob
	j.ResourceBlob = resourceBlob
	if len(adapterConfigBlob) > 0 {
		j.AdapterConfigBlob = adapterConfigBlob
	}
	j.Error = errMsg.String
	if adapterID.Valid {
		v := adapterID.String
		j.AdapterID = &v
	}
	j.StartedAt = nullTimeToPtr(startedAt)
	j.CompletedAt = nullTimeToPtr(completedAt)
	return j, nil
}

func orEmptyObject(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return b
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
