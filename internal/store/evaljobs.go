package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

func (s *Store) CreateEvalJob(ctx context.Context, j domain.EvalJob) (domain.EvalJob, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eval_jobs (id, name, status, progress, model_id, adapter_id, dataset_id, dataset_type,
			config_blob, results_blob, total_examples, examples_completed, created_at, updated_at, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, j.ID, j.Name, j.Status, j.Progress, j.ModelID, nullStringPtr(j.AdapterID), j.DatasetID, j.DatasetType,
		orEmptyObject(j.ConfigBlob), nullJSON(j.ResultsBlob), j.TotalExamples, j.ExamplesCompleted,
		j.CreatedAt, j.UpdatedAt, toNullTimePtr(j.StartedAt), toNullTimePtr(j.CompletedAt))
	if err != nil {
		return domain.EvalJob{}, err
	}
	return j, nil
}

// MarkEvalJobRunning transitions a queued job to running and sets
// started_at the first time this is called, mirroring the
// started_at = COALESCE(...) pattern UpdateTrainingJobStatus uses.
func (s *Store) MarkEvalJobRunning(ctx context.Context, id string, startedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE eval_jobs SET status = $2, started_at = COALESCE(started_at, $3), updated_at = $4
		WHERE id = $1
	`, id, domain.EvalRunning, startedAt, time.Now().UTC())
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) UpdateEvalJobProgress(ctx context.Context, id string, status domain.EvalJobStatus, examplesCompleted int, resultsBlob []byte, completedAt *time.Time) error {
	progress := float64(0)
	result, err := s.db.ExecContext(ctx, `
		UPDATE eval_jobs SET status = $2, examples_completed = $3, progress = CASE WHEN total_examples > 0
				THEN LEAST(100.0, 100.0 * $3 / total_examples) ELSE $4 END,
			results_blob = COALESCE($5, results_blob), updated_at = $6, completed_at = $7
		WHERE id = $1
	`, id, status, examplesCompleted, progress, nullJSON(resultsBlob), time.Now().UTC(), toNullTimePtr(completedAt))
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) GetEvalJob(ctx context.Context, id string) (domain.EvalJob, error) {
	return scanEvalJob(s.db.QueryRowContext(ctx, evalJobSelect+` WHERE id = $1`, id))
}

func (s *Store) ListEvalJobs(ctx context.Context, offset, limit int) ([]domain.EvalJob, error) {
	rows, err := s.db.QueryContext(ctx, evalJobSelect+` ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EvalJob
	for rows.Next() {
		j, err := scanEvalJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteEvalJob removes an eval job row outright. Callers reject deletion
// of a non-terminal job before calling this, same as DeleteTrainingJob.
func (s *Store) DeleteEvalJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM eval_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

const evalJobSelect = `
	SELECT id, name, status, progress, model_id, adapter_id, dataset_id, dataset_type, config_blob,
		results_blob, total_examples, examples_completed, created_at, updated_at, started_at, completed_at
	FROM eval_jobs`

func scanEvalJob(row rowScanner) (domain.EvalJob, error) {
	var j domain.EvalJob
	var adapterID sql.NullString
	var configBlob, resultsBlob []byte
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&j.ID, &j.Name, &j.Status, &j.Progress, &j.ModelID, &adapterID, &j.DatasetID,
		&j.DatasetType, &configBlob, &resultsBlob, &j.TotalExamples, &j.ExamplesCompleted,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt); err != nil {
		return domain.EvalJob{}, err
	}
	j.ConfigBlob = configBlob
	if len(resultsBlob) > 0 {
		j.ResultsBlob = resultsBlob
	}
	if adapterID.Valid {
		v := adapterID.String
		j.AdapterID = &v
	}
	j.StartedAt = nullTimeToPtr(startedAt)
	j.CompletedAt = nullTimeToPtr(completedAt)
	return j, nil
}
