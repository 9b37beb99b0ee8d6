package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/domain"
)

func (s *Store) CreateAdapter(ctx context.Context, a domain.Adapter) (domain.Adapter, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adapters (id, name, base_model, adapter_type, status, path, training_job_id,
			config_blob, metrics_blob, size_bytes, version, created_at, activated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, a.ID, a.Name, a.BaseModel, a.AdapterType, a.Status, a.Path, nullStringPtr(a.TrainingJobID),
		orEmptyObject(a.ConfigBlob), orEmptyObject(a.MetricsBlob), a.SizeBytes, a.Version,
		a.CreatedAt, toNullTimePtr(a.ActivatedAt))
	if err != nil {
		return domain.Adapter{}, err
	}
	return a, nil
}

func (s *Store) GetAdapter(ctx context.Context, id string) (domain.Adapter, error) {
	return scanAdapter(s.db.QueryRowContext(ctx, adapterSelect+` WHERE id = $1`, id))
}

func (s *Store) ListAdapters(ctx context.Context) ([]domain.Adapter, error) {
	rows, err := s.db.QueryContext(ctx, adapterSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Adapter
	for rows.Next() {
		a, err := scanAdapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActivateAdapter deactivates any existing active adapter sharing this
// adapter's name, then activates it, inside one transaction — the database
// enforces the "at most one active adapter per name" invariant via
// adapters_active_name_idx, so a concurrent activation of the same name
// fails at the unique-index check rather than leaving two actives.
func (s *Store) ActivateAdapter(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name string
	if err := tx.QueryRowContext(ctx, `SELECT name FROM adapters WHERE id = $1`, id).Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return apierr.NotFound("adapter", id)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE adapters SET status = $2 WHERE name = $1 AND status = $3
	`, name, domain.AdapterStatusReady, domain.AdapterStatusActive); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE adapters SET status = $2, activated_at = $3 WHERE id = $1
	`, id, domain.AdapterStatusActive, now)
	if err != nil {
		return err
	}
	if err := rowsAffectedOrNotFound(result); err != nil {
		return err
	}

	return tx.Commit()
}

// DeactivateAdapter reverses ActivateAdapter: status back to ready,
// activated_at cleared. A no-op target row (already ready) still succeeds —
// AdapterManager.Deactivate checks current status itself before calling
// this, so by the time it's reached it's always a real transition.
func (s *Store) DeactivateAdapter(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE adapters SET status = $2, activated_at = NULL WHERE id = $1
	`, id, domain.AdapterStatusReady)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) DeleteAdapter(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM adapters WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

const adapterSelect = `
	SELECT id, name, base_model, adapter_type, status, path, training_job_id, config_blob,
		metrics_blob, size_bytes, version, created_at, activated_at
	FROM adapters`

func scanAdapter(row rowScanner) (domain.Adapter, error) {
	var a domain.Adapter
	var trainingJobID sql.NullString
	var configBlob, metricsBlob []byte
	var activatedAt sql.NullTime

	if err := row.Scan(&a.ID, &a.Name, &a.BaseModel, &a.AdapterType, &a.Status, &a.Path,
		&trainingJobID, &configBlob, &metricsBlob, &a.SizeBytes, &a.Version, &a.CreatedAt, &activatedAt); err != nil {
		return domain.Adapter{}, err
	}
	a.ConfigBlob = configBlob
	a.MetricsBlob = metricsBlob
	if trainingJobID.Valid {
		v := trainingJobID.String
		a.TrainingJobID = &v
	}
	a.ActivatedAt = nullTimeToPtr(activatedAt)
	return a, nil
}
