package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/vault-ai/control-plane/internal/domain"
)

// CreateApiKey inserts a new key record. The caller has already hashed the
// raw key; the raw value never reaches this layer.
func (s *Store) CreateApiKey(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	var userID sql.NullString
	if k.UserID != nil {
		userID = sql.NullString{String: *k.UserID, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, label, scope, is_active, user_id, created_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, k.KeyHash, k.KeyPrefix, k.Label, k.Scope, k.IsActive, userID, k.CreatedAt, nullString(k.Notes)).Scan(&k.ID)
	if err != nil {
		return domain.ApiKey{}, err
	}
	return k, nil
}

// GetApiKeyByHash looks up an active key by its sha256 hash — the hot path
// hit on every inference request.
func (s *Store) GetApiKeyByHash(ctx context.Context, keyHash string) (domain.ApiKey, error) {
	return scanApiKeyRow(s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, key_prefix, label, scope, is_active, user_id, created_at, last_used_at, notes
		FROM api_keys WHERE key_hash = $1
	`, keyHash))
}

func (s *Store) GetApiKey(ctx context.Context, id int64) (domain.ApiKey, error) {
	return scanApiKeyRow(s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, key_prefix, label, scope, is_active, user_id, created_at, last_used_at, notes
		FROM api_keys WHERE id = $1
	`, id))
}

func (s *Store) ListApiKeys(ctx context.Context) ([]domain.ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_hash, key_prefix, label, scope, is_active, user_id, created_at, last_used_at, notes
		FROM api_keys ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) TouchApiKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

func (s *Store) RevokeApiKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func scanApiKeyRow(row *sql.Row) (domain.ApiKey, error) { return scanApiKey(row) }

func scanApiKey(row rowScanner) (domain.ApiKey, error) {
	var k domain.ApiKey
	var userID, notes sql.NullString
	var lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Label, &k.Scope, &k.IsActive,
		&userID, &k.CreatedAt, &lastUsed, &notes); err != nil {
		return domain.ApiKey{}, err
	}
	if userID.Valid {
		v := userID.String
		k.UserID = &v
	}
	k.Notes = notes.String
	k.LastUsedAt = nullTimeToPtr(lastUsed)
	return k, nil
}
