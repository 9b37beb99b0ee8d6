package store

import (
	"context"
	"database/sql"
	"time"
)

// GetSystemConfig implements config.SystemConfigReader, letting the config
// package hot-reload quarantine and directory settings from the same table
// the admin UI writes to, without importing this package.
func (s *Store) GetSystemConfig(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSystemConfig upserts a key's value. Rows materialize on first write —
// there is no seeding step.
func (s *Store) SetSystemConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	return err
}
