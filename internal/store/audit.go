package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vault-ai/control-plane/internal/domain"
)

// AppendAuditLog inserts one append-only entry. There is no update or delete
// path for this table — corrections are new entries, never edits.
func (s *Store) AppendAuditLog(ctx context.Context, e domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log_entries (timestamp, action, method, path, user_key_prefix, model,
			status_code, latency_ms, tokens_input, tokens_output, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, e.Timestamp, e.Action, nullString(e.Method), nullString(e.Path), nullString(e.UserKeyPrefix),
		nullString(e.Model), nullIntPtr(e.StatusCode), nullInt64Ptr(e.LatencyMs),
		nullIntPtr(e.TokensInput), nullIntPtr(e.TokensOutput), nullString(e.Details)).Scan(&e.ID)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	return e, nil
}

// ListAuditLog returns entries in [since, until) ordered newest first,
// optionally filtered to one action, paginated.
func (s *Store) ListAuditLog(ctx context.Context, since, until time.Time, action string, offset, limit int) ([]domain.AuditLogEntry, error) {
	query := `
		SELECT id, timestamp, action, method, path, user_key_prefix, model, status_code, latency_ms,
			tokens_input, tokens_output, details
		FROM audit_log_entries WHERE timestamp >= $1 AND timestamp < $2`
	args := []any{since, until}
	if action != "" {
		query += ` AND action = $3`
		args = append(args, action)
	}
	query += fmt.Sprintf(` ORDER BY timestamp DESC OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeAuditLog deletes every entry timestamped before olderThan and
// reports how many rows were removed.
func (s *Store) PurgeAuditLog(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_log_entries WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanAuditLogEntry(row rowScanner) (domain.AuditLogEntry, error) {
	var e domain.AuditLogEntry
	var method, path, userKeyPrefix, model, details sql.NullString
	var statusCode, tokensInput, tokensOutput sql.NullInt64
	var latencyMs sql.NullInt64

	if err := row.Scan(&e.ID, &e.Timestamp, &e.Action, &method, &path, &userKeyPrefix, &model,
		&statusCode, &latencyMs, &tokensInput, &tokensOutput, &details); err != nil {
		return domain.AuditLogEntry{}, err
	}
	e.Method = method.String
	e.Path = path.String
	e.UserKeyPrefix = userKeyPrefix.String
	e.Model = model.String
	e.Details = details.String
	if statusCode.Valid {
		v := int(statusCode.Int64)
		e.StatusCode = &v
	}
	if latencyMs.Valid {
		v := latencyMs.Int64
		e.LatencyMs = &v
	}
	if tokensInput.Valid {
		v := int(tokensInput.Int64)
		e.TokensInput = &v
	}
	if tokensOutput.Valid {
		v := int(tokensOutput.Int64)
		e.TokensOutput = &v
	}
	return e, nil
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
