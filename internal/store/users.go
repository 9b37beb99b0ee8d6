package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

// CreateUser inserts a new user, generating an id if one wasn't set.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Name, u.Email, u.Role, u.Status, u.AuthSource,
		nullString(u.CredentialHash), nullString(u.DirectoryDN), u.CreatedAt, toNullTimePtr(u.LastActiveAt))
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.scanUserRow(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active_at
		FROM users WHERE id = $1
	`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.scanUserRow(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active_at
		FROM users WHERE email = $1
	`, email))
}

// GetUserByDirectoryDN looks up a user previously JIT-provisioned from a
// directory bind.
func (s *Store) GetUserByDirectoryDN(ctx context.Context, dn string) (domain.User, error) {
	return s.scanUserRow(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active_at
		FROM users WHERE directory_dn = $1
	`, dn))
}

// GetLocalUserByLogin looks up a local, active account by email or name —
// the login form accepts either, matching _authenticate_local's
// (User.email == username) | (User.name == username) predicate.
func (s *Store) GetLocalUserByLogin(ctx context.Context, login string) (domain.User, error) {
	return s.scanUserRow(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active_at
		FROM users
		WHERE (email = $1 OR name = $1) AND auth_source = $2 AND status = $3 AND credential_hash IS NOT NULL
	`, login, domain.AuthSourceLocal, domain.UserActive))
}

func (s *Store) UpdateUser(ctx context.Context, u domain.User) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = $2, email = $3, role = $4, status = $5, auth_source = $6,
			credential_hash = $7, directory_dn = $8, last_active_at = $9
		WHERE id = $1
	`, u.ID, u.Name, u.Email, u.Role, u.Status, u.AuthSource,
		nullString(u.CredentialHash), nullString(u.DirectoryDN), toNullTimePtr(u.LastActiveAt))
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

// TouchLastActive sets last_active_at to now, called on every authenticated
// request.
func (s *Store) TouchLastActive(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_active_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active_at
		FROM users ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUserRow(row *sql.Row) (domain.User, error) {
	return scanUser(row)
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var credentialHash, directoryDN sql.NullString
	var lastActive sql.NullTime
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Status, &u.AuthSource,
		&credentialHash, &directoryDN, &u.CreatedAt, &lastActive); err != nil {
		return domain.User{}, err
	}
	u.CredentialHash = credentialHash.String
	u.DirectoryDN = directoryDN.String
	if lastActive.Valid {
		t := lastActive.Time
		u.LastActiveAt = &t
	}
	return u, nil
}

var ErrNotFound = errors.New("store: not found")

func rowsAffectedOrNotFound(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimeToPtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
