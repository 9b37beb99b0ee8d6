// Package store is the control plane's sole persistence layer. Spec §3
// states it plainly: "the relational store exclusively owns all of the
// above. Worker processes never write to it; they write only to their own
// status directory. The supervisor is the sole bridge." Every repository in
// this package is a thin raw-SQL wrapper over *sql.DB — no ORM, parameterized
// queries throughout, grounded on internal/app/storage/postgres's CRUD style.
package store

import (
	"context"
	"database/sql"

	"github.com/vault-ai/control-plane/internal/platform/database"
	"github.com/vault-ai/control-plane/internal/platform/migrations"
)

// Store wraps a *sql.DB with one repository method set per data-model
// entity. It has no state of its own beyond the connection.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and wraps the resulting handle in a Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-open *sql.DB. Used by callers that manage their own
// connection pool (and by tests, which pass a sqlmock handle).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need it directly (health
// checks, metrics).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded schema. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	return migrations.Apply(ctx, s.db)
}
