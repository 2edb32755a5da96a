// Package sqlite implements storage.Store and storage.GlobalStore on top of
// SQLite, using AFTER triggers (see triggers.go) to own event emission and
// the cascades named in spec.md §4.1, the same way the teacher keeps
// invariant enforcement close to the data rather than scattered across
// call sites.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/speakeasy-api/granary/internal/storage"
)

// Store is the workspace-scoped SQLite implementation of storage.Store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the workspace database at path and
// brings it up to the current schema.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error          { return s.db.Close() }
func (s *Store) Path() string          { return s.path }
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// withEditContext begins a transaction, stamps the edit_context singleton
// row so triggers firing inside fn attribute their events correctly, runs
// fn, and commits. Every mutating Store method goes through this so the
// actor/session_id visible to triggers always matches the caller, even
// under concurrent writers (the row update is part of the same tx).
func (s *Store) withEditContext(ctx context.Context, ec storage.EditContext, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(storage.KindIo, "begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE edit_context SET actor = ?, session_id = ? WHERE id = 1`,
		nullableString(ec.Actor), nullableString(ec.SessionID)); err != nil {
		return storage.Wrap(storage.KindIo, "stamp edit context", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storage.Wrap(storage.KindIo, "commit transaction", err)
	}
	committed = true
	return nil
}

// RunInTransaction exposes a narrower Transaction surface for multi-step
// workflows (checkpoint restore touching session, scope, and tasks at once).
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(storage.KindIo, "begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	wrapper := &txn{tx: sqlTx}
	if err := fn(wrapper); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storage.Wrap(storage.KindIo, "commit transaction", err)
	}
	committed = true
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableStringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
