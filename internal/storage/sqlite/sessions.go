package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) StartSession(ctx context.Context, in types.CreateSession) (*types.Session, error) {
	now := time.Now().UTC()
	id := ids.GenerateSessionID(now)
	mode := in.Mode
	if mode == "" {
		mode = types.SessionModeExecute
	}

	var out *types.Session
	err := s.withEditContext(ctx, storage.EditContext{SessionID: id}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, name, owner, mode, variables, created_at, updated_at)
			VALUES (?, ?, ?, ?, '{}', ?, ?)
		`, id, nullableStringPtr2(in.Name), nullableStringPtr2(in.Owner), string(mode), now, now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert session", err)
		}
		out = &types.Session{ID: id, Name: in.Name, Owner: in.Owner, Mode: mode, Variables: map[string]string{}, CreatedAt: now, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const sessionSelectSQL = `
	SELECT id, name, owner, mode, focus_task_id, variables, created_at, updated_at, closed_at
	FROM sessions`

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelectSQL+` WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd types.UpdateSession, ec storage.EditContext) (*types.Session, error) {
	var out *types.Session
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		var err error
		out, err = updateSessionTx(ctx, tx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func updateSessionTx(ctx context.Context, tx *sql.Tx, id string, upd types.UpdateSession) (*types.Session, error) {
	current, err := scanSessionTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	name := current.Name
	if upd.Name != nil {
		name = upd.Name
	}
	owner := current.Owner
	if upd.Owner != nil {
		owner = upd.Owner
	}
	mode := current.Mode
	if upd.Mode != nil {
		mode = *upd.Mode
	}
	focusTaskID := current.FocusTaskID
	if upd.FocusTaskID != nil {
		focusTaskID = upd.FocusTaskID
	}
	variables := current.Variables
	if upd.Variables != nil {
		variables = upd.Variables
	}
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal session variables", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET name = ?, owner = ?, mode = ?, focus_task_id = ?, variables = ?, updated_at = ?
		WHERE id = ?
	`, nullableStringPtr2(name), nullableStringPtr2(owner), string(mode), nullableStringPtr2(focusTaskID), string(varsJSON), time.Now().UTC(), id)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "update session", err)
	}
	return scanSessionTx(ctx, tx, id)
}

func (s *Store) CloseSession(ctx context.Context, id string, ec storage.EditContext) (*types.Session, error) {
	var out *types.Session
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET closed_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
		if err != nil {
			return storage.Wrap(storage.KindIo, "close session", err)
		}
		out, err = scanSessionTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AddSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		return addSessionScopeTx(ctx, tx, sessionID, item)
	})
}

func addSessionScopeTx(ctx context.Context, tx *sql.Tx, sessionID string, item types.ScopeItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO session_scope (session_id, item_type, item_id, pinned_at) VALUES (?, ?, ?, ?)
	`, sessionID, item.ItemType, item.ItemID, time.Now().UTC())
	if err != nil {
		return storage.Wrap(storage.KindIo, "add session scope", err)
	}
	return nil
}

func (s *Store) RemoveSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM session_scope WHERE session_id = ? AND item_type = ? AND item_id = ?
		`, sessionID, item.ItemType, item.ItemID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "remove session scope", err)
		}
		return nil
	})
}

func (s *Store) ListSessionScope(ctx context.Context, sessionID string) ([]types.ScopeItem, error) {
	return listSessionScope(ctx, s.db, sessionID)
}

func listSessionScope(ctx context.Context, db interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, sessionID string) ([]types.ScopeItem, error) {
	rows, err := db.QueryContext(ctx, `SELECT item_type, item_id FROM session_scope WHERE session_id = ? ORDER BY pinned_at ASC`, sessionID)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list session scope", err)
	}
	defer rows.Close()

	var out []types.ScopeItem
	for rows.Next() {
		var item types.ScopeItem
		if err := rows.Scan(&item.ItemType, &item.ItemID); err != nil {
			return nil, storage.Wrap(storage.KindIo, "scan session scope", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) SetSessionFocus(ctx context.Context, sessionID string, taskID *string, ec storage.EditContext) (*types.Session, error) {
	var out *types.Session
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET focus_task_id = ?, updated_at = ? WHERE id = ?`,
			nullableStringPtr2(taskID), time.Now().UTC(), sessionID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "set session focus", err)
		}
		out, err = scanSessionTx(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanSession(row *sql.Row) (*types.Session, error) { return scanSessionGeneric(row) }

func scanSessionTx(ctx context.Context, tx *sql.Tx, id string) (*types.Session, error) {
	row := tx.QueryRowContext(ctx, sessionSelectSQL+` WHERE id = ?`, id)
	return scanSessionGeneric(row)
}

func scanSessionGeneric(r scannableRow) (*types.Session, error) {
	var sess types.Session
	var name, owner, focusTaskID sql.NullString
	var variablesJSON string
	var closedAt sql.NullTime

	if err := r.Scan(&sess.ID, &name, &owner, &sess.Mode, &focusTaskID, &variablesJSON, &sess.CreatedAt, &sess.UpdatedAt, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("session not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan session", err)
	}
	if name.Valid {
		sess.Name = &name.String
	}
	if owner.Valid {
		sess.Owner = &owner.String
	}
	if focusTaskID.Valid {
		sess.FocusTaskID = &focusTaskID.String
	}
	if closedAt.Valid {
		sess.ClosedAt = &closedAt.Time
	}
	vars := map[string]string{}
	if variablesJSON != "" {
		if err := json.Unmarshal([]byte(variablesJSON), &vars); err != nil {
			return nil, storage.Wrap(storage.KindSerialization, "unmarshal session variables", err)
		}
	}
	sess.Variables = vars
	return &sess, nil
}
