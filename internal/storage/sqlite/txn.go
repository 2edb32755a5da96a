package sqlite

import (
	"context"
	"database/sql"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// txn implements storage.Transaction over an open *sql.Tx, for multi-step
// workflows run through Store.RunInTransaction (e.g. checkpoint restore).
type txn struct {
	tx *sql.Tx
}

func (t *txn) stamp(ctx context.Context, ec storage.EditContext) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE edit_context SET actor = ?, session_id = ? WHERE id = 1`,
		nullableString(ec.Actor), nullableString(ec.SessionID))
	if err != nil {
		return storage.Wrap(storage.KindIo, "stamp edit context", err)
	}
	return nil
}

func (t *txn) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return scanTaskTx(ctx, t.tx, id)
}

func (t *txn) UpdateTask(ctx context.Context, id string, version int64, upd types.UpdateTask, ec storage.EditContext) (*types.Task, error) {
	if err := t.stamp(ctx, ec); err != nil {
		return nil, err
	}
	return updateTaskTx(ctx, t.tx, id, version, upd)
}

func (t *txn) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return scanSessionTx(ctx, t.tx, id)
}

func (t *txn) UpdateSession(ctx context.Context, id string, upd types.UpdateSession, ec storage.EditContext) (*types.Session, error) {
	if err := t.stamp(ctx, ec); err != nil {
		return nil, err
	}
	return updateSessionTx(ctx, t.tx, id, upd)
}

func (t *txn) ClearSessionScope(ctx context.Context, sessionID string, ec storage.EditContext) error {
	if err := t.stamp(ctx, ec); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM session_scope WHERE session_id = ?`, sessionID)
	if err != nil {
		return storage.Wrap(storage.KindIo, "clear session scope", err)
	}
	return nil
}

func (t *txn) AddSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec storage.EditContext) error {
	if err := t.stamp(ctx, ec); err != nil {
		return err
	}
	return addSessionScopeTx(ctx, t.tx, sessionID, item)
}

func (t *txn) AppendEvent(ctx context.Context, ev types.CreateEvent) (*types.Event, error) {
	return appendEvent(ctx, t.tx, ev)
}
