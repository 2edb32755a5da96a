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

// CreateCheckpoint snapshots a session's current scope, focus, variables,
// and the restorable excerpt of every in-scope task, per spec.md §4.8.
func (s *Store) CreateCheckpoint(ctx context.Context, in types.CreateCheckpoint, ec storage.EditContext) (*types.Checkpoint, error) {
	now := time.Now().UTC()
	id := ids.GenerateCheckpointID()

	var out *types.Checkpoint
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		sess, err := scanSessionTx(ctx, tx, in.SessionID)
		if err != nil {
			return err
		}
		scope, err := listSessionScope(ctx, tx, in.SessionID)
		if err != nil {
			return err
		}

		var taskSnapshots []types.TaskSnapshot
		for _, item := range scope {
			if item.ItemType != string(types.ScopeTask) {
				continue
			}
			t, err := scanTaskTx(ctx, tx, item.ItemID)
			if err != nil {
				if storage.Is(err, storage.KindNotFound) {
					continue
				}
				return err
			}
			taskSnapshots = append(taskSnapshots, types.TaskSnapshot{
				ID: t.ID, Status: string(t.Status), Priority: string(t.Priority), Owner: t.Owner,
				BlockedReason: t.BlockedReason, Pinned: t.Pinned, FocusWeight: t.FocusWeight,
			})
		}

		scopeItems := make([]types.ScopeItem, len(scope))
		copy(scopeItems, scope)

		mode := string(sess.Mode)
		snapshot := types.SessionSnapshot{
			Session: types.SessionSnapshotData{
				ID: sess.ID, Name: sess.Name, Owner: sess.Owner, Mode: &mode, FocusTaskID: sess.FocusTaskID,
			},
			Scope:     scopeItems,
			Tasks:     taskSnapshots,
			Variables: sess.Variables,
		}
		snapshotJSON, err := json.Marshal(snapshot)
		if err != nil {
			return storage.Wrap(storage.KindSerialization, "marshal checkpoint snapshot", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, session_id, name, snapshot, created_at) VALUES (?, ?, ?, ?, ?)
		`, id, in.SessionID, in.Name, string(snapshotJSON), now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert checkpoint", err)
		}

		out = &types.Checkpoint{ID: id, SessionID: in.SessionID, Name: in.Name, Snapshot: snapshot, CreatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, name, snapshot, created_at FROM checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// RestoreCheckpoint rehydrates a session's scope, focus, variables, and each
// excerpted task field in one transaction, so a reader never observes a
// partially-restored session.
func (s *Store) RestoreCheckpoint(ctx context.Context, id string, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		cp, err := scanCheckpointTx(ctx, tx, id)
		if err != nil {
			return err
		}
		snap := cp.Snapshot

		if _, err := tx.ExecContext(ctx, `DELETE FROM session_scope WHERE session_id = ?`, cp.SessionID); err != nil {
			return storage.Wrap(storage.KindIo, "clear session scope", err)
		}
		for _, item := range snap.Scope {
			if err := addSessionScopeTx(ctx, tx, cp.SessionID, types.ScopeItem{ItemType: item.ItemType, ItemID: item.ItemID}); err != nil {
				return err
			}
		}

		varsJSON, err := json.Marshal(snap.Variables)
		if err != nil {
			return storage.Wrap(storage.KindSerialization, "marshal restored variables", err)
		}
		var mode string
		if snap.Session.Mode != nil {
			mode = *snap.Session.Mode
		} else {
			mode = string(types.SessionModeExecute)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET name = ?, owner = ?, mode = ?, focus_task_id = ?, variables = ?, updated_at = ?
			WHERE id = ?
		`, nullableStringPtr2(snap.Session.Name), nullableStringPtr2(snap.Session.Owner), mode,
			nullableStringPtr2(snap.Session.FocusTaskID), string(varsJSON), time.Now().UTC(), cp.SessionID); err != nil {
			return storage.Wrap(storage.KindIo, "restore session fields", err)
		}

		for _, ts := range snap.Tasks {
			current, err := scanTaskTx(ctx, tx, ts.ID)
			if err != nil {
				if storage.Is(err, storage.KindNotFound) {
					continue
				}
				return err
			}
			status := types.TaskStatus(ts.Status)
			priority := types.TaskPriority(ts.Priority)
			upd := types.UpdateTask{
				Status: &status, Priority: &priority, Owner: ts.Owner, BlockedReason: ts.BlockedReason,
				Pinned: &ts.Pinned, FocusWeight: &ts.FocusWeight,
			}
			if _, err := updateTaskTx(ctx, tx, current.ID, current.Version, upd); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
			VALUES ('checkpoint.restored', 'checkpoint', ?,
				(SELECT actor FROM edit_context WHERE id = 1),
				(SELECT session_id FROM edit_context WHERE id = 1),
				json_object('id', ?, 'session_id', ?), ?)
		`, id, id, cp.SessionID, time.Now().UTC())
		if err != nil {
			return storage.Wrap(storage.KindIo, "emit checkpoint.restored", err)
		}
		return nil
	})
}

func scanCheckpoint(row *sql.Row) (*types.Checkpoint, error) { return scanCheckpointGeneric(row) }

func scanCheckpointTx(ctx context.Context, tx *sql.Tx, id string) (*types.Checkpoint, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, session_id, name, snapshot, created_at FROM checkpoints WHERE id = ?`, id)
	return scanCheckpointGeneric(row)
}

func scanCheckpointGeneric(r scannableRow) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var snapshotJSON string
	if err := r.Scan(&cp.ID, &cp.SessionID, &cp.Name, &snapshotJSON, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("checkpoint not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan checkpoint", err)
	}
	var snap types.SessionSnapshot
	if err := json.Unmarshal([]byte(snapshotJSON), &snap); err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal checkpoint snapshot", err)
	}
	cp.Snapshot = snap
	return &cp, nil
}
