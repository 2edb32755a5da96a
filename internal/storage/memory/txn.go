package memory

import (
	"context"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// txn implements storage.Transaction directly against a Store already held
// under s.mu by RunInTransaction, so its methods call the *Locked helpers
// rather than the public (lock-acquiring) Store methods.
type txn struct {
	s *Store
}

func (t *txn) GetTask(ctx context.Context, id string) (*types.Task, error) {
	tk, ok := t.s.tasks[id]
	if !ok {
		return nil, storage.NotFoundf("task %s not found", id)
	}
	out := *tk
	return &out, nil
}

func (t *txn) UpdateTask(ctx context.Context, id string, version int64, upd types.UpdateTask, ec storage.EditContext) (*types.Task, error) {
	return t.s.updateTaskLocked(id, version, upd, ec)
}

func (t *txn) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return t.s.getSessionLocked(id)
}

func (t *txn) UpdateSession(ctx context.Context, id string, upd types.UpdateSession, ec storage.EditContext) (*types.Session, error) {
	return t.s.updateSessionLocked(id, upd, ec)
}

func (t *txn) ClearSessionScope(ctx context.Context, sessionID string, ec storage.EditContext) error {
	delete(t.s.scope, sessionID)
	return nil
}

func (t *txn) AddSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec storage.EditContext) error {
	t.s.addSessionScopeLocked(sessionID, item, ec)
	return nil
}

func (t *txn) AppendEvent(ctx context.Context, ev types.CreateEvent) (*types.Event, error) {
	ec := storage.EditContext{}
	if ev.Actor != nil {
		ec.Actor = *ev.Actor
	}
	if ev.SessionID != nil {
		ec.SessionID = *ev.SessionID
	}
	var payload map[string]any
	if len(ev.Payload) > 0 {
		_ = jsonUnmarshalInto(ev.Payload, &payload)
	}
	out := t.s.appendEventLocked(ev.EventType, ev.EntityType, ev.EntityID, ec, payload)
	v := *out
	return &v, nil
}

// RunInTransaction holds s.mu for the whole callback, giving fn exclusive,
// atomic access to the store's maps — the in-process equivalent of a SQLite
// transaction's isolation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txn{s: s})
}
