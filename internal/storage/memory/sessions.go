package memory

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) StartSession(ctx context.Context, in types.CreateSession) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := ids.GenerateSessionID(now)
	mode := in.Mode
	if mode == "" {
		mode = types.SessionModeExecute
	}

	sess := &types.Session{ID: id, Name: in.Name, Owner: in.Owner, Mode: mode, Variables: map[string]string{}, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	s.appendEventLocked(types.EventSessionStarted, types.EntitySession, id, storage.EditContext{SessionID: id}, map[string]any{"id": id, "mode": string(mode)})

	out := *sess
	return &out, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionLocked(id)
}

func (s *Store) getSessionLocked(id string) (*types.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.NotFoundf("session %s not found", id)
	}
	out := *sess
	return &out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd types.UpdateSession, ec storage.EditContext) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSessionLocked(id, upd, ec)
}

func (s *Store) updateSessionLocked(id string, upd types.UpdateSession, ec storage.EditContext) (*types.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.NotFoundf("session %s not found", id)
	}
	prevFocus := sess.FocusTaskID
	if upd.Name != nil {
		sess.Name = upd.Name
	}
	if upd.Owner != nil {
		sess.Owner = upd.Owner
	}
	if upd.Mode != nil {
		sess.Mode = *upd.Mode
	}
	if upd.FocusTaskID != nil {
		sess.FocusTaskID = upd.FocusTaskID
	}
	if upd.Variables != nil {
		sess.Variables = upd.Variables
	}
	sess.UpdatedAt = time.Now().UTC()

	if !samePtrString(prevFocus, sess.FocusTaskID) {
		s.appendEventLocked(types.EventSessionFocusChanged, types.EntitySession, id, ec, map[string]any{"id": id, "focus_task_id": ptrOrEmpty(sess.FocusTaskID)})
	}

	out := *sess
	return &out, nil
}

func (s *Store) CloseSession(ctx context.Context, id string, ec storage.EditContext) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.NotFoundf("session %s not found", id)
	}
	now := time.Now().UTC()
	sess.ClosedAt = &now
	sess.UpdatedAt = now
	s.appendEventLocked(types.EventSessionClosed, types.EntitySession, id, ec, map[string]any{"id": id})

	out := *sess
	return &out, nil
}

func (s *Store) AddSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addSessionScopeLocked(sessionID, item, ec)
	return nil
}

func (s *Store) addSessionScopeLocked(sessionID string, item types.ScopeItem, ec storage.EditContext) {
	if s.scope[sessionID] == nil {
		s.scope[sessionID] = map[types.ScopeItem]bool{}
	}
	if s.scope[sessionID][item] {
		return
	}
	s.scope[sessionID][item] = true
	s.appendEventLocked(types.EventSessionScopeAdded, types.EntitySession, sessionID, ec, map[string]any{"item_type": item.ItemType, "item_id": item.ItemID})
}

func (s *Store) RemoveSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scope[sessionID][item] {
		return nil
	}
	delete(s.scope[sessionID], item)
	s.appendEventLocked(types.EventSessionScopeRemoved, types.EntitySession, sessionID, ec, map[string]any{"item_type": item.ItemType, "item_id": item.ItemID})
	return nil
}

func (s *Store) ListSessionScope(ctx context.Context, sessionID string) ([]types.ScopeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listSessionScopeLocked(sessionID), nil
}

func (s *Store) listSessionScopeLocked(sessionID string) []types.ScopeItem {
	var out []types.ScopeItem
	for item := range s.scope[sessionID] {
		out = append(out, item)
	}
	return out
}

func (s *Store) SetSessionFocus(ctx context.Context, sessionID string, taskID *string, ec storage.EditContext) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSessionLocked(sessionID, types.UpdateSession{FocusTaskID: taskID}, ec)
}

func samePtrString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
