package memory

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// CreateCheckpoint snapshots a session's current scope, focus, variables,
// and the restorable excerpt of every in-scope task.
func (s *Store) CreateCheckpoint(ctx context.Context, in types.CreateCheckpoint, ec storage.EditContext) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[in.SessionID]
	if !ok {
		return nil, storage.NotFoundf("session %s not found", in.SessionID)
	}
	scope := s.listSessionScopeLocked(in.SessionID)

	var taskSnapshots []types.TaskSnapshot
	for _, item := range scope {
		if item.ItemType != string(types.ScopeTask) {
			continue
		}
		t, ok := s.tasks[item.ItemID]
		if !ok {
			continue
		}
		taskSnapshots = append(taskSnapshots, types.TaskSnapshot{
			ID: t.ID, Status: string(t.Status), Priority: string(t.Priority), Owner: t.Owner,
			BlockedReason: t.BlockedReason, Pinned: t.Pinned, FocusWeight: t.FocusWeight,
		})
	}

	mode := string(sess.Mode)
	now := time.Now().UTC()
	id := ids.GenerateCheckpointID()
	snapshot := types.SessionSnapshot{
		Session: types.SessionSnapshotData{
			ID: sess.ID, Name: sess.Name, Owner: sess.Owner, Mode: &mode, FocusTaskID: sess.FocusTaskID,
		},
		Scope:     scope,
		Tasks:     taskSnapshots,
		Variables: sess.Variables,
	}

	cp := &types.Checkpoint{ID: id, SessionID: in.SessionID, Name: in.Name, Snapshot: snapshot, CreatedAt: now}
	s.checkpoints[id] = cp
	s.appendEventLocked(types.EventCheckpointCreated, types.EntityCheckpoint, id, ec, map[string]any{"id": id, "session_id": in.SessionID, "name": in.Name})

	out := *cp
	return &out, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, storage.NotFoundf("checkpoint %s not found", id)
	}
	out := *cp
	return &out, nil
}

// RestoreCheckpoint rehydrates a session's scope, focus, variables, and each
// excerpted task field, holding s.mu for the whole operation so no reader
// observes a partially-restored session.
func (s *Store) RestoreCheckpoint(ctx context.Context, id string, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return storage.NotFoundf("checkpoint %s not found", id)
	}
	snap := cp.Snapshot

	delete(s.scope, cp.SessionID)
	for _, item := range snap.Scope {
		s.addSessionScopeLocked(cp.SessionID, item, ec)
	}

	var mode types.SessionMode
	if snap.Session.Mode != nil {
		mode = types.SessionMode(*snap.Session.Mode)
	} else {
		mode = types.SessionModeExecute
	}
	if _, err := s.updateSessionLocked(cp.SessionID, types.UpdateSession{
		Name: snap.Session.Name, Owner: snap.Session.Owner, Mode: &mode,
		FocusTaskID: snap.Session.FocusTaskID, Variables: snap.Variables,
	}, ec); err != nil {
		return err
	}

	for _, ts := range snap.Tasks {
		current, ok := s.tasks[ts.ID]
		if !ok {
			continue
		}
		status := types.TaskStatus(ts.Status)
		priority := types.TaskPriority(ts.Priority)
		upd := types.UpdateTask{
			Status: &status, Priority: &priority, Owner: ts.Owner, BlockedReason: ts.BlockedReason,
			Pinned: &ts.Pinned, FocusWeight: &ts.FocusWeight,
		}
		if _, err := s.updateTaskLocked(current.ID, current.Version, upd, ec); err != nil {
			return err
		}
	}

	s.appendEventLocked(types.EventCheckpointRestored, types.EntityCheckpoint, id, ec, map[string]any{"id": id, "session_id": cp.SessionID})
	return nil
}
