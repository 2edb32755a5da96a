package memory

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) ClaimTask(ctx context.Context, taskID, owner string, lease time.Duration, version int64, ec storage.EditContext) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, storage.NotFoundf("task %s not found", taskID)
	}
	if t.Version != version {
		return nil, storage.Conflictf("task %s: version mismatch (have %d, want %d)", taskID, t.Version, version)
	}
	now := time.Now().UTC()
	if t.IsClaimed(now) && (t.ClaimOwner == nil || *t.ClaimOwner != owner) {
		return nil, storage.Conflictf("task %s: already claimed by %s", taskID, *t.ClaimOwner)
	}

	expires := now.Add(lease)
	t.ClaimOwner = ptrString(owner)
	t.ClaimClaimedAt = &now
	t.ClaimLeaseExpiresAt = &expires
	t.Version++
	t.UpdatedAt = now
	s.appendEventLocked(types.EventTaskClaimed, types.EntityTask, taskID, ec, map[string]any{"id": taskID, "owner": owner})

	out := *t
	return &out, nil
}

func (s *Store) ReleaseTask(ctx context.Context, taskID, owner string, version int64, ec storage.EditContext) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, storage.NotFoundf("task %s not found", taskID)
	}
	if t.Version != version {
		return nil, storage.Conflictf("task %s: version mismatch (have %d, want %d)", taskID, t.Version, version)
	}
	if t.ClaimOwner == nil || *t.ClaimOwner != owner {
		out := *t
		return &out, nil
	}

	t.ClaimOwner = nil
	t.ClaimClaimedAt = nil
	t.ClaimLeaseExpiresAt = nil
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	s.appendEventLocked(types.EventTaskReleased, types.EntityTask, taskID, ec, map[string]any{"id": taskID})

	out := *t
	return &out, nil
}
