package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// ClaimTask atomically assigns or renews a time-leased claim, per spec.md
// §4.7. A claim succeeds when the task is unclaimed, the existing lease has
// expired (read-time expiry, no sweeper), or owner already holds it (lease
// renewal). The version check still applies so a stale caller can't clobber
// a concurrent status change made between its read and this call.
func (s *Store) ClaimTask(ctx context.Context, taskID, owner string, lease time.Duration, version int64, ec storage.EditContext) (*types.Task, error) {
	var out *types.Task
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		current, err := scanTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Version != version {
			return storage.Conflictf("task %s: version mismatch (have %d, want %d)", taskID, current.Version, version)
		}
		now := time.Now().UTC()
		if current.IsClaimed(now) && (current.ClaimOwner == nil || *current.ClaimOwner != owner) {
			return storage.Conflictf("task %s: already claimed by %s", taskID, *current.ClaimOwner)
		}

		expires := now.Add(lease)
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET claim_owner = ?, claim_claimed_at = ?, claim_lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, owner, now, expires, now, taskID, version)
		if err != nil {
			return storage.Wrap(storage.KindIo, "claim task", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.Conflictf("task %s: concurrent update", taskID)
		}
		out, err = scanTaskTx(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseTask clears owner's claim, even one whose lease has already
// expired. Releasing a claim you don't hold is a no-op rather than a
// conflict: the caller's intent (claim not held by me) is already satisfied.
func (s *Store) ReleaseTask(ctx context.Context, taskID, owner string, version int64, ec storage.EditContext) (*types.Task, error) {
	var out *types.Task
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		current, err := scanTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Version != version {
			return storage.Conflictf("task %s: version mismatch (have %d, want %d)", taskID, current.Version, version)
		}
		if current.ClaimOwner == nil || *current.ClaimOwner != owner {
			out = current
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET claim_owner = NULL, claim_claimed_at = NULL, claim_lease_expires_at = NULL, updated_at = ?
			WHERE id = ? AND version = ?
		`, time.Now().UTC(), taskID, version)
		if err != nil {
			return storage.Wrap(storage.KindIo, "release task", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.Conflictf("task %s: concurrent update", taskID)
		}
		out, err = scanTaskTx(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
