// Package claims implements the claim/release helper described in
// spec.md §4.7: a thin read-version-then-call wrapper around
// storage.Store's atomic claim-or-renew primitive (one attempt, no
// retry), plus the default lease duration workers use when they don't
// specify one.
package claims

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// DefaultLease is the claim lease applied when a caller doesn't pick one
// (passes a zero lease).
const DefaultLease = 5 * time.Minute

// Claim attempts to claim task for owner, reading the task's current
// version immediately before the attempt. On a version conflict caused
// by a concurrent writer, the loser (per spec.md §4.2's tie-break note)
// simply doesn't get the task — callers that want another candidate
// should re-run the scheduler and try again, not retry this same task.
func Claim(ctx context.Context, store storage.Store, taskID, owner string, lease time.Duration) (*types.Task, error) {
	if lease == 0 {
		lease = DefaultLease
	}
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return store.ClaimTask(ctx, taskID, owner, lease, task.Version, storage.EditContext{Actor: owner})
}

// Release clears owner's claim on taskID. Releasing a claim owner doesn't
// hold is a no-op at the storage layer; owner's own claim is cleared even
// if its lease has already expired.
func Release(ctx context.Context, store storage.Store, taskID, owner string) (*types.Task, error) {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return store.ReleaseTask(ctx, taskID, owner, task.Version, storage.EditContext{Actor: owner})
}

// Renew extends owner's existing claim by lease, keeping the same owner.
// It is exactly a Claim call under a different name: ClaimTask's conflict
// check already lets the current owner renew their own unexpired claim;
// its UPDATE matches on id and version only.
func Renew(ctx context.Context, store storage.Store, taskID, owner string, lease time.Duration) (*types.Task, error) {
	return Claim(ctx, store, taskID, owner, lease)
}
