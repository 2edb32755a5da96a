package claims

import (
	"context"
	"testing"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/memory"
	"github.com/speakeasy-api/granary/internal/types"
)

func newTask(t *testing.T, s storage.Store) *types.Task {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, types.CreateProject{Name: "Widgets"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	task, err := s.CreateTask(ctx, types.CreateTask{ProjectID: p.ID, Title: "do it"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestClaimThenReleaseRoundTrips(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	task := newTask(t, s)

	claimed, err := Claim(ctx, s, task.ID, "alice", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.ClaimOwner == nil || *claimed.ClaimOwner != "alice" {
		t.Fatalf("expected alice to hold the claim, got %+v", claimed.ClaimOwner)
	}

	released, err := Release(ctx, s, task.ID, "alice")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.ClaimOwner != nil {
		t.Fatalf("expected claim cleared, still held by %v", released.ClaimOwner)
	}
}

func TestClaimByOtherOwnerSucceedsAfterLeaseExpires(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	task := newTask(t, s)

	if _, err := Claim(ctx, s, task.ID, "alice", -time.Minute); err != nil {
		t.Fatalf("Claim (alice, expired lease): %v", err)
	}

	if _, err := Claim(ctx, s, task.ID, "bob", time.Minute); err != nil {
		t.Fatalf("expected bob to claim after alice's lease expired, got: %v", err)
	}
}

func TestClaimConflictsWhileLeaseLive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	task := newTask(t, s)

	if _, err := Claim(ctx, s, task.ID, "alice", time.Hour); err != nil {
		t.Fatalf("Claim (alice): %v", err)
	}

	if _, err := Claim(ctx, s, task.ID, "bob", time.Hour); err == nil {
		t.Fatalf("expected bob's claim to conflict while alice's lease is live")
	} else if !storage.Is(err, storage.KindConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestRenewExtendsSameOwnersLease(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	task := newTask(t, s)

	if _, err := Claim(ctx, s, task.ID, "alice", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	renewed, err := Renew(ctx, s, task.ID, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.ClaimLeaseExpiresAt == nil || renewed.ClaimLeaseExpiresAt.Before(time.Now().Add(30*time.Minute)) {
		t.Fatalf("expected lease extended well past 30m, got %v", renewed.ClaimLeaseExpiresAt)
	}
}

func TestReleaseByNonOwnerIsNoOp(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	task := newTask(t, s)

	if _, err := Claim(ctx, s, task.ID, "alice", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	after, err := Release(ctx, s, task.ID, "bob")
	if err != nil {
		t.Fatalf("Release (non-owner): %v", err)
	}
	if after.ClaimOwner == nil || *after.ClaimOwner != "alice" {
		t.Fatalf("expected alice to still hold the claim, got %v", after.ClaimOwner)
	}
}
