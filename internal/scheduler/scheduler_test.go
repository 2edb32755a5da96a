package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/memory"
	"github.com/speakeasy-api/granary/internal/types"
)

func mkProject(t *testing.T, s storage.Store, name string) *types.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), types.CreateProject{Name: name}, storage.EditContext{})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func mkTask(t *testing.T, s storage.Store, projectID, title string, priority types.TaskPriority) *types.Task {
	t.Helper()
	tk, err := s.CreateTask(context.Background(), types.CreateTask{ProjectID: projectID, Title: title, Priority: priority}, storage.EditContext{})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	todo := types.TaskStatusTodo
	tk, err = s.UpdateTask(context.Background(), tk.ID, tk.Version, types.UpdateTask{Status: &todo}, storage.EditContext{})
	if err != nil {
		t.Fatalf("move to todo: %v", err)
	}
	return tk
}

func TestNextRanksByPriority(t *testing.T) {
	s := memory.New()
	p := mkProject(t, s, "Widgets")
	low := mkTask(t, s, p.ID, "low priority", types.PriorityP3)
	high := mkTask(t, s, p.ID, "high priority", types.PriorityP0)

	got, err := Next(context.Background(), s, Scope{ProjectID: &p.ID}, time.Now().UTC(), nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != high.ID {
		t.Fatalf("expected higher priority task %s first, got %v (other task %s)", high.ID, got, low.ID)
	}
}

func TestNextPrefersPinnedOverPriority(t *testing.T) {
	s := memory.New()
	p := mkProject(t, s, "Widgets")
	urgent := mkTask(t, s, p.ID, "urgent", types.PriorityP0)
	pinned := mkTask(t, s, p.ID, "pinned but low priority", types.PriorityP4)

	truth := true
	if _, err := s.UpdateTask(context.Background(), pinned.ID, pinned.Version, types.UpdateTask{Pinned: &truth}, storage.EditContext{}); err != nil {
		t.Fatalf("pin task: %v", err)
	}

	got, err := Next(context.Background(), s, Scope{ProjectID: &p.ID}, time.Now().UTC(), nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != pinned.ID {
		t.Fatalf("expected pinned task to outrank urgent task %s, got %v", urgent.ID, got)
	}
}

func TestNextExcludesClaimedByOtherOwner(t *testing.T) {
	s := memory.New()
	p := mkProject(t, s, "Widgets")
	tk := mkTask(t, s, p.ID, "claimed", types.PriorityP2)

	claimed, err := s.ClaimTask(context.Background(), tk.ID, "alice", time.Hour, tk.Version, storage.EditContext{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = claimed

	bob := "bob"
	got, err := Next(context.Background(), s, Scope{ProjectID: &p.ID}, time.Now().UTC(), &bob)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no actionable task visible to bob while alice holds the claim, got %v", got)
	}

	alice := "alice"
	got, err = Next(context.Background(), s, Scope{ProjectID: &p.ID}, time.Now().UTC(), &alice)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != tk.ID {
		t.Fatalf("expected claim holder alice to still see her own claimed task, got %v", got)
	}
}

func TestListActionableComposesInitiativeScope(t *testing.T) {
	s := memory.New()
	init, err := s.CreateInitiative(context.Background(), types.CreateInitiative{Name: "Launch"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("CreateInitiative: %v", err)
	}
	p1 := mkProject(t, s, "Frontend")
	p2 := mkProject(t, s, "Backend")
	if err := s.LinkInitiativeProject(context.Background(), init.ID, p1.ID); err != nil {
		t.Fatalf("link p1: %v", err)
	}
	if err := s.LinkInitiativeProject(context.Background(), init.ID, p2.ID); err != nil {
		t.Fatalf("link p2: %v", err)
	}
	a := mkTask(t, s, p1.ID, "a", types.PriorityP2)
	b := mkTask(t, s, p2.ID, "b", types.PriorityP2)

	got, err := ListActionable(context.Background(), s, Scope{InitiativeID: &init.ID}, time.Now().UTC(), nil)
	if err != nil {
		t.Fatalf("ListActionable: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both linked projects' tasks, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, tk := range got {
		seen[tk.ID] = true
	}
	if !seen[a.ID] || !seen[b.ID] {
		t.Fatalf("expected tasks %s and %s in initiative scope, got %+v", a.ID, b.ID, got)
	}
}
