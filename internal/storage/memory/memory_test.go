package memory

import (
	"context"
	"testing"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func newProject(t *testing.T, s *Store, name string) *types.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), types.CreateProject{Name: name}, storage.EditContext{Actor: "tester"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func newTask(t *testing.T, s *Store, projectID, title string) *types.Task {
	t.Helper()
	tk, err := s.CreateTask(context.Background(), types.CreateTask{ProjectID: projectID, Title: title}, storage.EditContext{Actor: "tester"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

func TestCreateTaskAssignsSequentialNumbers(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	a := newTask(t, s, p.ID, "first")
	b := newTask(t, s, p.ID, "second")

	if a.TaskNumber != 1 || b.TaskNumber != 2 {
		t.Fatalf("expected sequential task numbers, got %d and %d", a.TaskNumber, b.TaskNumber)
	}
}

func TestUpdateTaskVersionConflict(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	tk := newTask(t, s, p.ID, "task")

	status := types.TaskStatusTodo
	if _, err := s.UpdateTask(context.Background(), tk.ID, tk.Version, types.UpdateTask{Status: &status}, storage.EditContext{}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	_, err := s.UpdateTask(context.Background(), tk.ID, tk.Version, types.UpdateTask{Status: &status}, storage.EditContext{})
	if !storage.Is(err, storage.KindConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
}

func TestClaimTaskRejectsOtherOwnerUntilLeaseExpires(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	tk := newTask(t, s, p.ID, "task")
	ctx := context.Background()

	claimed, err := s.ClaimTask(ctx, tk.ID, "alice", time.Hour, tk.Version, storage.EditContext{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ClaimOwner == nil || *claimed.ClaimOwner != "alice" {
		t.Fatalf("expected claim owner alice, got %v", claimed.ClaimOwner)
	}

	if _, err := s.ClaimTask(ctx, tk.ID, "bob", time.Hour, claimed.Version, storage.EditContext{}); !storage.Is(err, storage.KindConflict) {
		t.Fatalf("expected conflict claiming task held by another owner, got %v", err)
	}

	// Once alice renews with a lease that has already expired, a second owner gets through.
	shortClaim, err := s.ClaimTask(ctx, tk.ID, "alice", -time.Second, claimed.Version, storage.EditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("re-claim over expired lease: %v", err)
	}
	if _, err := s.ClaimTask(ctx, tk.ID, "dave", time.Hour, shortClaim.Version, storage.EditContext{}); err != nil {
		t.Fatalf("expected claim over already-expired lease to succeed, got %v", err)
	}
}

func TestReleaseOnTerminalStatusClearsClaim(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	tk := newTask(t, s, p.ID, "task")
	ctx := context.Background()

	claimed, err := s.ClaimTask(ctx, tk.ID, "alice", time.Hour, tk.Version, storage.EditContext{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	done := types.TaskStatusDone
	updated, err := s.UpdateTask(ctx, tk.ID, claimed.Version, types.UpdateTask{Status: &done}, storage.EditContext{})
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if updated.ClaimOwner != nil {
		t.Fatalf("expected claim cleared on completion, still held by %v", *updated.ClaimOwner)
	}
}

func TestLastTaskDoneArchivesProject(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	a := newTask(t, s, p.ID, "a")
	b := newTask(t, s, p.ID, "b")
	ctx := context.Background()

	// Draft tasks do not hold a project open, so move b out of draft first.
	todo := types.TaskStatusTodo
	b, err := s.UpdateTask(ctx, b.ID, b.Version, types.UpdateTask{Status: &todo}, storage.EditContext{})
	if err != nil {
		t.Fatalf("move b to todo: %v", err)
	}

	done := types.TaskStatusDone
	if _, err := s.UpdateTask(ctx, a.ID, a.Version, types.UpdateTask{Status: &done}, storage.EditContext{}); err != nil {
		t.Fatalf("complete a: %v", err)
	}
	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Status == types.ProjectStatusArchived {
		t.Fatalf("project should not archive while task b is still open")
	}

	if _, err := s.UpdateTask(ctx, b.ID, b.Version, types.UpdateTask{Status: &done}, storage.EditContext{}); err != nil {
		t.Fatalf("complete b: %v", err)
	}
	got, err = s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Status != types.ProjectStatusArchived {
		t.Fatalf("expected project archived after last task done, got %s", got.Status)
	}
}

func TestUnblockDependentsEmitsEventWhenDependenciesDone(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	upstream := newTask(t, s, p.ID, "upstream")
	downstream := newTask(t, s, p.ID, "downstream")
	ctx := context.Background()

	if err := s.AddTaskDependency(ctx, downstream.ID, upstream.ID, storage.EditContext{}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	todo := types.TaskStatusTodo
	if _, err := s.UpdateTask(ctx, downstream.ID, downstream.Version, types.UpdateTask{Status: &todo}, storage.EditContext{}); err != nil {
		t.Fatalf("move downstream to todo: %v", err)
	}

	done := types.TaskStatusDone
	if _, err := s.UpdateTask(ctx, upstream.ID, upstream.Version, types.UpdateTask{Status: &done}, storage.EditContext{}); err != nil {
		t.Fatalf("complete upstream: %v", err)
	}

	events, err := s.ReadEvents(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var sawUnblock bool
	for _, ev := range events {
		if ev.EventType == types.EventTaskUnblocked && ev.EntityID == downstream.ID {
			sawUnblock = true
		}
	}
	if !sawUnblock {
		t.Fatalf("expected task.unblocked event for downstream task, events: %+v", events)
	}
}

func TestActionableTasksExcludesBlockedByIncompleteDependency(t *testing.T) {
	s := New()
	p := newProject(t, s, "Widgets")
	upstream := newTask(t, s, p.ID, "upstream")
	downstream := newTask(t, s, p.ID, "downstream")
	ctx := context.Background()

	todo := types.TaskStatusTodo
	if _, err := s.UpdateTask(ctx, upstream.ID, upstream.Version, types.UpdateTask{Status: &todo}, storage.EditContext{}); err != nil {
		t.Fatalf("move upstream to todo: %v", err)
	}
	if _, err := s.UpdateTask(ctx, downstream.ID, downstream.Version, types.UpdateTask{Status: &todo}, storage.EditContext{}); err != nil {
		t.Fatalf("move downstream to todo: %v", err)
	}
	if err := s.AddTaskDependency(ctx, downstream.ID, upstream.ID, storage.EditContext{}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	actionable, err := s.ActionableTasks(ctx, []string{p.ID}, time.Now().UTC(), nil)
	if err != nil {
		t.Fatalf("actionable tasks: %v", err)
	}
	for _, tk := range actionable {
		if tk.ID == downstream.ID {
			t.Fatalf("downstream task should not be actionable while upstream is incomplete")
		}
	}

	var sawUpstream bool
	for _, tk := range actionable {
		if tk.ID == upstream.ID {
			sawUpstream = true
		}
	}
	if !sawUpstream {
		t.Fatalf("upstream task with no dependencies should be actionable")
	}
}

func TestCheckpointRestoreRehydratesScopeAndTaskFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := newProject(t, s, "Widgets")
	tk := newTask(t, s, p.ID, "task")

	sess, err := s.StartSession(ctx, types.CreateSession{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := s.AddSessionScope(ctx, sess.ID, types.ScopeItem{ItemType: string(types.ScopeTask), ItemID: tk.ID}, storage.EditContext{}); err != nil {
		t.Fatalf("add scope: %v", err)
	}

	cp, err := s.CreateCheckpoint(ctx, types.CreateCheckpoint{SessionID: sess.ID, Name: "before"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}

	todo := types.TaskStatusTodo
	if _, err := s.UpdateTask(ctx, tk.ID, tk.Version, types.UpdateTask{Status: &todo}, storage.EditContext{}); err != nil {
		t.Fatalf("advance task: %v", err)
	}
	if err := s.RemoveSessionScope(ctx, sess.ID, types.ScopeItem{ItemType: string(types.ScopeTask), ItemID: tk.ID}, storage.EditContext{}); err != nil {
		t.Fatalf("remove scope: %v", err)
	}

	if err := s.RestoreCheckpoint(ctx, cp.ID, storage.EditContext{}); err != nil {
		t.Fatalf("restore checkpoint: %v", err)
	}

	restored, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if restored.Status != types.TaskStatusDraft {
		t.Fatalf("expected task status restored to draft, got %s", restored.Status)
	}

	scope, err := s.ListSessionScope(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list scope: %v", err)
	}
	if len(scope) != 1 || scope[0].ItemID != tk.ID {
		t.Fatalf("expected restored scope to contain task %s, got %+v", tk.ID, scope)
	}
}
