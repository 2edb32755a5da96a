package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/memory"
	"github.com/speakeasy-api/granary/internal/types"
)

// fakeGlobal is a minimal in-memory storage.GlobalStore for one Worker,
// enough to exercise Runtime's cursor/status bookkeeping without SQLite.
type fakeGlobal struct {
	mu sync.Mutex
	w  types.Worker
}

func (f *fakeGlobal) CreateWorker(ctx context.Context, in types.CreateWorker) (*types.Worker, error) {
	return nil, nil
}
func (f *fakeGlobal) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.w
	return &w, nil
}
func (f *fakeGlobal) UpdateWorkerStatus(ctx context.Context, id string, upd types.UpdateWorkerStatus) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w.Status = upd.Status
	f.w.ErrorMessage = upd.ErrorMessage
	w := f.w
	return &w, nil
}
func (f *fakeGlobal) AdvanceWorkerCursor(ctx context.Context, id string, lastEventID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lastEventID > f.w.LastEventID {
		f.w.LastEventID = lastEventID
	}
	return nil
}
func (f *fakeGlobal) ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error) {
	return nil, nil
}
func (f *fakeGlobal) DeleteWorker(ctx context.Context, id string) error     { return nil }
func (f *fakeGlobal) PruneStoppedWorkers(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeGlobal) CreateRun(ctx context.Context, in types.CreateRun) (*types.Run, error) {
	return &types.Run{ID: "run-fake", WorkerID: in.WorkerID, EventID: in.EventID}, nil
}
func (f *fakeGlobal) GetRun(ctx context.Context, id string) (*types.Run, error) { return nil, nil }
func (f *fakeGlobal) UpdateRunStatus(ctx context.Context, id string, upd types.UpdateRunStatus) (*types.Run, error) {
	return nil, nil
}
func (f *fakeGlobal) ScheduleRunRetry(ctx context.Context, id string, sched types.ScheduleRetry) (*types.Run, error) {
	return nil, nil
}
func (f *fakeGlobal) ListRuns(ctx context.Context, workerID *string, status []types.RunStatus) ([]*types.Run, error) {
	return nil, nil
}
func (f *fakeGlobal) DueRetries(ctx context.Context, asOf time.Time) ([]*types.Run, error) {
	return nil, nil
}
func (f *fakeGlobal) RunningWithPID(ctx context.Context) ([]*types.Run, error) { return nil, nil }
func (f *fakeGlobal) Close() error                                            { return nil }
func (f *fakeGlobal) Path() string                                            { return "" }
func (f *fakeGlobal) UnderlyingDB() *sql.DB                                   { return nil }

// fakeDispatcher records every event it was asked to dispatch and lets
// tests cap concurrency to exercise backpressure.
type fakeDispatcher struct {
	mu        sync.Mutex
	limit     int
	active    int
	dispatched []*types.Event
	stopped   []string
}

func (d *fakeDispatcher) TryAcquire(workerID string, concurrency int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	max := concurrency
	if d.limit > 0 {
		max = d.limit
	}
	if d.active >= max {
		return false
	}
	d.active++
	return true
}
func (d *fakeDispatcher) Release(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active > 0 {
		d.active--
	}
}
func (d *fakeDispatcher) Dispatch(ctx context.Context, store storage.Store, w *types.Worker, ev *types.Event) (*types.Run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, ev)
	return &types.Run{ID: "run-x"}, nil
}
func (d *fakeDispatcher) StopWorker(ctx context.Context, workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = append(d.stopped, workerID)
}

func newTestProjectTask(t *testing.T, store *memory.Store) *types.Task {
	t.Helper()
	ctx := context.Background()
	proj, err := store.CreateProject(ctx, types.CreateProject{Name: "widgets"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := store.CreateTask(ctx, types.CreateTask{ProjectID: proj.ID, Title: "build it", Priority: types.PriorityP2}, storage.EditContext{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestTickSubscribedDispatchesMatchingEventsInOrder(t *testing.T) {
	store := memory.New()
	task := newTestProjectTask(t, store)

	global := &fakeGlobal{w: types.Worker{ID: "worker-1", EventType: types.EventTaskCreated, Concurrency: 5}}
	disp := &fakeDispatcher{}
	rt := New(global, store, disp, global.w, nil)

	progressed, err := rt.tickSubscribed(context.Background())
	if err != nil {
		t.Fatalf("tickSubscribed: %v", err)
	}
	if !progressed {
		t.Fatal("expected progress")
	}
	if len(disp.dispatched) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(disp.dispatched))
	}
	if disp.dispatched[0].EntityID != task.ID {
		t.Fatalf("dispatched wrong entity: %s", disp.dispatched[0].EntityID)
	}
	if global.w.LastEventID == 0 {
		t.Fatal("expected cursor to advance")
	}
}

func TestTickSubscribedBackpressureStopsBeforeBlockedEvent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	proj, _ := store.CreateProject(ctx, types.CreateProject{Name: "widgets"}, storage.EditContext{})
	var lastCursor int64
	for i := 0; i < 3; i++ {
		if _, err := store.CreateTask(ctx, types.CreateTask{ProjectID: proj.ID, Title: "t", Priority: types.PriorityP2}, storage.EditContext{}); err != nil {
			t.Fatalf("create task %d: %v", i, err)
		}
	}

	global := &fakeGlobal{w: types.Worker{ID: "worker-1", EventType: types.EventTaskCreated, Concurrency: 1}}
	disp := &fakeDispatcher{limit: 1, active: 1} // slot already full
	rt := New(global, store, disp, global.w, nil)

	progressed, err := rt.tickSubscribed(ctx)
	if err != nil {
		t.Fatalf("tickSubscribed: %v", err)
	}
	if progressed {
		t.Fatal("expected no progress: every candidate event should be blocked")
	}
	if len(disp.dispatched) != 0 {
		t.Fatalf("expected 0 dispatches, got %d", len(disp.dispatched))
	}
	if global.w.LastEventID != lastCursor {
		t.Fatalf("cursor should not advance past a blocked event, got %d", global.w.LastEventID)
	}
}

func TestTickSubscribedDropsNonMatchingFilterButAdvancesCursor(t *testing.T) {
	store := memory.New()
	task := newTestProjectTask(t, store)
	_ = task

	global := &fakeGlobal{w: types.Worker{
		ID: "worker-1", EventType: types.EventTaskCreated, Concurrency: 1,
		Filters: []string{"entity_id = nonexistent-id"},
	}}
	disp := &fakeDispatcher{}
	rt := New(global, store, disp, global.w, nil)

	progressed, err := rt.tickSubscribed(context.Background())
	if err != nil {
		t.Fatalf("tickSubscribed: %v", err)
	}
	if !progressed {
		t.Fatal("dropping a non-matching event still advances the cursor, which counts as progress")
	}
	if len(disp.dispatched) != 0 {
		t.Fatalf("expected 0 dispatches, got %d", len(disp.dispatched))
	}
	if global.w.LastEventID == 0 {
		t.Fatal("expected cursor to advance past the dropped event")
	}
}

func TestTickPolledHonorsCooldown(t *testing.T) {
	store := memory.New()
	newTestProjectTask(t, store)

	global := &fakeGlobal{w: types.Worker{
		ID: "worker-1", EventType: types.EventTaskNext, Concurrency: 5, PollCooldownSecs: 3600,
	}}
	disp := &fakeDispatcher{}
	rt := New(global, store, disp, global.w, nil)

	progressed, err := rt.tickPolled(context.Background())
	if err != nil {
		t.Fatalf("tickPolled: %v", err)
	}
	if !progressed {
		t.Fatal("expected first tick to synthesize at least one event")
	}
	if len(disp.dispatched) == 0 {
		t.Fatal("expected a synthetic task.next dispatch")
	}

	progressed, err = rt.tickPolled(context.Background())
	if err != nil {
		t.Fatalf("tickPolled second call: %v", err)
	}
	if progressed {
		t.Fatal("second tick inside the cooldown window should not progress")
	}
}

func TestExpandArgs(t *testing.T) {
	payload := json.RawMessage(`{"task":{"id":"proj-abcd-task-1"}}`)
	t.Setenv("GRANARY_TEST_VAR", "hello")

	got := ExpandArgs([]string{"--task=${event.task.id}", "--name=$GRANARY_TEST_VAR", "--missing=${event.nope}"}, payload)
	want := []string{"--task=proj-abcd-task-1", "--name=hello", "--missing="}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: got %q want %q", i, got[i], want[i])
		}
	}
}
