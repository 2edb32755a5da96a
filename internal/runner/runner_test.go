package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/speakeasy-api/granary/internal/config"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/memory"
	"github.com/speakeasy-api/granary/internal/types"
)

// fakeGlobal is a minimal in-process storage.GlobalStore backing a handful
// of Run rows, enough to exercise the Executor without a real database.
type fakeGlobal struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
	runs    map[string]*types.Run
}

func newFakeGlobal(w *types.Worker) *fakeGlobal {
	return &fakeGlobal{
		workers: map[string]*types.Worker{w.ID: w},
		runs:    map[string]*types.Run{},
	}
}

func (f *fakeGlobal) CreateWorker(ctx context.Context, in types.CreateWorker) (*types.Worker, error) {
	return nil, nil
}
func (f *fakeGlobal) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[id]
	if !ok {
		return nil, storage.NotFoundf("worker %s not found", id)
	}
	cp := *w
	return &cp, nil
}
func (f *fakeGlobal) UpdateWorkerStatus(ctx context.Context, id string, upd types.UpdateWorkerStatus) (*types.Worker, error) {
	return nil, nil
}
func (f *fakeGlobal) AdvanceWorkerCursor(ctx context.Context, id string, lastEventID int64) error {
	return nil
}
func (f *fakeGlobal) ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error) {
	return nil, nil
}
func (f *fakeGlobal) DeleteWorker(ctx context.Context, id string) error     { return nil }
func (f *fakeGlobal) PruneStoppedWorkers(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeGlobal) CreateRun(ctx context.Context, in types.CreateRun) (*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	run := &types.Run{
		ID: in.ID, WorkerID: in.WorkerID, EventID: in.EventID, EventType: in.EventType, EntityID: in.EntityID,
		Command: in.Command, Args: in.Args, Status: types.RunPending, Attempt: 1, MaxAttempts: maxAttempts,
		LogPath: in.LogPath, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	f.runs[run.ID] = run
	cp := *run
	return &cp, nil
}
func (f *fakeGlobal) GetRun(ctx context.Context, id string) (*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, storage.NotFoundf("run %s not found", id)
	}
	cp := *r
	return &cp, nil
}
func (f *fakeGlobal) UpdateRunStatus(ctx context.Context, id string, upd types.UpdateRunStatus) (*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, storage.NotFoundf("run %s not found", id)
	}
	r.Status = upd.Status
	r.ExitCode = upd.ExitCode
	r.ErrorMessage = upd.ErrorMessage
	if upd.PID != nil {
		r.PID = upd.PID
	}
	cp := *r
	return &cp, nil
}
func (f *fakeGlobal) ScheduleRunRetry(ctx context.Context, id string, sched types.ScheduleRetry) (*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, storage.NotFoundf("run %s not found", id)
	}
	r.Status = types.RunPending
	r.Attempt = sched.Attempt
	r.NextRetryAt = &sched.NextRetryAt
	cp := *r
	return &cp, nil
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

func (f *fakeGlobal) run(id string) types.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[id]
}

func waitForRunStatus(t *testing.T, f *fakeGlobal, runID string, want types.RunStatus) types.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r := f.run(runID)
		if r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s (last: %s)", runID, want, f.run(runID).Status)
	return types.Run{}
}

func newTaskEvent(t *testing.T) (*memory.Store, *types.Event) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	proj, err := store.CreateProject(ctx, types.CreateProject{Name: "widgets"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := store.CreateTask(ctx, types.CreateTask{ProjectID: proj.ID, Title: "ship it", Priority: types.PriorityP2}, storage.EditContext{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	payload, _ := json.Marshal(map[string]any{"task": map[string]any{"id": task.ID}})
	ev := &types.Event{ID: 1, EventType: types.EventTaskCreated, EntityType: types.EntityTask, EntityID: task.ID, Payload: payload}
	return store, ev
}

func TestDispatchSucceedingCommandMarksRunCompleted(t *testing.T) {
	store, ev := newTaskEvent(t)
	w := &types.Worker{ID: "worker-1", Command: "/bin/sh", Args: []string{"-c", "echo hello"}, Concurrency: 2}
	global := newFakeGlobal(w)

	exec := New(global, nil, t.TempDir(), nil)
	run, err := exec.Dispatch(context.Background(), store, w, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	final := waitForRunStatus(t, global, run.ID, types.RunCompleted)
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", final.ExitCode)
	}
	if final.LogPath == nil {
		t.Fatal("expected a log path")
	}
	contents, err := os.ReadFile(*final.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(contents) != "hello\n" {
		t.Fatalf("unexpected log contents: %q", contents)
	}
}

func TestDispatchFailingCommandSchedulesRetry(t *testing.T) {
	store, ev := newTaskEvent(t)
	w := &types.Worker{ID: "worker-1", Command: "/bin/sh", Args: []string{"-c", "echo boom 1>&2; exit 1"}, Concurrency: 1}
	global := newFakeGlobal(w)

	exec := New(global, nil, t.TempDir(), nil)
	run, err := exec.Dispatch(context.Background(), store, w, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	final := waitForRunStatus(t, global, run.ID, types.RunFailed)
	if final.ExitCode == nil || *final.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", final.ExitCode)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage == "" {
		t.Fatal("expected a captured error message from stderr")
	}

	// a retry should have been scheduled since attempt 1 < max_attempts 3
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r := global.run(run.ID)
		if r.Status == types.RunPending && r.Attempt == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected retry scheduled, got %+v", global.run(run.ID))
}

func TestDispatchRunnerNameResolvesFromConfig(t *testing.T) {
	store, ev := newTaskEvent(t)
	name := "echoer"
	w := &types.Worker{ID: "worker-1", RunnerName: &name, Concurrency: 1}
	global := newFakeGlobal(w)

	exec := New(global, fakeResolver{"echoer": config.Runner{Command: "/bin/sh", Args: []string{"-c", "echo via-runner"}}}, t.TempDir(), nil)
	run, err := exec.Dispatch(context.Background(), store, w, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	final := waitForRunStatus(t, global, run.ID, types.RunCompleted)
	contents, err := os.ReadFile(*final.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(contents) != "via-runner\n" {
		t.Fatalf("unexpected log contents: %q", contents)
	}
}

func TestDispatchUnknownRunnerNameFails(t *testing.T) {
	store, ev := newTaskEvent(t)
	name := "missing"
	w := &types.Worker{ID: "worker-1", RunnerName: &name}
	global := newFakeGlobal(w)

	exec := New(global, fakeResolver{}, t.TempDir(), nil)
	if _, err := exec.Dispatch(context.Background(), store, w, ev); err == nil {
		t.Fatal("expected an error for an unresolvable runner name")
	}
}

type fakeResolver map[string]config.Runner

func (f fakeResolver) Resolve(name string) (config.Runner, bool) {
	r, ok := f[name]
	return r, ok
}
