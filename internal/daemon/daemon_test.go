package daemon

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/speakeasy-api/granary/internal/config"
	"github.com/speakeasy-api/granary/internal/runner"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/memory"
	"github.com/speakeasy-api/granary/internal/types"
)

// fakeGlobal is an in-process storage.GlobalStore, grounded on the one in
// internal/runner's own tests but with working Worker bookkeeping, since
// Recover and StartWorker exercise ListWorkers/RunningWithPID for real.
type fakeGlobal struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
	runs    map[string]*types.Run
	nextID  int
}

func newFakeGlobal() *fakeGlobal {
	return &fakeGlobal{
		workers: map[string]*types.Worker{},
		runs:    map[string]*types.Run{},
	}
}

func (f *fakeGlobal) seedWorker(w *types.Worker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[w.ID] = w
}

func (f *fakeGlobal) seedRun(r *types.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[r.ID] = r
}

func (f *fakeGlobal) CreateWorker(ctx context.Context, in types.CreateWorker) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	w := &types.Worker{
		ID:               "worker-test",
		RunnerName:       in.RunnerName,
		Command:          in.Command,
		Args:             in.Args,
		EventType:        in.EventType,
		Filters:          in.Filters,
		Concurrency:      in.Concurrency,
		InstancePath:     in.InstancePath,
		Status:           types.WorkerPending,
		Detached:         in.Detached,
		PollCooldownSecs: in.PollCooldownSecs,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if f.nextID > 1 {
		w.ID = w.ID + "-" + time.Now().UTC().String()
	}
	f.workers[w.ID] = w
	cp := *w
	return &cp, nil
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
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[id]
	if !ok {
		return nil, storage.NotFoundf("worker %s not found", id)
	}
	w.Status = upd.Status
	w.ErrorMessage = upd.ErrorMessage
	if upd.PID != nil {
		w.PID = upd.PID
	}
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (f *fakeGlobal) AdvanceWorkerCursor(ctx context.Context, id string, lastEventID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workers[id]; ok {
		w.LastEventID = lastEventID
	}
	return nil
}

func (f *fakeGlobal) ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Worker
	for _, w := range f.workers {
		if instancePath != nil && w.InstancePath != *instancePath {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeGlobal) DeleteWorker(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workers, id)
	return nil
}

func (f *fakeGlobal) PruneStoppedWorkers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, w := range f.workers {
		if w.Status.IsStopped() {
			delete(f.workers, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeGlobal) CreateRun(ctx context.Context, in types.CreateRun) (*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &types.Run{ID: in.ID, WorkerID: in.WorkerID, Status: types.RunPending, Attempt: 1, MaxAttempts: 3}
	f.runs[r.ID] = r
	cp := *r
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
	r.ErrorMessage = upd.ErrorMessage
	r.ExitCode = upd.ExitCode
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Run
	for _, r := range f.runs {
		if workerID != nil && r.WorkerID != *workerID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeGlobal) DueRetries(ctx context.Context, asOf time.Time) ([]*types.Run, error) {
	return nil, nil
}

func (f *fakeGlobal) RunningWithPID(ctx context.Context) ([]*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Run
	for _, r := range f.runs {
		if r.Status.IsRunning() {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeGlobal) Close() error          { return nil }
func (f *fakeGlobal) Path() string          { return "" }
func (f *fakeGlobal) UnderlyingDB() *sql.DB { return nil }

// memoryOpener returns a runner.WorkspaceOpener backed by a single shared
// memory.Store regardless of instancePath, enough for tests that never
// exercise more than one workspace.
func memoryOpener(store storage.Store) runner.WorkspaceOpener {
	return func(instancePath string) (storage.Store, error) { return store, nil }
}

func newTestDaemon(t *testing.T, global *fakeGlobal) *Daemon {
	t.Helper()
	store := memory.New()
	executor := runner.New(global, nil, t.TempDir(), nil)
	cfgPath := t.TempDir() + "/config.toml"
	cfgWatcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		t.Fatalf("new config watcher: %v", err)
	}
	t.Cleanup(func() { _ = cfgWatcher.Close() })
	return New(Options{
		ShutdownGrace: 2 * time.Second,
		OpenWorkspace: memoryOpener(store),
	}, global, executor, cfgWatcher)
}

func TestRecoverOrphansDeadPIDRun(t *testing.T) {
	global := newFakeGlobal()
	deadPID := 999999
	global.seedRun(&types.Run{ID: "run-1", WorkerID: "worker-1", Status: types.RunRunning, PID: &deadPID})

	d := newTestDaemon(t, global)
	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	run, err := global.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != types.RunFailed {
		t.Fatalf("expected run-1 to be failed, got %s", run.Status)
	}
	if run.ErrorMessage == nil || *run.ErrorMessage == "" {
		t.Fatal("expected an orphaned error message")
	}
}

func TestRecoverOrphansDeadPIDWorker(t *testing.T) {
	global := newFakeGlobal()
	deadPID := 999999
	global.seedWorker(&types.Worker{ID: "worker-1", Status: types.WorkerRunning, PID: &deadPID, InstancePath: "/tmp/ws"})

	d := newTestDaemon(t, global)
	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	w, err := global.GetWorker(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if w.Status != types.WorkerStopped {
		t.Fatalf("expected worker-1 to be stopped, got %s", w.Status)
	}
	if w.ErrorMessage == nil || *w.ErrorMessage != "orphaned" {
		t.Fatalf("expected orphaned error message, got %v", w.ErrorMessage)
	}
}

func TestRecoverResumesWorkerWithLivePID(t *testing.T) {
	global := newFakeGlobal()
	livePID := os.Getpid()
	global.seedWorker(&types.Worker{
		ID: "worker-1", Status: types.WorkerRunning, PID: &livePID, InstancePath: "/tmp/ws",
		Command: "/bin/sh", Args: []string{"-c", "true"}, Concurrency: 1,
	})

	d := newTestDaemon(t, global)
	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	d.mu.Lock()
	_, running := d.runtimes["worker-1"]
	d.mu.Unlock()
	if !running {
		t.Fatal("expected worker-1's runtime to be tracked after recover")
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartStopListPruneWorkerLifecycle(t *testing.T) {
	global := newFakeGlobal()
	d := newTestDaemon(t, global)

	w, err := d.StartWorker(context.Background(), types.CreateWorker{
		Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Concurrency: 1, InstancePath: "/tmp/ws",
	})
	if err != nil {
		t.Fatalf("start worker: %v", err)
	}
	if w.Status != types.WorkerRunning {
		t.Fatalf("expected running status, got %s", w.Status)
	}
	if w.PID == nil || *w.PID != os.Getpid() {
		t.Fatalf("expected worker PID to record the daemon's own pid, got %v", w.PID)
	}

	workers, err := d.ListWorkers(context.Background(), nil)
	if err != nil {
		t.Fatalf("list workers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}
	if diff := cmp.Diff(w, workers[0], cmpopts.IgnoreFields(types.Worker{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Fatalf("listed worker diverges from the one StartWorker returned (-want +got):\n%s", diff)
	}

	if err := d.StopWorker(context.Background(), w.ID); err != nil {
		t.Fatalf("stop worker: %v", err)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestShutdownDoneClosesOnlyAfterDrain(t *testing.T) {
	global := newFakeGlobal()
	d := newTestDaemon(t, global)

	select {
	case <-d.Done():
		t.Fatal("Done() closed before Shutdown was called")
	default:
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-d.Done():
	default:
		t.Fatal("Done() did not close after Shutdown returned")
	}

	// idempotent: a second Shutdown call must not hang or panic.
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
