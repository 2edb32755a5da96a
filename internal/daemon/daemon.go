// Package daemon wires together the global worker/run store, the worker
// runtimes, and the runner executor into the single-process supervisor
// spec.md §4.4 describes, and implements rpc.DaemonOps so internal/rpc can
// dispatch control requests into it.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/speakeasy-api/granary/internal/config"
	"github.com/speakeasy-api/granary/internal/runner"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/sqlite"
	"github.com/speakeasy-api/granary/internal/types"
	"github.com/speakeasy-api/granary/internal/worker"
)

// Options configures a Daemon.
type Options struct {
	// Home is the daemon's own directory, ~/.granary/daemon.
	Home string
	// ShutdownGrace bounds how long Shutdown waits for worker runtimes and
	// their children to exit before returning anyway (spec.md §5).
	ShutdownGrace time.Duration
	Logger        *slog.Logger

	// OpenWorkspace opens the storage.Store for a worker's instance_path.
	// Defaults to a sqlite.Open against storage.WorkspaceDBPath; tests
	// substitute an in-memory opener to avoid touching disk.
	OpenWorkspace runner.WorkspaceOpener
}

// runtimeHandle tracks one running worker.Runtime so it can be cancelled
// individually by StopWorker or collectively by Shutdown.
type runtimeHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Daemon is the single-process supervisor: one per host, holding the
// global worker/run store, every open workspace store, the runner
// executor, and one goroutine per running Worker.
type Daemon struct {
	home          string
	shutdownGrace time.Duration
	logger        *slog.Logger
	startedAt     time.Time

	Global   storage.GlobalStore
	Executor *runner.Executor
	Config   *config.Watcher

	openWorkspaceFn runner.WorkspaceOpener

	mu        sync.Mutex
	runtimes  map[string]*runtimeHandle
	stores    map[string]storage.Store
	wg        conc.WaitGroup
	stopping  bool
	retryDone context.CancelFunc
	stopped   chan struct{}
}

// New constructs a Daemon. Callers still need to call Recover then start
// serving RPC requests (see cmd/granaryd).
func New(opts Options, global storage.GlobalStore, executor *runner.Executor, cfgWatcher *config.Watcher) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	openWorkspaceFn := opts.OpenWorkspace
	if openWorkspaceFn == nil {
		openWorkspaceFn = func(instancePath string) (storage.Store, error) {
			return sqlite.Open(storage.WorkspaceDBPath(instancePath))
		}
	}
	return &Daemon{
		home:            opts.Home,
		shutdownGrace:   grace,
		logger:          logger,
		startedAt:       time.Now().UTC(),
		Global:          global,
		Executor:        executor,
		Config:          cfgWatcher,
		openWorkspaceFn: openWorkspaceFn,
		runtimes:        map[string]*runtimeHandle{},
		stores:          map[string]storage.Store{},
		stopped:         make(chan struct{}),
	}
}

// Done returns a channel closed once Shutdown has finished draining, whether
// triggered by an RPC request or the process's own signal handling. The
// daemon entrypoint selects on this alongside OS signals so an RPC-driven
// shutdown actually tears down the listening server and exits the process,
// not just the worker runtimes.
func (d *Daemon) Done() <-chan struct{} {
	return d.stopped
}

// StartedAt implements rpc.DaemonOps: when this daemon began serving,
// for the status command's uptime display.
func (d *Daemon) StartedAt() time.Time {
	return d.startedAt
}

// openWorkspace returns the cached storage.Store for instancePath, opening
// and caching it on first use. Every worker runtime and the retry loop
// share the same handle per workspace rather than each opening their own.
func (d *Daemon) openWorkspace(instancePath string) (storage.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stores[instancePath]; ok {
		return s, nil
	}
	s, err := d.openWorkspaceFn(instancePath)
	if err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", instancePath, err)
	}
	d.stores[instancePath] = s
	return s, nil
}

// Recover implements spec.md §4.4's startup step (iv)+(vi): orphan any
// worker/run whose recorded PID is dead, then re-establish runtimes for
// workers whose PID is still alive (a daemon restart fast enough that the
// OS hasn't recycled the PID, or a worker a supervising process kept
// alive independently of this daemon instance).
func (d *Daemon) Recover(ctx context.Context) error {
	runs, err := d.Global.RunningWithPID(ctx)
	if err != nil {
		return fmt.Errorf("list running runs: %w", err)
	}
	for _, r := range runs {
		if r.PID == nil || !processAlive(*r.PID) {
			msg := "orphaned: daemon restarted while this run was in flight"
			if _, err := d.Global.UpdateRunStatus(ctx, r.ID, types.UpdateRunStatus{
				Status: types.RunFailed, ErrorMessage: &msg,
			}); err != nil {
				d.logger.Warn("mark orphaned run failed failed", "run_id", r.ID, "error", err)
			}
		}
	}

	workers, err := d.Global.ListWorkers(ctx, nil)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	for _, w := range workers {
		if !w.Status.IsRunning() {
			continue
		}
		if w.PID == nil || !processAlive(*w.PID) {
			msg := "orphaned"
			if _, err := d.Global.UpdateWorkerStatus(ctx, w.ID, types.UpdateWorkerStatus{
				Status: types.WorkerStopped, ErrorMessage: &msg,
			}); err != nil {
				d.logger.Warn("mark orphaned worker failed", "worker_id", w.ID, "error", err)
			}
			continue
		}
		if err := d.startRuntime(ctx, w); err != nil {
			d.logger.Warn("resume worker failed", "worker_id", w.ID, "error", err)
		}
	}
	return nil
}

// startRuntime opens w's workspace store and launches its Runtime as a
// supervised goroutine. Callers must hold no lock; startRuntime takes
// d.mu itself.
func (d *Daemon) startRuntime(ctx context.Context, w *types.Worker) error {
	store, err := d.openWorkspace(w.InstancePath)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.mu.Lock()
	d.runtimes[w.ID] = &runtimeHandle{cancel: cancel, done: done}
	d.mu.Unlock()

	rt := worker.New(d.Global, store, d.Executor, *w, d.logger)
	d.wg.Go(func() {
		defer close(done)
		if err := rt.Run(runCtx); err != nil {
			d.logger.Warn("worker runtime exited with error", "worker_id", w.ID, "error", err)
		}
		d.mu.Lock()
		delete(d.runtimes, w.ID)
		d.mu.Unlock()
	})
	return nil
}

// RunRetryLoop starts the runner executor's retry scheduler against this
// daemon's workspace opener. Call once after Recover.
func (d *Daemon) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	d.retryDone = cancel
	d.wg.Go(func() {
		d.Executor.RunRetryLoop(ctx, interval, d.openWorkspace)
	})
}

// StartWorker implements rpc.DaemonOps.
func (d *Daemon) StartWorker(ctx context.Context, spec types.CreateWorker) (*types.Worker, error) {
	w, err := d.Global.CreateWorker(ctx, spec)
	if err != nil {
		return nil, err
	}
	pid := os.Getpid()
	w, err = d.Global.UpdateWorkerStatus(ctx, w.ID, types.UpdateWorkerStatus{Status: types.WorkerRunning, PID: &pid})
	if err != nil {
		return nil, err
	}
	if err := d.startRuntime(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// StopWorker implements rpc.DaemonOps: cancel the worker's runtime and
// wait for its loop to observe cancellation and exit.
func (d *Daemon) StopWorker(ctx context.Context, id string) error {
	d.mu.Lock()
	h, ok := d.runtimes[id]
	d.mu.Unlock()
	if !ok {
		if _, err := d.Global.GetWorker(ctx, id); err != nil {
			return err
		}
		return storage.Conflictf("worker %s is not running in this daemon", id)
	}
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(d.shutdownGrace):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ListWorkers implements rpc.DaemonOps.
func (d *Daemon) ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error) {
	return d.Global.ListWorkers(ctx, instancePath)
}

// PruneStopped implements rpc.DaemonOps.
func (d *Daemon) PruneStopped(ctx context.Context) (int, error) {
	return d.Global.PruneStoppedWorkers(ctx)
}

// ListRuns implements rpc.DaemonOps.
func (d *Daemon) ListRuns(ctx context.Context, workerID *string, status []types.RunStatus) ([]*types.Run, error) {
	return d.Global.ListRuns(ctx, workerID, status)
}

// StopRun implements rpc.DaemonOps.
func (d *Daemon) StopRun(ctx context.Context, id string) error { return d.Executor.StopRun(id) }

// PauseRun implements rpc.DaemonOps.
func (d *Daemon) PauseRun(ctx context.Context, id string) error { return d.Executor.PauseRun(id) }

// ResumeRun implements rpc.DaemonOps.
func (d *Daemon) ResumeRun(ctx context.Context, id string) error { return d.Executor.ResumeRun(id) }

// Logs implements rpc.DaemonOps: a plain read of the run's log file,
// starting at fromLine. Follow-mode tailing is the client's job
// (spec.md §4.6).
func (d *Daemon) Logs(ctx context.Context, runID string, fromLine int) ([]string, error) {
	run, err := d.Global.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.LogPath == nil {
		return nil, nil
	}
	f, err := os.Open(*run.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", *run.LogPath, err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	idx := 0
	for scanner.Scan() {
		if idx >= fromLine {
			lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log %s: %w", *run.LogPath, err)
	}
	return lines, nil
}

// Shutdown implements rpc.DaemonOps and spec.md §4.4's shutdown sequence:
// stop the retry loop, cancel every worker runtime (whose own stop path
// terminates its children), wait up to one shared grace period for the
// runtimes to exit, then wait for every supervised goroutine before
// closing Done().
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return nil
	}
	d.stopping = true
	handles := make([]*runtimeHandle, 0, len(d.runtimes))
	for _, h := range d.runtimes {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	if d.retryDone != nil {
		d.retryDone()
	}

	// Each runtime's own stop() path calls Dispatcher.StopWorker on
	// cancellation, so no separate process-kill pass is needed here.
	for _, h := range handles {
		h.cancel()
	}

	allDone := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.done
		}
		close(allDone)
	}()
	select {
	case <-allDone:
	case <-time.After(d.shutdownGrace):
	}

	d.wg.Wait()
	close(d.stopped)
	return nil
}

// Close releases every open workspace store and the global store. Call
// after Shutdown has returned.
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, s := range d.stores {
		if err := s.Close(); err != nil {
			d.logger.Warn("close workspace store failed", "instance_path", path, "error", err)
		}
	}
	return d.Global.Close()
}
