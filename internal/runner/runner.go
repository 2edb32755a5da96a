// Package runner implements the Runner Executor from spec.md §4.6: it
// spawns the OS process behind a dispatched Run, tees its output to a log
// file, tracks exit status, and schedules retries with exponential backoff.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/speakeasy-api/granary/internal/config"
	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
	"github.com/speakeasy-api/granary/internal/worker"
)

const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = time.Hour

	// tailCaptureBytes bounds how much of a run's combined output is kept in
	// memory for the failure error_message; the full stream still lands in
	// the run's log file.
	tailCaptureBytes = 4096
)

// RunnerResolver resolves a worker's named runner (config.toml's
// [runners.<name>]) to the command and args it should execute. Workers
// created without a runner_name carry their command/args inline instead.
type RunnerResolver interface {
	Resolve(name string) (config.Runner, bool)
}

// Executor is the production worker.Dispatcher: it owns per-worker
// concurrency slots and every child process currently running on this
// machine.
type Executor struct {
	Global  storage.GlobalStore
	Runners RunnerResolver
	// LogDir is the base directory runs' stdout/stderr logs are written
	// under, one subdirectory per worker: LogDir/<worker_id>/<run_id>.log.
	LogDir string
	// ShutdownGrace is how long StopWorker waits after SIGTERM before
	// escalating to SIGKILL.
	ShutdownGrace time.Duration
	Logger        *slog.Logger

	mu        sync.Mutex
	slots     map[string]int
	processes map[string]*trackedProcess // run ID -> process
	byWorker  map[string]map[string]struct{} // worker ID -> set of run IDs
}

type trackedProcess struct {
	cmd      *exec.Cmd
	workerID string
}

// New returns an Executor with the documented defaults applied.
func New(global storage.GlobalStore, runners RunnerResolver, logDir string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Global:        global,
		Runners:       runners,
		LogDir:        logDir,
		ShutdownGrace: 5 * time.Second,
		Logger:        logger,
		slots:         make(map[string]int),
		processes:     make(map[string]*trackedProcess),
		byWorker:      make(map[string]map[string]struct{}),
	}
}

// TryAcquire implements worker.Dispatcher.
func (e *Executor) TryAcquire(workerID string, concurrency int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if concurrency <= 0 {
		concurrency = 1
	}
	if e.slots[workerID] >= concurrency {
		return false
	}
	e.slots[workerID]++
	return true
}

// Release implements worker.Dispatcher.
func (e *Executor) Release(workerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.slots[workerID] > 0 {
		e.slots[workerID]--
	}
}

func (e *Executor) track(workerID, runID string, cmd *exec.Cmd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processes[runID] = &trackedProcess{cmd: cmd, workerID: workerID}
	if e.byWorker[workerID] == nil {
		e.byWorker[workerID] = make(map[string]struct{})
	}
	e.byWorker[workerID][runID] = struct{}{}
}

func (e *Executor) untrack(workerID, runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.processes, runID)
	delete(e.byWorker[workerID], runID)
}

// Dispatch implements worker.Dispatcher: it resolves the worker's command,
// expands its arguments against ev's payload, creates the Run row, and
// starts executing it in the background.
func (e *Executor) Dispatch(ctx context.Context, store storage.Store, w *types.Worker, ev *types.Event) (*types.Run, error) {
	command, args, err := e.resolveCommand(w)
	if err != nil {
		return nil, err
	}
	expanded := worker.ExpandArgs(args, ev.Payload)

	runID := ids.GenerateRunID()
	logPath := filepath.Join(e.LogDir, w.ID, runID+".log")

	run, err := e.Global.CreateRun(ctx, types.CreateRun{
		ID: runID, WorkerID: w.ID, EventID: ev.ID, EventType: ev.EventType, EntityID: ev.EntityID,
		Command: command, Args: expanded, MaxAttempts: 3, LogPath: &logPath,
	})
	if err != nil {
		return nil, err
	}

	go e.execute(store, *w, *run)
	return run, nil
}

func (e *Executor) resolveCommand(w *types.Worker) (string, []string, error) {
	if w.RunnerName == nil {
		return w.Command, w.Args, nil
	}
	if e.Runners == nil {
		return "", nil, fmt.Errorf("worker %s references runner %q but no runner registry is configured", w.ID, *w.RunnerName)
	}
	r, ok := e.Runners.Resolve(*w.RunnerName)
	if !ok {
		return "", nil, fmt.Errorf("worker %s references unknown runner %q", w.ID, *w.RunnerName)
	}
	return r.Command, r.Args, nil
}

// execute runs one attempt of run to completion: spawn, tee output, wait,
// record the outcome, and schedule a retry if attempts remain.
func (e *Executor) execute(store storage.Store, w types.Worker, run types.Run) {
	defer e.Release(w.ID)

	logFile, err := e.openRunLog(run)
	if err != nil {
		e.finishRun(store, run, nil, err, "")
		return
	}
	defer logFile.Close()

	var tail tailBuffer
	cmd := exec.Command(run.Command, run.Args...)
	cmd.Stdout = io.MultiWriter(logFile, &tail)
	cmd.Stderr = io.MultiWriter(logFile, &tail)
	cmd.Env = append(os.Environ(),
		"GRANARY_WORKER_ID="+w.ID,
		"GRANARY_RUN_ID="+run.ID,
		fmt.Sprintf("GRANARY_EVENT_ID=%d", run.EventID),
		"GRANARY_ENTITY_ID="+run.EntityID,
	)
	prepareProcAttrs(cmd)

	if err := cmd.Start(); err != nil {
		e.finishRun(store, run, nil, err, "")
		return
	}

	pid := cmd.Process.Pid
	e.track(w.ID, run.ID, cmd)
	defer e.untrack(w.ID, run.ID)

	if _, err := e.Global.UpdateRunStatus(context.Background(), run.ID, types.UpdateRunStatus{Status: types.RunRunning, PID: &pid}); err != nil {
		e.Logger.Warn("mark run running failed", "run_id", run.ID, "error", err)
	}
	e.appendRunEvent(store, run, types.EventRunStarted, nil, nil)

	waitErr := cmd.Wait()
	e.finishRun(store, run, cmd.ProcessState, waitErr, tail.String())
}

func (e *Executor) openRunLog(run types.Run) (*os.File, error) {
	if run.LogPath == nil {
		return nil, fmt.Errorf("run %s has no log path", run.ID)
	}
	if err := os.MkdirAll(filepath.Dir(*run.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.OpenFile(*run.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (e *Executor) finishRun(store storage.Store, run types.Run, state *os.ProcessState, runErr error, tail string) {
	ctx := context.Background()

	var exitCode *int
	if state != nil {
		c := state.ExitCode()
		exitCode = &c
	}

	if runErr == nil && exitCode != nil && *exitCode == 0 {
		if _, err := e.Global.UpdateRunStatus(ctx, run.ID, types.UpdateRunStatus{Status: types.RunCompleted, ExitCode: exitCode}); err != nil {
			e.Logger.Warn("mark run completed failed", "run_id", run.ID, "error", err)
		}
		e.appendRunEvent(store, run, types.EventRunCompleted, exitCode, nil)
		return
	}

	msg := tail
	if msg == "" && runErr != nil {
		msg = runErr.Error()
	}
	if msg == "" {
		msg = "process exited with a nonzero status"
	}

	if _, err := e.Global.UpdateRunStatus(ctx, run.ID, types.UpdateRunStatus{Status: types.RunFailed, ExitCode: exitCode, ErrorMessage: &msg}); err != nil {
		e.Logger.Warn("mark run failed failed", "run_id", run.ID, "error", err)
	}
	e.appendRunEvent(store, run, types.EventRunFailed, exitCode, &msg)

	if run.Attempt < run.MaxAttempts {
		next := run.Attempt + 1
		delay := backoffDelay(run.Attempt)
		if _, err := e.Global.ScheduleRunRetry(ctx, run.ID, types.ScheduleRetry{
			NextRetryAt: time.Now().UTC().Add(delay), Attempt: next,
		}); err != nil {
			e.Logger.Warn("schedule run retry failed", "run_id", run.ID, "error", err)
		}
	}
}

// appendRunEvent records a run.* lifecycle event in the run's workspace
// event log. The entity is the run itself; the task or project the run was
// triggered for travels in the payload, since a run can outlive the worker
// cycle that spawned it.
func (e *Executor) appendRunEvent(store storage.Store, run types.Run, et types.EventType, exitCode *int, errMsg *string) {
	payload := map[string]any{
		"worker_id":  run.WorkerID,
		"event_id":   run.EventID,
		"entity_id":  run.EntityID,
		"attempt":    run.Attempt,
	}
	if exitCode != nil {
		payload["exit_code"] = *exitCode
	}
	if errMsg != nil {
		payload["error"] = *errMsg
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		e.Logger.Warn("marshal run event payload failed", "run_id", run.ID, "error", err)
		return
	}
	if _, err := store.AppendEvent(context.Background(), types.CreateEvent{
		EventType: et, EntityType: types.EntityRun, EntityID: run.ID, Payload: raw,
	}); err != nil {
		e.Logger.Warn("append run event failed", "run_id", run.ID, "event_type", et, "error", err)
	}
}

// backoffDelay is the wait before attempt's retry: 30s doubled per prior
// attempt, capped at 1h, with up to 25% jitter to avoid synchronized retries
// across workers.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBaseDelay
	for i := 1; i < attempt && d < retryMaxDelay; i++ {
		d *= 2
	}
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// StopWorker implements worker.Dispatcher: it signals every process
// currently tracked for workerID to terminate, escalating to SIGKILL after
// ShutdownGrace.
func (e *Executor) StopWorker(ctx context.Context, workerID string) {
	e.mu.Lock()
	runIDs := make([]string, 0, len(e.byWorker[workerID]))
	for runID := range e.byWorker[workerID] {
		runIDs = append(runIDs, runID)
	}
	procs := make([]*trackedProcess, 0, len(runIDs))
	for _, runID := range runIDs {
		if p, ok := e.processes[runID]; ok {
			procs = append(procs, p)
		}
	}
	e.mu.Unlock()

	for _, p := range procs {
		if p.cmd.Process == nil {
			continue
		}
		if err := terminateGroup(p.cmd.Process.Pid); err != nil {
			e.Logger.Warn("terminate process group failed", "worker_id", workerID, "pid", p.cmd.Process.Pid, "error", err)
		}
	}

	grace := e.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	deadline := time.After(grace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !e.anyRunning(workerID) {
			return
		}
		select {
		case <-deadline:
			e.killRemaining(workerID)
			return
		case <-ctx.Done():
			e.killRemaining(workerID)
			return
		case <-ticker.C:
		}
	}
}

func (e *Executor) anyRunning(workerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byWorker[workerID]) > 0
}

func (e *Executor) killRemaining(workerID string) {
	e.mu.Lock()
	procs := make([]*trackedProcess, 0, len(e.byWorker[workerID]))
	for runID := range e.byWorker[workerID] {
		if p, ok := e.processes[runID]; ok {
			procs = append(procs, p)
		}
	}
	e.mu.Unlock()

	for _, p := range procs {
		if p.cmd.Process == nil {
			continue
		}
		if err := killGroup(p.cmd.Process.Pid); err != nil {
			e.Logger.Warn("kill process group failed", "worker_id", workerID, "pid", p.cmd.Process.Pid, "error", err)
		}
	}
}

// StopRun terminates a single in-flight run without affecting the rest of
// its worker's processes.
func (e *Executor) StopRun(runID string) error {
	e.mu.Lock()
	p, ok := e.processes[runID]
	e.mu.Unlock()
	if !ok || p.cmd.Process == nil {
		return fmt.Errorf("run %s is not currently executing", runID)
	}
	return terminateGroup(p.cmd.Process.Pid)
}

// PauseRun suspends a run's process group with SIGSTOP. Unsupported on
// Windows.
func (e *Executor) PauseRun(runID string) error {
	e.mu.Lock()
	p, ok := e.processes[runID]
	e.mu.Unlock()
	if !ok || p.cmd.Process == nil {
		return fmt.Errorf("run %s is not currently executing", runID)
	}
	return pauseGroup(p.cmd.Process.Pid)
}

// ResumeRun resumes a run paused with PauseRun.
func (e *Executor) ResumeRun(runID string) error {
	e.mu.Lock()
	p, ok := e.processes[runID]
	e.mu.Unlock()
	if !ok || p.cmd.Process == nil {
		return fmt.Errorf("run %s is not currently executing", runID)
	}
	return resumeGroup(p.cmd.Process.Pid)
}

// ActiveCount reports how many runs are currently occupying workerID's
// concurrency slots, for status reporting.
func (e *Executor) ActiveCount(workerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots[workerID]
}

// tailBuffer keeps only the most recent tailCaptureBytes written to it,
// used to surface a failing run's last output in its error_message without
// holding the whole stream in memory.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if excess := t.buf.Len() - tailCaptureBytes; excess > 0 {
		t.buf.Next(excess)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf.Bytes()))
}
