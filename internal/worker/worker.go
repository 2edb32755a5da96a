// Package worker implements the per-Worker runtime loop from spec.md §4.5:
// cursor advance, filter evaluation, per-worker concurrency gating, and
// dispatch to the runner executor. One Runtime runs per types.Worker row,
// hosted by the daemon as an independent cooperative task (spec.md §4.4).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/speakeasy-api/granary/internal/events"
	"github.com/speakeasy-api/granary/internal/scheduler"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// Dispatcher admits an event for execution. internal/runner.Executor is the
// production implementation; tests fake it to exercise the loop's cursor
// and backpressure logic without spawning real processes.
type Dispatcher interface {
	// TryAcquire reserves one of concurrency execution slots for workerID,
	// non-blocking. A false return means the caller must not dispatch and
	// must leave its cursor where it is, per spec.md §4.5 step 5.
	TryAcquire(workerID string, concurrency int) bool
	// Release frees a slot previously reserved by TryAcquire, called when a
	// Dispatch attempt itself fails before a Run is durably pending.
	Release(workerID string)
	// Dispatch creates a Run and starts executing it asynchronously. store
	// is the workspace store the triggering event (real or synthetic)
	// belongs to, used to append run.* lifecycle events.
	Dispatch(ctx context.Context, store storage.Store, w *types.Worker, ev *types.Event) (*types.Run, error)
	// StopWorker terminates every in-flight child process started on
	// workerID's behalf, blocking until they exit or the grace period
	// elapses.
	StopWorker(ctx context.Context, workerID string)
}

// isPolledFamily reports whether et is synthesized by the scheduler rather
// than arising from a row mutation (spec.md §4.3).
func isPolledFamily(et types.EventType) bool {
	return et == types.EventTaskNext || et == types.EventProjectNext
}

// Runtime is one Worker's event loop.
type Runtime struct {
	Global     storage.GlobalStore
	Store      storage.Store
	Dispatcher Dispatcher
	Worker     types.Worker

	// BatchSize bounds how many events ReadEvents fetches per cycle.
	BatchSize int
	// IdleInterval is how long the loop sleeps when a cycle made no
	// progress, bounded by spec.md §5's 500ms suspension-point ceiling.
	IdleInterval time.Duration

	Logger *slog.Logger

	lastTick time.Time
}

// New returns a Runtime for w with the documented defaults applied.
func New(global storage.GlobalStore, store storage.Store, dispatcher Dispatcher, w types.Worker, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		Global:       global,
		Store:        store,
		Dispatcher:   dispatcher,
		Worker:       w,
		BatchSize:    50,
		IdleInterval: 250 * time.Millisecond,
		Logger:       logger,
	}
}

// Run executes the loop until ctx is cancelled or the worker reaches a
// stopped/error status. A panic inside a cycle is caught and recorded as
// the worker's error_message rather than crashing the daemon, per
// spec.md §4.4's supervision policy.
func (r *Runtime) Run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("panic: %v", p)
			_, _ = r.Global.UpdateWorkerStatus(context.Background(), r.Worker.ID, types.UpdateWorkerStatus{
				Status: types.WorkerError, ErrorMessage: &msg,
			})
			err = fmt.Errorf("worker %s: %s", r.Worker.ID, msg)
		}
	}()

	if _, err := r.Global.UpdateWorkerStatus(ctx, r.Worker.ID, types.UpdateWorkerStatus{Status: types.WorkerRunning}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return r.stop()
		default:
		}

		cur, err := r.Global.GetWorker(ctx, r.Worker.ID)
		if err != nil {
			r.markError(err)
			return err
		}
		r.Worker = *cur
		if r.Worker.Status.IsStopped() {
			return nil
		}

		var progressed bool
		var tickErr error
		if isPolledFamily(r.Worker.EventType) {
			progressed, tickErr = r.tickPolled(ctx)
		} else {
			progressed, tickErr = r.tickSubscribed(ctx)
		}
		if tickErr != nil {
			// Transient Io/Timeout during polling is logged and swallowed
			// per spec.md §7; a persistent failure would keep erroring
			// every cycle and an operator observes it via the log.
			r.Logger.Warn("worker cycle error", "worker_id", r.Worker.ID, "error", tickErr)
		}

		if !progressed {
			select {
			case <-ctx.Done():
				return r.stop()
			case <-time.After(r.IdleInterval):
			}
		}
	}
}

func (r *Runtime) stop() error {
	r.Dispatcher.StopWorker(context.Background(), r.Worker.ID)
	_, err := r.Global.UpdateWorkerStatus(context.Background(), r.Worker.ID, types.UpdateWorkerStatus{Status: types.WorkerStopped})
	return err
}

func (r *Runtime) markError(err error) {
	msg := err.Error()
	_, _ = r.Global.UpdateWorkerStatus(context.Background(), r.Worker.ID, types.UpdateWorkerStatus{
		Status: types.WorkerError, ErrorMessage: &msg,
	})
}

// tickSubscribed handles a real event_type: read new events past the
// cursor, drop non-matching ones immediately, and dispatch matching ones
// one at a time, stopping (without advancing past) the first event that
// can't acquire a concurrency slot.
func (r *Runtime) tickSubscribed(ctx context.Context) (bool, error) {
	filter, err := events.ParseFilters(r.Worker.Filters)
	if err != nil {
		return false, fmt.Errorf("parse filters: %w", err)
	}

	evType := r.Worker.EventType
	evs, err := r.Store.ReadEvents(ctx, storage.EventFilter{
		AfterID: r.Worker.LastEventID, EventType: &evType, Limit: r.BatchSize,
	})
	if err != nil {
		return false, err
	}
	if len(evs) == 0 {
		return false, nil
	}

	startCursor := r.Worker.LastEventID
	cursor := startCursor
	dispatched := false

	for _, ev := range evs {
		if !filter.Match(ev.Payload) {
			cursor = ev.ID
			continue
		}
		if !r.Dispatcher.TryAcquire(r.Worker.ID, concurrencyOrDefault(r.Worker.Concurrency)) {
			break
		}
		if _, err := r.Dispatcher.Dispatch(ctx, r.Store, &r.Worker, ev); err != nil {
			r.Dispatcher.Release(r.Worker.ID)
			r.Logger.Warn("dispatch failed", "worker_id", r.Worker.ID, "event_id", ev.ID, "error", err)
			break
		}
		cursor = ev.ID
		dispatched = true
	}

	if cursor > startCursor {
		if err := r.Global.AdvanceWorkerCursor(ctx, r.Worker.ID, cursor); err != nil {
			return dispatched, err
		}
		r.Worker.LastEventID = cursor
	}
	return dispatched || cursor > startCursor, nil
}

// tickPolled honors poll_cooldown_secs and, once elapsed, asks the
// scheduler for the workspace's current actionable set, synthesizing one
// ephemeral event per result (spec.md §4.3 — these never become real event
// rows or advance the worker's event cursor).
func (r *Runtime) tickPolled(ctx context.Context) (bool, error) {
	cooldown := time.Duration(r.Worker.PollCooldownSecs) * time.Second
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	if !r.lastTick.IsZero() && time.Since(r.lastTick) < cooldown {
		return false, nil
	}
	r.lastTick = time.Now()

	filter, err := events.ParseFilters(r.Worker.Filters)
	if err != nil {
		return false, fmt.Errorf("parse filters: %w", err)
	}

	now := time.Now().UTC()
	tasks, err := scheduler.ListActionable(ctx, r.Store, scheduler.Scope{Global: true}, now, nil)
	if err != nil {
		return false, err
	}

	dispatched := false
	for _, t := range tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			continue
		}
		synthetic := &types.Event{
			EventType: r.Worker.EventType, EntityType: types.EntityTask, EntityID: t.ID,
			Payload: payload, CreatedAt: now,
		}
		if r.Worker.EventType == types.EventProjectNext {
			synthetic.EntityType = types.EntityProject
			synthetic.EntityID = t.ProjectID
		}
		if !filter.Match(synthetic.Payload) {
			continue
		}
		if !r.Dispatcher.TryAcquire(r.Worker.ID, concurrencyOrDefault(r.Worker.Concurrency)) {
			break
		}
		if _, err := r.Dispatcher.Dispatch(ctx, r.Store, &r.Worker, synthetic); err != nil {
			r.Dispatcher.Release(r.Worker.ID)
			r.Logger.Warn("dispatch failed", "worker_id", r.Worker.ID, "entity_id", synthetic.EntityID, "error", err)
			break
		}
		dispatched = true
	}
	return dispatched, nil
}

func concurrencyOrDefault(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
