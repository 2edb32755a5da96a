package runner

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
)

// WorkspaceOpener resolves a worker's instance_path to the storage.Store
// for that workspace, so a scheduled retry can append its run.* lifecycle
// events to the same event log the original dispatch would have used.
type WorkspaceOpener func(instancePath string) (storage.Store, error)

// RunRetryLoop polls Global.DueRetries on interval and re-executes every
// run whose next_retry_at has arrived, per spec.md §4.6's retry policy.
// It blocks until ctx is cancelled.
func (e *Executor) RunRetryLoop(ctx context.Context, interval time.Duration, openWorkspace WorkspaceOpener) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.retryDue(ctx, openWorkspace)
		}
	}
}

func (e *Executor) retryDue(ctx context.Context, openWorkspace WorkspaceOpener) {
	due, err := e.Global.DueRetries(ctx, time.Now().UTC())
	if err != nil {
		e.Logger.Warn("list due retries failed", "error", err)
		return
	}

	for _, run := range due {
		w, err := e.Global.GetWorker(ctx, run.WorkerID)
		if err != nil {
			e.Logger.Warn("resolve worker for retry failed", "run_id", run.ID, "worker_id", run.WorkerID, "error", err)
			continue
		}
		if w.Status.IsStopped() {
			continue
		}
		if !e.TryAcquire(w.ID, concurrencyOrDefault(w.Concurrency)) {
			continue // stays due; picked up again next tick
		}

		store, err := openWorkspace(w.InstancePath)
		if err != nil {
			e.Release(w.ID)
			e.Logger.Warn("open workspace for retry failed", "run_id", run.ID, "instance_path", w.InstancePath, "error", err)
			continue
		}

		go e.execute(store, *w, *run)
	}
}

func concurrencyOrDefault(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
