package rpc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// fakeOps is a minimal DaemonOps backed by an in-memory worker map, enough
// to exercise the server's framing, auth and dispatch without a real
// daemon or storage layer.
type fakeOps struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
	logs    []string
}

func newFakeOps() *fakeOps {
	return &fakeOps{workers: map[string]*types.Worker{}}
}

func (f *fakeOps) StartWorker(ctx context.Context, spec types.CreateWorker) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &types.Worker{ID: "worker-test1", Command: spec.Command, Args: spec.Args, Status: types.WorkerRunning}
	f.workers[w.ID] = w
	return w, nil
}

func (f *fakeOps) StopWorker(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[id]
	if !ok {
		return storage.NotFoundf("worker %s not found", id)
	}
	w.Status = types.WorkerStopped
	return nil
}

func (f *fakeOps) ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Worker
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeOps) PruneStopped(ctx context.Context) (int, error) {
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

func (f *fakeOps) ListRuns(ctx context.Context, workerID *string, status []types.RunStatus) ([]*types.Run, error) {
	return nil, nil
}
func (f *fakeOps) StopRun(ctx context.Context, id string) error   { return nil }
func (f *fakeOps) PauseRun(ctx context.Context, id string) error  { return nil }
func (f *fakeOps) ResumeRun(ctx context.Context, id string) error { return nil }
func (f *fakeOps) Logs(ctx context.Context, runID string, fromLine int) ([]string, error) {
	if fromLine >= len(f.logs) {
		return nil, nil
	}
	return f.logs[fromLine:], nil
}
func (f *fakeOps) Shutdown(ctx context.Context) error { return nil }
func (f *fakeOps) StartedAt() time.Time               { return time.Unix(0, 0).UTC() }

func startTestServer(t *testing.T, ops DaemonOps, token string) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "granary.sock")
	srv := NewServer(socketPath, token, ops, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.WaitReady():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	return socketPath, func() {
		cancel()
		_ = srv.Stop()
	}
}

func TestClientPingRoundTrip(t *testing.T) {
	socketPath, stop := startTestServer(t, newFakeOps(), "secret-token")
	defer stop()

	client, err := TryConnect(socketPath, "secret-token")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client, got nil")
	}
	defer client.Close()

	pong, err := client.Ping()
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong.Message != "pong" {
		t.Fatalf("unexpected ping message: %q", pong.Message)
	}
}

func TestClientWrongTokenFailsAuth(t *testing.T) {
	socketPath, stop := startTestServer(t, newFakeOps(), "secret-token")
	defer stop()

	if _, err := TryConnect(socketPath, "wrong-token"); err == nil {
		t.Fatal("expected authentication to fail with the wrong token")
	}
}

func TestClientNoDaemonListeningReturnsNilNil(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "nothing-here.sock")
	client, err := TryConnect(socketPath, "whatever")
	if err != nil {
		t.Fatalf("expected no error for an absent daemon, got %v", err)
	}
	if client != nil {
		t.Fatal("expected a nil client for an absent daemon")
	}
}

func TestStartStopListPruneWorkerLifecycle(t *testing.T) {
	ops := newFakeOps()
	socketPath, stop := startTestServer(t, ops, "tok")
	defer stop()

	client, err := TryConnect(socketPath, "tok")
	if err != nil || client == nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	w, err := client.StartWorker(types.CreateWorker{Command: "/bin/true"})
	if err != nil {
		t.Fatalf("start worker: %v", err)
	}
	if w.ID == "" {
		t.Fatal("expected a worker id")
	}

	workers, err := client.ListWorkers(nil)
	if err != nil {
		t.Fatalf("list workers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}

	if err := client.StopWorker(w.ID); err != nil {
		t.Fatalf("stop worker: %v", err)
	}

	n, err := client.PruneStopped()
	if err != nil {
		t.Fatalf("prune stopped: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned worker, got %d", n)
	}

	if err := client.StopWorker("nonexistent"); err == nil {
		t.Fatal("expected an error stopping an unknown worker")
	}
}
