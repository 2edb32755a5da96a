package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
	"github.com/speakeasy-api/granary/internal/version"
)

// ServerVersion is compared against each connecting client's
// ClientVersion (see internal/version). It defaults to version.Current.
var ServerVersion = version.Current

// DaemonOps is the control surface the RPC server dispatches requests
// into. It is satisfied by internal/daemon's Daemon; keeping it as an
// interface here lets the server be tested without a real daemon.
type DaemonOps interface {
	StartWorker(ctx context.Context, spec types.CreateWorker) (*types.Worker, error)
	StopWorker(ctx context.Context, id string) error
	ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error)
	PruneStopped(ctx context.Context) (int, error)
	ListRuns(ctx context.Context, workerID *string, status []types.RunStatus) ([]*types.Run, error)
	StopRun(ctx context.Context, id string) error
	PauseRun(ctx context.Context, id string) error
	ResumeRun(ctx context.Context, id string) error
	Logs(ctx context.Context, runID string, fromLine int) ([]string, error)
	Shutdown(ctx context.Context) error
	// StartedAt reports when this daemon process began serving requests,
	// for OpPing's reply.
	StartedAt() time.Time
}

// Server listens on a Unix socket and serves DaemonOps requests, one
// goroutine per connection, authenticating each connection's first frame
// against the token passed to NewServer (spec.md §4.4).
type Server struct {
	socketPath string
	token      string
	ops        DaemonOps
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    errgroup.Group
	closing  bool

	readyChan chan struct{}
	readyOnce sync.Once
}

// NewServer constructs a Server. token is the value every client
// connection must present in its first frame.
func NewServer(socketPath, token string, ops DaemonOps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		token:      token,
		ops:        ops,
		log:        log,
		readyChan:  make(chan struct{}),
	}
}

// WaitReady returns a channel closed once the listener is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.readyChan
}

// Start binds the socket and serves connections until ctx is cancelled or
// Stop is called. It blocks; call it from its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	if err := EnsureSocketDir(s.socketPath); err != nil {
		return fmt.Errorf("prepare socket dir: %w", err)
	}
	_ = os.Remove(s.socketPath) // clear a stale socket from a crashed daemon

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.readyChan) })

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				_ = s.conns.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.conns.Go(func() error {
			s.handleConn(conn)
			return nil
		})
	}
}

// Stop stops accepting new connections by closing the listener and
// removing the socket file; it returns without waiting for in-flight
// connections (Start's accept loop waits for them before returning). It
// does not cancel DaemonOps itself; the
// daemon is responsible for cancelling worker runtimes separately.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	_ = os.Remove(s.socketPath)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if !s.authenticate(conn) {
		return
	}

	for {
		payload, err := readFrame(conn)
		if err != nil {
			return // client closed, or malformed frame: drop the connection
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.writeResponse(conn, Response{Success: false, Code: string(storage.KindInvalid), Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}
		resp := s.dispatch(&req)
		resp.RequestID = req.RequestID
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

// authenticate reads the connection's first frame as a raw token and
// compares it to s.token. A mismatch writes an auth_failed response and
// closes the connection (spec.md §4.4, §7).
func (s *Server) authenticate(conn net.Conn) bool {
	tokenFrame, err := readFrame(conn)
	if err != nil {
		return false
	}
	if !tokensEqual(string(tokenFrame), s.token) {
		_ = s.writeResponse(conn, Response{Success: false, Code: string(storage.KindAuthFailed), Error: "auth_failed"})
		return false
	}
	return s.writeResponse(conn, Response{Success: true}) == nil
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(conn, b)
}

func (s *Server) dispatch(req *Request) Response {
	if compat, err := version.Check(ServerVersion, req.ClientVersion); err != nil {
		return errResponse(storage.KindInvalid, err)
	} else if compat == version.MinorMismatch {
		s.log.Warn("rpc client minor version mismatch", "client_version", req.ClientVersion, "server_version", ServerVersion)
	}

	ctx := context.Background()
	switch req.Operation {
	case OpPing:
		return okResponse(PingResponse{Message: "pong", Version: ServerVersion, StartedAt: s.ops.StartedAt()})

	case OpStartWorker:
		var args StartWorkerArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(storage.KindInvalid, err)
		}
		w, err := s.ops.StartWorker(ctx, args.Worker)
		if err != nil {
			return errFrom(err)
		}
		return okResponse(w)

	case OpStopWorker:
		var args StopWorkerArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(storage.KindInvalid, err)
		}
		if err := s.ops.StopWorker(ctx, args.ID); err != nil {
			return errFrom(err)
		}
		return okResponse(struct{}{})

	case OpListWorkers:
		var args ListWorkersArgs
		if len(req.Args) > 0 {
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return errResponse(storage.KindInvalid, err)
			}
		}
		workers, err := s.ops.ListWorkers(ctx, args.InstancePath)
		if err != nil {
			return errFrom(err)
		}
		return okResponse(ListWorkersResponse{Workers: workers})

	case OpPruneStopped:
		n, err := s.ops.PruneStopped(ctx)
		if err != nil {
			return errFrom(err)
		}
		return okResponse(PruneStoppedResponse{Count: n})

	case OpListRuns:
		var args ListRunsArgs
		if len(req.Args) > 0 {
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return errResponse(storage.KindInvalid, err)
			}
		}
		runs, err := s.ops.ListRuns(ctx, args.WorkerID, args.Status)
		if err != nil {
			return errFrom(err)
		}
		return okResponse(ListRunsResponse{Runs: runs})

	case OpStopRun:
		var args RunIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(storage.KindInvalid, err)
		}
		if err := s.ops.StopRun(ctx, args.ID); err != nil {
			return errFrom(err)
		}
		return okResponse(struct{}{})

	case OpPauseRun:
		var args RunIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(storage.KindInvalid, err)
		}
		if err := s.ops.PauseRun(ctx, args.ID); err != nil {
			return errFrom(err)
		}
		return okResponse(struct{}{})

	case OpResumeRun:
		var args RunIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(storage.KindInvalid, err)
		}
		if err := s.ops.ResumeRun(ctx, args.ID); err != nil {
			return errFrom(err)
		}
		return okResponse(struct{}{})

	case OpLogs:
		var args LogsArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(storage.KindInvalid, err)
		}
		lines, err := s.ops.Logs(ctx, args.Source, args.FromLine)
		if err != nil {
			return errFrom(err)
		}
		return okResponse(LogsResponse{Lines: lines, NextLine: args.FromLine + len(lines)})

	case OpShutdown:
		if err := s.ops.Shutdown(ctx); err != nil {
			return errFrom(err)
		}
		return okResponse(struct{}{})

	default:
		return errResponse(storage.KindInvalid, fmt.Errorf("unknown operation: %s", req.Operation))
	}
}

func okResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse(storage.KindInternal, err)
	}
	return Response{Success: true, Data: data}
}

func errResponse(kind storage.Kind, err error) Response {
	return Response{Success: false, Code: string(kind), Error: err.Error()}
}

// errFrom classifies err by its storage.Kind when it carries one, falling
// back to internal for anything else (spec.md §7's propagation policy:
// Store errors surface unchanged, everything else becomes Internal).
func errFrom(err error) Response {
	var se *storage.Error
	if errors.As(err, &se) {
		return errResponse(se.Kind, err)
	}
	return errResponse(storage.KindInternal, err)
}
