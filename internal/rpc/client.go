package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/speakeasy-api/granary/internal/types"
	"github.com/speakeasy-api/granary/internal/version"
)

// ClientVersion is compared against the daemon's ServerVersion on every
// call. Overridden at build time alongside version.Current.
var ClientVersion = version.Current

// Client is a connection to a running daemon's RPC socket.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// TryConnect attempts to connect to socketPath and authenticate with
// token. It returns (nil, nil) if no daemon is listening there, matching
// the teacher's "absence is not an error" convention for daemon discovery
// (internal/rpc/client.go's TryConnect): callers use a nil client to mean
// "start one".
func TryConnect(socketPath, token string) (*Client, error) {
	return TryConnectWithTimeout(socketPath, token, 200*time.Millisecond)
}

// TryConnectWithTimeout is TryConnect with an explicit dial timeout.
func TryConnectWithTimeout(socketPath, token string, dialTimeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, nil //nolint:nilerr // no daemon reachable at this path; not an error
	}

	c := &Client{conn: conn, timeout: 30 * time.Second}
	if err := c.auth(token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) auth(token string) error {
	if err := writeFrame(c.conn, []byte(token)); err != nil {
		return fmt.Errorf("send auth token: %w", err)
	}
	payload, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("authentication failed: %s", resp.Error)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SetTimeout overrides the per-request deadline (default 30s).
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Execute sends operation with args and returns the raw Response, letting
// the caller unmarshal Data into the shape it expects.
func (c *Client) Execute(operation Operation, args any) (*Response, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	req := Request{Operation: operation, RequestID: uuid.NewString(), Args: argsJSON, ClientVersion: ClientVersion}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := writeFrame(c.conn, reqJSON); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	payload, err := readFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (r *Response) asError() error {
	if r.Success {
		return nil
	}
	if r.Code != "" {
		return fmt.Errorf("%s: %s", r.Code, r.Error)
	}
	return fmt.Errorf("%s", r.Error)
}

// Ping checks daemon liveness and version.
func (c *Client) Ping() (*PingResponse, error) {
	resp, err := c.Execute(OpPing, struct{}{})
	if err != nil {
		return nil, err
	}
	if err := resp.asError(); err != nil {
		return nil, err
	}
	var out PingResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartWorker registers and starts a new worker.
func (c *Client) StartWorker(spec types.CreateWorker) (*types.Worker, error) {
	resp, err := c.Execute(OpStartWorker, StartWorkerArgs{Worker: spec})
	if err != nil {
		return nil, err
	}
	if err := resp.asError(); err != nil {
		return nil, err
	}
	var out types.Worker
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopWorker stops a running worker by id.
func (c *Client) StopWorker(id string) error {
	resp, err := c.Execute(OpStopWorker, StopWorkerArgs{ID: id})
	if err != nil {
		return err
	}
	return resp.asError()
}

// ListWorkers lists workers, optionally scoped to one workspace.
func (c *Client) ListWorkers(instancePath *string) ([]*types.Worker, error) {
	resp, err := c.Execute(OpListWorkers, ListWorkersArgs{InstancePath: instancePath})
	if err != nil {
		return nil, err
	}
	if err := resp.asError(); err != nil {
		return nil, err
	}
	var out ListWorkersResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

// PruneStopped removes stopped workers and returns how many were pruned.
func (c *Client) PruneStopped() (int, error) {
	resp, err := c.Execute(OpPruneStopped, struct{}{})
	if err != nil {
		return 0, err
	}
	if err := resp.asError(); err != nil {
		return 0, err
	}
	var out PruneStoppedResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ListRuns lists runs, optionally filtered by worker and status.
func (c *Client) ListRuns(workerID *string, status []types.RunStatus) ([]*types.Run, error) {
	resp, err := c.Execute(OpListRuns, ListRunsArgs{WorkerID: workerID, Status: status})
	if err != nil {
		return nil, err
	}
	if err := resp.asError(); err != nil {
		return nil, err
	}
	var out ListRunsResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// StopRun sends a termination signal to a running run.
func (c *Client) StopRun(id string) error {
	resp, err := c.Execute(OpStopRun, RunIDArgs{ID: id})
	if err != nil {
		return err
	}
	return resp.asError()
}

// PauseRun suspends a running run's process group (unix only).
func (c *Client) PauseRun(id string) error {
	resp, err := c.Execute(OpPauseRun, RunIDArgs{ID: id})
	if err != nil {
		return err
	}
	return resp.asError()
}

// ResumeRun resumes a paused run's process group.
func (c *Client) ResumeRun(id string) error {
	resp, err := c.Execute(OpResumeRun, RunIDArgs{ID: id})
	if err != nil {
		return err
	}
	return resp.asError()
}

// Logs fetches run log lines starting at fromLine. Follow-mode is the
// client's responsibility: call again with the returned NextLine.
func (c *Client) Logs(source string, fromLine int) (*LogsResponse, error) {
	resp, err := c.Execute(OpLogs, LogsArgs{Source: source, FromLine: fromLine})
	if err != nil {
		return nil, err
	}
	if err := resp.asError(); err != nil {
		return nil, err
	}
	var out LogsResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Shutdown asks the daemon to stop gracefully.
func (c *Client) Shutdown() error {
	resp, err := c.Execute(OpShutdown, struct{}{})
	if err != nil {
		return err
	}
	return resp.asError()
}
