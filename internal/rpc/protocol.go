// Package rpc implements the daemon's local control protocol: a
// length-prefixed JSON request/response exchange over a Unix domain
// socket, token-authenticated on the first frame of every connection
// (spec.md §6, §4.4).
package rpc

import (
	"encoding/json"
	"time"

	"github.com/speakeasy-api/granary/internal/types"
)

// Operation names the daemon's supported requests.
type Operation string

const (
	OpPing        Operation = "ping"
	OpStartWorker Operation = "start_worker"
	OpStopWorker  Operation = "stop_worker"
	OpListWorkers Operation = "list_workers"
	OpPruneStopped Operation = "prune_stopped"
	OpListRuns    Operation = "list_runs"
	OpStopRun     Operation = "stop_run"
	OpPauseRun    Operation = "pause_run"
	OpResumeRun   Operation = "resume_run"
	OpLogs        Operation = "logs"
	OpShutdown    Operation = "shutdown"
)

// Request is one call across the socket. Args is left as raw JSON so the
// framing layer never needs to know the per-operation argument shape.
type Request struct {
	Operation Operation `json:"operation"`
	// RequestID is a client-generated UUID echoed back in the Response, for
	// correlating log lines across the socket without a sequence number.
	RequestID     string          `json:"request_id"`
	Args          json.RawMessage `json:"args,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
}

// Response is ok(Data) or err(Code, Error), matching spec.md §6's
// "tagged ok(payload) | err(code,msg)".
type Response struct {
	RequestID string          `json:"request_id,omitempty"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	// Code is one of storage.Kind's string values when Success is false,
	// so clients can branch on failure class without string matching.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// PingResponse answers OpPing. StartedAt lets a caller report daemon
// uptime without a separate operation.
type PingResponse struct {
	Message   string    `json:"message"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// StartWorkerArgs answers OpStartWorker; it is exactly the input to
// registering a new worker.
type StartWorkerArgs struct {
	Worker types.CreateWorker `json:"worker"`
}

// StopWorkerArgs answers OpStopWorker.
type StopWorkerArgs struct {
	ID string `json:"id"`
}

// ListWorkersArgs optionally scopes OpListWorkers to one workspace.
type ListWorkersArgs struct {
	InstancePath *string `json:"instance_path,omitempty"`
}

// ListWorkersResponse answers OpListWorkers.
type ListWorkersResponse struct {
	Workers []*types.Worker `json:"workers"`
}

// PruneStoppedResponse answers OpPruneStopped.
type PruneStoppedResponse struct {
	Count int `json:"count"`
}

// ListRunsArgs answers OpListRuns.
type ListRunsArgs struct {
	WorkerID *string           `json:"worker_id,omitempty"`
	Status   []types.RunStatus `json:"status,omitempty"`
}

// ListRunsResponse answers OpListRuns.
type ListRunsResponse struct {
	Runs []*types.Run `json:"runs"`
}

// RunIDArgs answers OpStopRun, OpPauseRun and OpResumeRun, which all take
// a single run id.
type RunIDArgs struct {
	ID string `json:"id"`
}

// LogsArgs answers OpLogs. Source is a run id; FromLine is 0-indexed.
// Follow-mode tailing is implemented client-side (spec.md §4.6): the
// daemon only ever answers with the lines currently on disk.
type LogsArgs struct {
	Source   string `json:"source"`
	FromLine int    `json:"from_line,omitempty"`
}

// LogsResponse answers OpLogs.
type LogsResponse struct {
	Lines []string `json:"lines"`
	// NextLine is FromLine + len(Lines); a follow-mode client passes it
	// back as the next call's FromLine.
	NextLine int `json:"next_line"`
}
