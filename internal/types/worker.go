package types

import "time"

// Worker is a long-running process definition that subscribes to one event
// type and spawns Runs to execute a command in response.
type Worker struct {
	// ID is worker-<8char>.
	ID string
	// RunnerName references a configured runner by name (see global config),
	// or nil for an inline command.
	RunnerName  *string
	Command     string
	Args        []string
	EventType   EventType
	Filters     []string
	Concurrency int
	// InstancePath is the workspace root this worker is attached to.
	InstancePath string
	Status       WorkerStatus
	ErrorMessage *string
	PID          *int
	Detached     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StoppedAt    *time.Time
	// PollCooldownSecs throttles polled event families (task.next,
	// project.next); defaults to 300.
	PollCooldownSecs int64
	// LastEventID is the worker's own cursor into the event log.
	LastEventID int64
}

// CreateWorker is the input to register a new Worker.
type CreateWorker struct {
	RunnerName       *string
	Command          string
	Args             []string
	EventType        EventType
	Filters          []string
	Concurrency      int
	InstancePath     string
	PollCooldownSecs int64
	Detached         bool
}

// DefaultCreateWorker returns a CreateWorker populated with the documented
// defaults (concurrency 1, poll cooldown 300s).
func DefaultCreateWorker() CreateWorker {
	return CreateWorker{
		Concurrency:      1,
		PollCooldownSecs: 300,
	}
}

// UpdateWorkerStatus is the input to transition a Worker's status.
type UpdateWorkerStatus struct {
	Status       WorkerStatus
	ErrorMessage *string
	PID          *int
}
