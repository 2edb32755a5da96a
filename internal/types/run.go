package types

import "time"

// Run is a single execution of a Worker's command, triggered by one Event.
// Runs carry their own retry lifecycle independent of the Worker's.
type Run struct {
	// ID is run-<8char>.
	ID        string
	WorkerID  string
	EventID   int64
	EventType EventType
	EntityID  string
	Command   string
	Args      []string
	Status    RunStatus

	ExitCode     *int
	ErrorMessage *string

	// Attempt is 1-based; MaxAttempts defaults to 3.
	Attempt     int
	MaxAttempts int
	NextRetryAt *time.Time

	PID     *int
	LogPath *string

	StartedAt   *time.Time
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanRetry reports whether a failed run still has attempts remaining.
func (r *Run) CanRetry() bool {
	return r.Status == RunFailed && r.Attempt < r.MaxAttempts
}

// IsPendingRetry reports whether this pending run is a scheduled retry
// rather than its first attempt.
func (r *Run) IsPendingRetry() bool {
	return r.Status == RunPending && r.Attempt > 1
}

// CreateRun is the input to create a new Run.
type CreateRun struct {
	// ID lets the caller pre-generate a run ID so it can compute the run's
	// log path (<daemon_home>/logs/<worker_id>/<run_id>.log) before the row
	// exists. Left empty, the store generates one.
	ID          string
	WorkerID    string
	EventID     int64
	EventType   EventType
	EntityID    string
	Command     string
	Args        []string
	MaxAttempts int
	LogPath     *string
}

// DefaultCreateRun returns a CreateRun populated with the documented
// default (max_attempts 3).
func DefaultCreateRun() CreateRun {
	return CreateRun{MaxAttempts: 3}
}

// UpdateRunStatus is the input to transition a Run's status.
type UpdateRunStatus struct {
	Status       RunStatus
	ExitCode     *int
	ErrorMessage *string
	PID          *int
}

// ScheduleRetry is the input to schedule a Run's next retry attempt.
type ScheduleRetry struct {
	NextRetryAt time.Time
	Attempt     int
}
