// Package storage defines the persistence interfaces granary's workspace
// store (initiatives/projects/tasks/comments/artifacts/sessions/checkpoints/
// events) and global store (workers/runs) implement. Invariants and event
// emission for workspace entities live in the database as AFTER triggers;
// see internal/storage/sqlite for the concrete implementation and DDL.
package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/speakeasy-api/granary/internal/types"
)

// WorkspaceDBPath returns the SQLite file a workspace rooted at
// instancePath stores its relational state in (spec.md §6).
func WorkspaceDBPath(instancePath string) string {
	return filepath.Join(instancePath, ".granary", "granary.db")
}

// TaskFilter narrows ListTasks / the scheduler's actionable query.
type TaskFilter struct {
	Status   []types.TaskStatus
	Owner    *string
	ParentID *string
}

// EventFilter narrows ReadEvents.
type EventFilter struct {
	AfterID   int64
	EventType *types.EventType
	Limit     int
}

// EditContext carries the actor/session attribution that triggers copy into
// emitted event rows. Absent fields are stored as NULL, per spec.md §4.1.
type EditContext struct {
	Actor     string
	SessionID string
}

// Transaction is the subset of Store exposed inside RunInTransaction, for
// atomic multi-step workflows (e.g. checkpoint restore touching session,
// scope, and several tasks at once).
type Transaction interface {
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, id string, version int64, upd types.UpdateTask, ec EditContext) (*types.Task, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, id string, upd types.UpdateSession, ec EditContext) (*types.Session, error)
	ClearSessionScope(ctx context.Context, sessionID string, ec EditContext) error
	AddSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec EditContext) error
	AppendEvent(ctx context.Context, ev types.CreateEvent) (*types.Event, error)
}

// Store is the workspace-scoped persistence interface: one instance per
// <workspace>/.granary/granary.db.
type Store interface {
	// Initiatives
	CreateInitiative(ctx context.Context, in types.CreateInitiative, ec EditContext) (*types.Initiative, error)
	GetInitiative(ctx context.Context, id string) (*types.Initiative, error)
	UpdateInitiative(ctx context.Context, id string, version int64, upd types.UpdateInitiative, ec EditContext) (*types.Initiative, error)
	ListInitiatives(ctx context.Context, status *types.InitiativeStatus) ([]*types.Initiative, error)
	LinkInitiativeProject(ctx context.Context, initiativeID, projectID string) error
	UnlinkInitiativeProject(ctx context.Context, initiativeID, projectID string) error
	ListInitiativeProjects(ctx context.Context, initiativeID string) ([]*types.Project, error)

	// Projects
	CreateProject(ctx context.Context, in types.CreateProject, ec EditContext) (*types.Project, error)
	GetProject(ctx context.Context, id string) (*types.Project, error)
	UpdateProject(ctx context.Context, id string, version int64, upd types.UpdateProject, ec EditContext) (*types.Project, error)
	ListProjects(ctx context.Context, status *types.ProjectStatus) ([]*types.Project, error)
	AddProjectDependency(ctx context.Context, projectID, dependsOnProjectID string, ec EditContext) error
	RemoveProjectDependency(ctx context.Context, projectID, dependsOnProjectID string, ec EditContext) error
	ProjectDependencies(ctx context.Context, projectID string) ([]*types.ProjectDependency, error)
	ProjectDependents(ctx context.Context, projectID string) ([]*types.ProjectDependency, error)

	// Tasks
	CreateTask(ctx context.Context, in types.CreateTask, ec EditContext) (*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, id string, version int64, upd types.UpdateTask, ec EditContext) (*types.Task, error)
	ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]*types.Task, error)
	AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID string, ec EditContext) error
	RemoveTaskDependency(ctx context.Context, taskID, dependsOnTaskID string, ec EditContext) error
	TaskDependencies(ctx context.Context, taskID string) ([]*types.TaskDependency, error)
	TaskDependents(ctx context.Context, taskID string) ([]*types.TaskDependency, error)

	// Claims (§4.7)
	ClaimTask(ctx context.Context, taskID, owner string, lease time.Duration, version int64, ec EditContext) (*types.Task, error)
	ReleaseTask(ctx context.Context, taskID, owner string, version int64, ec EditContext) (*types.Task, error)

	// Comments / Artifacts
	CreateComment(ctx context.Context, in types.CreateComment, ec EditContext) (*types.Comment, error)
	GetComment(ctx context.Context, id string) (*types.Comment, error)
	UpdateComment(ctx context.Context, id string, version int64, upd types.UpdateComment, ec EditContext) (*types.Comment, error)
	ListComments(ctx context.Context, parentType types.ParentType, parentID string) ([]*types.Comment, error)
	CreateArtifact(ctx context.Context, in types.CreateArtifact, ec EditContext) (*types.Artifact, error)
	ListArtifacts(ctx context.Context, parentType types.ParentType, parentID string) ([]*types.Artifact, error)

	// Sessions
	StartSession(ctx context.Context, in types.CreateSession) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, id string, upd types.UpdateSession, ec EditContext) (*types.Session, error)
	CloseSession(ctx context.Context, id string, ec EditContext) (*types.Session, error)
	AddSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec EditContext) error
	RemoveSessionScope(ctx context.Context, sessionID string, item types.ScopeItem, ec EditContext) error
	ListSessionScope(ctx context.Context, sessionID string) ([]types.ScopeItem, error)
	SetSessionFocus(ctx context.Context, sessionID string, taskID *string, ec EditContext) (*types.Session, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, in types.CreateCheckpoint, ec EditContext) (*types.Checkpoint, error)
	GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)
	RestoreCheckpoint(ctx context.Context, id string, ec EditContext) error

	// Events (§4.3)
	AppendEvent(ctx context.Context, ev types.CreateEvent) (*types.Event, error)
	ReadEvents(ctx context.Context, filter EventFilter) ([]*types.Event, error)
	GetOrCreateConsumer(ctx context.Context, consumerID string, eventType types.EventType) (*types.EventConsumer, error)
	AdvanceConsumer(ctx context.Context, consumerID string, lastSeenID int64) error

	// Scheduler support (internal/scheduler builds on this query primitive;
	// see that package for the ranking/actionability logic itself)
	ActionableTasks(ctx context.Context, projectIDs []string, asOf time.Time, requestOwner *string) ([]*types.Task, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
	Path() string
	UnderlyingDB() *sql.DB
}

// GlobalStore is the per-user persistence interface for ~/.granary/workers.db:
// Worker and Run rows, shared across workspaces.
type GlobalStore interface {
	CreateWorker(ctx context.Context, in types.CreateWorker) (*types.Worker, error)
	GetWorker(ctx context.Context, id string) (*types.Worker, error)
	UpdateWorkerStatus(ctx context.Context, id string, upd types.UpdateWorkerStatus) (*types.Worker, error)
	AdvanceWorkerCursor(ctx context.Context, id string, lastEventID int64) error
	ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error)
	DeleteWorker(ctx context.Context, id string) error
	PruneStoppedWorkers(ctx context.Context) (int, error)

	CreateRun(ctx context.Context, in types.CreateRun) (*types.Run, error)
	GetRun(ctx context.Context, id string) (*types.Run, error)
	UpdateRunStatus(ctx context.Context, id string, upd types.UpdateRunStatus) (*types.Run, error)
	ScheduleRunRetry(ctx context.Context, id string, sched types.ScheduleRetry) (*types.Run, error)
	ListRuns(ctx context.Context, workerID *string, status []types.RunStatus) ([]*types.Run, error)
	DueRetries(ctx context.Context, asOf time.Time) ([]*types.Run, error)
	RunningWithPID(ctx context.Context) ([]*types.Run, error)

	Close() error
	Path() string
	UnderlyingDB() *sql.DB
}
