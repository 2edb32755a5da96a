// Package types defines the domain model shared across granary's store,
// scheduler, worker runtime, and RPC layers.
package types

import "strings"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusDraft      TaskStatus = "draft"
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// ParseTaskStatus normalizes common spellings on the write path. Reads
// always return the canonical form already stored.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "draft":
		return TaskStatusDraft, true
	case "todo":
		return TaskStatusTodo, true
	case "in_progress", "in-progress", "inprogress":
		return TaskStatusInProgress, true
	case "done", "completed":
		return TaskStatusDone, true
	case "blocked":
		return TaskStatusBlocked, true
	default:
		return "", false
	}
}

func (s TaskStatus) IsTerminal() bool { return s == TaskStatusDone }
func (s TaskStatus) IsDraft() bool    { return s == TaskStatusDraft }

// TaskPriority orders scheduling preference, P0 highest.
type TaskPriority string

const (
	PriorityP0 TaskPriority = "P0"
	PriorityP1 TaskPriority = "P1"
	PriorityP2 TaskPriority = "P2"
	PriorityP3 TaskPriority = "P3"
	PriorityP4 TaskPriority = "P4"
)

// ParseTaskPriority normalizes case on the write path.
func ParseTaskPriority(s string) (TaskPriority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P0":
		return PriorityP0, true
	case "P1":
		return PriorityP1, true
	case "P2":
		return PriorityP2, true
	case "P3":
		return PriorityP3, true
	case "P4":
		return PriorityP4, true
	default:
		return "", false
	}
}

// Order returns the rank used by the scheduler's tie-break tuple: lower
// sorts first (more urgent).
func (p TaskPriority) Order() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	case PriorityP4:
		return 4
	default:
		return 2
	}
}

// ProjectStatus is the lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

func ParseProjectStatus(s string) (ProjectStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return ProjectStatusActive, true
	case "archived":
		return ProjectStatusArchived, true
	default:
		return "", false
	}
}

// InitiativeStatus is the lifecycle state of an Initiative.
type InitiativeStatus string

const (
	InitiativeStatusActive   InitiativeStatus = "active"
	InitiativeStatusArchived InitiativeStatus = "archived"
)

func ParseInitiativeStatus(s string) (InitiativeStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return InitiativeStatusActive, true
	case "archived":
		return InitiativeStatusArchived, true
	default:
		return "", false
	}
}

// CommentKind classifies a Comment's intent.
type CommentKind string

const (
	CommentNote     CommentKind = "note"
	CommentProgress CommentKind = "progress"
	CommentDecision CommentKind = "decision"
	CommentBlocker  CommentKind = "blocker"
	CommentHandoff  CommentKind = "handoff"
	CommentIncident CommentKind = "incident"
	CommentContext  CommentKind = "context"
)

func ParseCommentKind(s string) (CommentKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "note":
		return CommentNote, true
	case "progress":
		return CommentProgress, true
	case "decision":
		return CommentDecision, true
	case "blocker":
		return CommentBlocker, true
	case "handoff":
		return CommentHandoff, true
	case "incident":
		return CommentIncident, true
	case "context":
		return CommentContext, true
	default:
		return "", false
	}
}

// ArtifactType classifies an Artifact's pointed-to resource.
type ArtifactType string

const (
	ArtifactFile   ArtifactType = "file"
	ArtifactURL    ArtifactType = "url"
	ArtifactGitRef ArtifactType = "git_ref"
	ArtifactLog    ArtifactType = "log"
)

func ParseArtifactType(s string) (ArtifactType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file":
		return ArtifactFile, true
	case "url":
		return ArtifactURL, true
	case "git_ref", "git-ref", "gitref":
		return ArtifactGitRef, true
	case "log":
		return ArtifactLog, true
	default:
		return "", false
	}
}

// ParentType names the kinds of entities that can own comments and artifacts.
type ParentType string

const (
	ParentProject ParentType = "project"
	ParentTask    ParentType = "task"
	ParentComment ParentType = "comment"
)

func ParseParentType(s string) (ParentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "project":
		return ParentProject, true
	case "task":
		return ParentTask, true
	case "comment":
		return ParentComment, true
	default:
		return "", false
	}
}

// ScopeItemType names the kinds of entities a SessionScope can pin.
type ScopeItemType string

const (
	ScopeProject  ScopeItemType = "project"
	ScopeTask     ScopeItemType = "task"
	ScopeComment  ScopeItemType = "comment"
	ScopeArtifact ScopeItemType = "artifact"
)

func ParseScopeItemType(s string) (ScopeItemType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "project":
		return ScopeProject, true
	case "task":
		return ScopeTask, true
	case "comment":
		return ScopeComment, true
	case "artifact":
		return ScopeArtifact, true
	default:
		return "", false
	}
}

// SessionMode describes the intent a session was opened under.
type SessionMode string

const (
	SessionModeExecute SessionMode = "execute"
	SessionModePlan    SessionMode = "plan"
	SessionModeReview  SessionMode = "review"
)

func ParseSessionMode(s string) (SessionMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plan":
		return SessionModePlan, true
	case "execute":
		return SessionModeExecute, true
	case "review":
		return SessionModeReview, true
	default:
		return "", false
	}
}

// WorkerStatus is the lifecycle state of a Worker process.
type WorkerStatus string

const (
	WorkerPending WorkerStatus = "pending"
	WorkerRunning WorkerStatus = "running"
	WorkerStopped WorkerStatus = "stopped"
	WorkerError   WorkerStatus = "error"
)

func ParseWorkerStatus(s string) (WorkerStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return WorkerPending, true
	case "running":
		return WorkerRunning, true
	case "stopped":
		return WorkerStopped, true
	case "error":
		return WorkerError, true
	default:
		return "", false
	}
}

func (s WorkerStatus) IsRunning() bool { return s == WorkerRunning }
func (s WorkerStatus) IsStopped() bool { return s == WorkerStopped || s == WorkerError }

// RunStatus is the lifecycle state of a single runner execution.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPaused    RunStatus = "paused"
	RunCancelled RunStatus = "cancelled"
)

func ParseRunStatus(s string) (RunStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return RunPending, true
	case "running":
		return RunRunning, true
	case "completed":
		return RunCompleted, true
	case "failed":
		return RunFailed, true
	case "paused":
		return RunPaused, true
	case "cancelled":
		return RunCancelled, true
	default:
		return "", false
	}
}

func (s RunStatus) IsRunning() bool { return s == RunRunning }
func (s RunStatus) IsFinished() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// EntityType names the kinds of entities the event log can reference.
type EntityType string

const (
	EntityProject    EntityType = "project"
	EntityTask       EntityType = "task"
	EntityComment    EntityType = "comment"
	EntitySession    EntityType = "session"
	EntityCheckpoint EntityType = "checkpoint"
	EntityArtifact   EntityType = "artifact"
	EntityInitiative EntityType = "initiative"
	EntityWorker     EntityType = "worker"
	EntityRun        EntityType = "run"
)

func ParseEntityType(s string) (EntityType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "project":
		return EntityProject, true
	case "task":
		return EntityTask, true
	case "comment":
		return EntityComment, true
	case "session":
		return EntitySession, true
	case "checkpoint":
		return EntityCheckpoint, true
	case "artifact":
		return EntityArtifact, true
	case "initiative":
		return EntityInitiative, true
	case "worker":
		return EntityWorker, true
	case "run":
		return EntityRun, true
	default:
		return "", false
	}
}

// EventType is open-ended: known dotted names are listed as constants but
// any string round-trips, since the polled families (task.next,
// project.next) are never literal rows and worker filters must still match
// against them.
type EventType string

const (
	EventProjectCreated  EventType = "project.created"
	EventProjectUpdated  EventType = "project.updated"
	EventProjectArchived EventType = "project.archived"

	EventTaskCreated       EventType = "task.created"
	EventTaskUpdated       EventType = "task.updated"
	EventTaskStatusChanged EventType = "task.status_changed"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskBlocked       EventType = "task.blocked"
	EventTaskUnblocked     EventType = "task.unblocked"
	EventTaskClaimed       EventType = "task.claimed"
	EventTaskReleased      EventType = "task.released"
	EventTaskNext          EventType = "task.next" // polled, synthetic

	EventDependencyAdded   EventType = "dependency.added"
	EventDependencyRemoved EventType = "dependency.removed"

	EventCommentCreated EventType = "comment.created"
	EventCommentUpdated EventType = "comment.updated"

	EventSessionStarted      EventType = "session.started"
	EventSessionUpdated      EventType = "session.updated"
	EventSessionClosed       EventType = "session.closed"
	EventSessionScopeAdded   EventType = "session.scope_added"
	EventSessionScopeRemoved EventType = "session.scope_removed"
	EventSessionFocusChanged EventType = "session.focus_changed"

	EventCheckpointCreated  EventType = "checkpoint.created"
	EventCheckpointRestored EventType = "checkpoint.restored"

	EventArtifactAdded   EventType = "artifact.added"
	EventArtifactRemoved EventType = "artifact.removed"

	EventInitiativeCreated  EventType = "initiative.created"
	EventInitiativeUpdated  EventType = "initiative.updated"
	EventInitiativeArchived EventType = "initiative.archived"

	EventProjectNext EventType = "project.next" // polled, synthetic

	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
)

func (e EventType) String() string { return string(e) }
