package types

import "time"

// Task is the atomic unit of actionable work within a Project.
type Task struct {
	ID            string
	ProjectID     string
	TaskNumber    int64
	ParentTaskID  *string
	Title         string
	Description   *string
	Status        TaskStatus
	Priority      TaskPriority
	Owner         *string
	Tags          []string
	BlockedReason *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DueAt         *time.Time

	ClaimOwner          *string
	ClaimClaimedAt      *time.Time
	ClaimLeaseExpiresAt *time.Time

	Pinned      bool
	FocusWeight int64

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// IsBlocked is true when status is blocked OR a stale blocked_reason is
// still set from an earlier status, per SPEC_FULL.md §3.1. The scheduler's
// actionability check only looks at Status, not this helper.
func (t *Task) IsBlocked() bool {
	return t.Status == TaskStatusBlocked || t.BlockedReason != nil
}

// IsClaimed reports whether the task currently carries a live (unexpired)
// claim lease, evaluated against now.
func (t *Task) IsClaimed(now time.Time) bool {
	if t.ClaimOwner == nil || t.ClaimLeaseExpiresAt == nil {
		return false
	}
	return t.ClaimLeaseExpiresAt.After(now)
}

// ClaimInfo is the assembled read-view of a task's claim, or nil if unclaimed.
type ClaimInfo struct {
	Owner          string
	ClaimedAt      time.Time
	LeaseExpiresAt *time.Time
}

func (t *Task) Claim() *ClaimInfo {
	if t.ClaimOwner == nil || t.ClaimClaimedAt == nil {
		return nil
	}
	return &ClaimInfo{
		Owner:          *t.ClaimOwner,
		ClaimedAt:      *t.ClaimClaimedAt,
		LeaseExpiresAt: t.ClaimLeaseExpiresAt,
	}
}

// TaskDependency records that TaskID cannot become actionable until
// DependsOnTaskID reaches TaskStatusDone.
type TaskDependency struct {
	TaskID          string
	DependsOnTaskID string
	CreatedAt       time.Time
}

// CreateTask is the input to create a new Task.
type CreateTask struct {
	ProjectID    string
	ParentTaskID *string
	Title        string
	Description  *string
	Priority     TaskPriority
	Owner        *string
	Tags         []string
	DueAt        *time.Time
}

// UpdateTask carries optional field updates; nil fields are untouched.
type UpdateTask struct {
	Title         *string
	Description   *string
	Status        *TaskStatus
	Priority      *TaskPriority
	Owner         *string
	Tags          []string
	BlockedReason *string
	DueAt         *time.Time
	Pinned        *bool
	FocusWeight   *int64
}
