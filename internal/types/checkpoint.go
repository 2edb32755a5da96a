package types

import "time"

// Checkpoint is a point-in-time snapshot of a Session's state, restorable
// later in one transaction (scope membership, focus task, variables, and
// the excerpted per-task fields listed in TaskSnapshot).
type Checkpoint struct {
	ID        string
	SessionID string
	Name      string
	Snapshot  SessionSnapshot
	CreatedAt time.Time
}

// SessionSnapshot is the JSON-serializable payload stored in
// Checkpoint.Snapshot.
type SessionSnapshot struct {
	Session   SessionSnapshotData `json:"session"`
	Scope     []ScopeItem         `json:"scope"`
	Tasks     []TaskSnapshot      `json:"tasks"`
	Variables map[string]string   `json:"variables"`
}

// SessionSnapshotData is the subset of Session fields captured at
// checkpoint time.
type SessionSnapshotData struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Owner       *string `json:"owner,omitempty"`
	Mode        *string `json:"mode,omitempty"`
	FocusTaskID *string `json:"focus_task_id,omitempty"`
}

// ScopeItem is one pinned entity in the snapshot's scope list.
type ScopeItem struct {
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
}

// TaskSnapshot is the excerpted, restorable subset of Task fields: the
// fields a checkpoint restore rehydrates in one transaction.
type TaskSnapshot struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	Owner         *string `json:"owner,omitempty"`
	BlockedReason *string `json:"blocked_reason,omitempty"`
	Pinned        bool    `json:"pinned"`
	FocusWeight   int64   `json:"focus_weight"`
}

// CreateCheckpoint is the input to create a new Checkpoint.
type CreateCheckpoint struct {
	SessionID string
	Name      string
}
