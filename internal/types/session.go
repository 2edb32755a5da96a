package types

import "time"

// Session is a working context: a scoped set of entities an agent or
// operator is actively working against, plus a focus task and variables.
type Session struct {
	ID          string
	Name        *string
	Owner       *string
	Mode        SessionMode
	FocusTaskID *string
	Variables   map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

func (s *Session) IsClosed() bool { return s.ClosedAt != nil }

// SessionScope pins one entity into a Session's working set.
type SessionScope struct {
	SessionID string
	ItemType  ScopeItemType
	ItemID    string
	PinnedAt  time.Time
}

// CreateSession is the input to start a new Session.
type CreateSession struct {
	Name  *string
	Owner *string
	Mode  SessionMode
}

// UpdateSession carries optional field updates; nil fields are untouched.
// Variables, when non-nil, replaces the full variable map.
type UpdateSession struct {
	Name        *string
	Owner       *string
	Mode        *SessionMode
	FocusTaskID *string
	Variables   map[string]string
}
