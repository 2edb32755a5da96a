package types

import (
	"encoding/json"
	"time"
)

// Event is one row in the append-only, monotonically-ordered audit log.
// ID is the total order; consumers track progress with a cursor over it.
type Event struct {
	ID         int64
	EventType  EventType
	EntityType EntityType
	EntityID   string
	Actor      *string
	SessionID  *string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// CreateEvent is the input to append a new Event.
type CreateEvent struct {
	EventType  EventType
	EntityType EntityType
	EntityID   string
	Actor      *string
	SessionID  *string
	Payload    json.RawMessage
}

// EventConsumer tracks one named consumer's progress through the event log.
type EventConsumer struct {
	ID         string
	EventType  EventType
	StartedAt  time.Time
	LastSeenID int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
