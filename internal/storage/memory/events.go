package memory

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) AppendEvent(ctx context.Context, ev types.CreateEvent) (*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ec := storage.EditContext{}
	if ev.Actor != nil {
		ec.Actor = *ev.Actor
	}
	if ev.SessionID != nil {
		ec.SessionID = *ev.SessionID
	}
	var payload map[string]any
	if len(ev.Payload) > 0 {
		_ = jsonUnmarshalInto(ev.Payload, &payload)
	}
	out := s.appendEventLocked(ev.EventType, ev.EntityType, ev.EntityID, ec, payload)
	v := *out
	return &v, nil
}

func (s *Store) ReadEvents(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Event
	for _, ev := range s.events {
		if ev.ID <= filter.AfterID {
			continue
		}
		if filter.EventType != nil && ev.EventType != *filter.EventType {
			continue
		}
		v := *ev
		out = append(out, &v)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetOrCreateConsumer(ctx context.Context, consumerID string, eventType types.EventType) (*types.EventConsumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.consumers[consumerID]; ok {
		v := *c
		return &v, nil
	}
	now := time.Now().UTC()
	c := &types.EventConsumer{ID: consumerID, EventType: eventType, StartedAt: now, LastSeenID: 0, CreatedAt: now, UpdatedAt: now}
	s.consumers[consumerID] = c
	v := *c
	return &v, nil
}

func (s *Store) AdvanceConsumer(ctx context.Context, consumerID string, lastSeenID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.consumers[consumerID]
	if !ok {
		return nil
	}
	if lastSeenID > c.LastSeenID {
		c.LastSeenID = lastSeenID
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}
