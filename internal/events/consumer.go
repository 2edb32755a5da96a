package events

import (
	"context"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// ReadNew fetches up to batch raw events of eventType after the consumer's
// durable cursor, in id order. Filtering (dropping non-matching events) and
// cursor advancement are left to the caller: per spec.md §4.5 steps 4 and 7,
// the worker runtime applies the filter and persists the cursor one event
// at a time, only past a successfully dispatched event, so a crash between
// read and dispatch re-delivers rather than skips.
func ReadNew(ctx context.Context, store storage.Store, consumerID string, eventType types.EventType, batch int) ([]*types.Event, error) {
	consumer, err := store.GetOrCreateConsumer(ctx, consumerID, eventType)
	if err != nil {
		return nil, err
	}
	return store.ReadEvents(ctx, storage.EventFilter{AfterID: consumer.LastSeenID, EventType: &eventType, Limit: batch})
}

// Advance persists the consumer's cursor past lastSeenID.
func Advance(ctx context.Context, store storage.Store, consumerID string, lastSeenID int64) error {
	return store.AdvanceConsumer(ctx, consumerID, lastSeenID)
}
