package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// AppendEvent inserts a row directly, bypassing the edit_context stamping
// used by entity mutations. It exists for application-level event sources
// that aren't table triggers: internal/runner's run.* events (the global
// workers.db and a workspace's granary.db are separate SQLite files, so a
// trigger can't bridge them) and any other out-of-band emitter.
func (s *Store) AppendEvent(ctx context.Context, ev types.CreateEvent) (*types.Event, error) {
	return appendEvent(ctx, s.db, ev)
}

func appendEvent(ctx context.Context, db interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, ev types.CreateEvent) (*types.Event, error) {
	now := time.Now().UTC()
	payload := marshalRawOrEmpty(ev.Payload, "{}")

	row := db.QueryRowContext(ctx, `
		INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, event_type, entity_type, entity_id, actor, session_id, payload, created_at
	`, string(ev.EventType), string(ev.EntityType), ev.EntityID, nullableStringPtr2(ev.Actor), nullableStringPtr2(ev.SessionID), payload, now)
	return scanEvent(row)
}

func (s *Store) ReadEvents(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	query := `SELECT id, event_type, entity_type, entity_id, actor, session_id, payload, created_at FROM events WHERE id > ?`
	args := []any{filter.AfterID}
	if filter.EventType != nil {
		query += ` AND event_type = ?`
		args = append(args, string(*filter.EventType))
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "read events", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		ev, err := scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) GetOrCreateConsumer(ctx context.Context, consumerID string, eventType types.EventType) (*types.EventConsumer, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO event_consumers (id, event_type, started_at, last_seen_id, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, consumerID, string(eventType), now, now, now)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "create event consumer", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, started_at, last_seen_id, created_at, updated_at FROM event_consumers WHERE id = ?
	`, consumerID)
	var c types.EventConsumer
	if err := row.Scan(&c.ID, &c.EventType, &c.StartedAt, &c.LastSeenID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("event consumer %s not found", consumerID)
		}
		return nil, storage.Wrap(storage.KindIo, "scan event consumer", err)
	}
	return &c, nil
}

func (s *Store) AdvanceConsumer(ctx context.Context, consumerID string, lastSeenID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_consumers SET last_seen_id = ?, updated_at = ? WHERE id = ? AND last_seen_id < ?
	`, lastSeenID, time.Now().UTC(), consumerID, lastSeenID)
	if err != nil {
		return storage.Wrap(storage.KindIo, "advance event consumer", err)
	}
	return nil
}

func scanEvent(row *sql.Row) (*types.Event, error) { return scanEventGeneric(row) }
func scanEventRows(rows *sql.Rows) (*types.Event, error) { return scanEventGeneric(rows) }

func scanEventGeneric(r scannableRow) (*types.Event, error) {
	var ev types.Event
	var actor, sessionID sql.NullString
	var payload string
	if err := r.Scan(&ev.ID, &ev.EventType, &ev.EntityType, &ev.EntityID, &actor, &sessionID, &payload, &ev.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("event not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan event", err)
	}
	if actor.Valid {
		ev.Actor = &actor.String
	}
	if sessionID.Valid {
		ev.SessionID = &sessionID.String
	}
	ev.Payload = json.RawMessage(payload)
	return &ev, nil
}
