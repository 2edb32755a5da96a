// Package memory implements storage.Store entirely in-process, for fast
// unit tests of scheduler/events/claims logic that don't want a real SQLite
// file per test. Event emission and cascades that the SQLite backend gets
// for free from triggers are reproduced here as plain Go, inline in each
// mutating method, matching the teacher's in-memory backend's approach of
// mirroring the SQL backend's externally-visible behavior without its
// storage engine.
package memory

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// Store is a mutex-protected, map-backed storage.Store.
type Store struct {
	mu sync.Mutex

	initiatives map[string]*types.Initiative
	initProj    map[string]map[string]bool

	projects  map[string]*types.Project
	projDeps  map[string]map[string]bool

	tasks    map[string]*types.Task
	taskDeps map[string]map[string]bool

	comments  map[string]*types.Comment
	artifacts map[string]*types.Artifact

	sessions map[string]*types.Session
	scope    map[string]map[types.ScopeItem]bool

	checkpoints map[string]*types.Checkpoint

	events    []*types.Event
	nextEvent int64
	consumers map[string]*types.EventConsumer

	counters map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		initiatives: map[string]*types.Initiative{},
		initProj:    map[string]map[string]bool{},
		projects:    map[string]*types.Project{},
		projDeps:    map[string]map[string]bool{},
		tasks:       map[string]*types.Task{},
		taskDeps:    map[string]map[string]bool{},
		comments:    map[string]*types.Comment{},
		artifacts:   map[string]*types.Artifact{},
		sessions:    map[string]*types.Session{},
		scope:       map[string]map[types.ScopeItem]bool{},
		checkpoints: map[string]*types.Checkpoint{},
		consumers:   map[string]*types.EventConsumer{},
		counters:    map[string]int64{},
	}
}

func (s *Store) Close() error          { return nil }
func (s *Store) Path() string          { return ":memory:" }
func (s *Store) UnderlyingDB() *sql.DB { return nil }

func (s *Store) nextCounter(namespace string) int64 {
	s.counters[namespace]++
	return s.counters[namespace]
}

// appendEventLocked must be called with s.mu held. It mirrors the SQLite
// triggers' event shape: autoincrement id, actor/session_id attribution.
func (s *Store) appendEventLocked(eventType types.EventType, entityType types.EntityType, entityID string, ec storage.EditContext, payload map[string]any) *types.Event {
	s.nextEvent++
	ev := &types.Event{
		ID: s.nextEvent, EventType: eventType, EntityType: entityType, EntityID: entityID, CreatedAt: time.Now().UTC(),
	}
	if ec.Actor != "" {
		actor := ec.Actor
		ev.Actor = &actor
	}
	if ec.SessionID != "" {
		sid := ec.SessionID
		ev.SessionID = &sid
	}
	ev.Payload = mustMarshal(payload)
	s.events = append(s.events, ev)
	return ev
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func ptrString(s string) *string { return &s }

// sortedKeys returns the keys of a map[string]bool in sorted order, used
// whenever dependency edges need deterministic iteration.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
