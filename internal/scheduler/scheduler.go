// Package scheduler answers the two scheduling queries used by workers and
// by `granary next`: the single best actionable task for a scope, and the
// full ranked list. Actionability is narrowed at the storage layer
// (storage.Store.ActionableTasks); this package owns scope composition
// (project / initiative / global) and the ranking tie-break tuple.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// Scope selects which projects' tasks are considered. Exactly one field
// should be set; ProjectID takes precedence over InitiativeID, which takes
// precedence over Global.
type Scope struct {
	ProjectID    *string
	InitiativeID *string
	Global       bool
}

// resolveProjectIDs composes the project set for a scope, per spec.md §4.2's
// scope composition rules.
func resolveProjectIDs(ctx context.Context, store storage.Store, scope Scope) ([]string, error) {
	if scope.ProjectID != nil {
		return []string{*scope.ProjectID}, nil
	}
	if scope.InitiativeID != nil {
		projects, err := store.ListInitiativeProjects(ctx, *scope.InitiativeID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(projects))
		for i, p := range projects {
			ids[i] = p.ID
		}
		return ids, nil
	}
	active := types.ProjectStatusActive
	projects, err := store.ListProjects(ctx, &active)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	return ids, nil
}

// ListActionable returns every actionable task in scope, ranked best-first.
func ListActionable(ctx context.Context, store storage.Store, scope Scope, asOf time.Time, requestOwner *string) ([]*types.Task, error) {
	projectIDs, err := resolveProjectIDs(ctx, store, scope)
	if err != nil {
		return nil, err
	}
	tasks, err := store.ActionableTasks(ctx, projectIDs, asOf, requestOwner)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
	return tasks, nil
}

// Next returns the single best actionable task in scope, or nil if none.
func Next(ctx context.Context, store storage.Store, scope Scope, asOf time.Time, requestOwner *string) (*types.Task, error) {
	tasks, err := ListActionable(ctx, store, scope, asOf, requestOwner)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return tasks[0], nil
}

// less implements the ranking tuple:
// (pinned DESC, focus_weight DESC, priority_order ASC, in_progress_first DESC,
//  due_at ASC nulls-last, created_at ASC, id ASC).
func less(a, b *types.Task) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	if a.FocusWeight != b.FocusWeight {
		return a.FocusWeight > b.FocusWeight
	}
	if pa, pb := a.Priority.Order(), b.Priority.Order(); pa != pb {
		return pa < pb
	}
	aInProgress := a.Status == types.TaskStatusInProgress
	bInProgress := b.Status == types.TaskStatusInProgress
	if aInProgress != bInProgress {
		return aInProgress
	}
	if cmp, ok := compareDueAt(a.DueAt, b.DueAt); ok {
		return cmp
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// compareDueAt orders by due_at ascending with nulls last. ok is false when
// the two values tie (both nil, or equal times) and the caller should fall
// through to the next tie-break key.
func compareDueAt(a, b *time.Time) (less bool, ok bool) {
	if a == nil && b == nil {
		return false, false
	}
	if a == nil {
		return false, true
	}
	if b == nil {
		return true, true
	}
	if a.Equal(*b) {
		return false, false
	}
	return a.Before(*b), true
}
