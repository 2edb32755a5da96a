package memory

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/types"
)

// ActionableTasks mirrors the SQLite backend's query in plain Go: status in
// {todo, in_progress}, every task dependency done, every project dependency
// satisfied, and either unclaimed, claim-expired, or claimed by
// requestOwner. internal/scheduler applies ranking on top of this set.
func (s *Store) ActionableTasks(ctx context.Context, projectIDs []string, asOf time.Time, requestOwner *string) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(projectIDs) == 0 {
		return nil, nil
	}
	projectSet := map[string]bool{}
	for _, id := range projectIDs {
		projectSet[id] = true
	}
	owner := ""
	if requestOwner != nil {
		owner = *requestOwner
	}

	var out []*types.Task
	for _, t := range s.tasks {
		if !projectSet[t.ProjectID] {
			continue
		}
		if t.Status != types.TaskStatusTodo && t.Status != types.TaskStatusInProgress {
			continue
		}
		if !s.taskDepsDoneLocked(t.ID) {
			continue
		}
		if !s.projectDepsSatisfiedLocked(t.ProjectID) {
			continue
		}
		if t.ClaimOwner != nil && t.ClaimLeaseExpiresAt != nil && t.ClaimLeaseExpiresAt.After(asOf) && *t.ClaimOwner != owner {
			continue
		}
		v := *t
		out = append(out, &v)
	}
	return out, nil
}

func (s *Store) taskDepsDoneLocked(taskID string) bool {
	for dep := range s.taskDeps[taskID] {
		other, ok := s.tasks[dep]
		if !ok || other.Status != types.TaskStatusDone {
			return false
		}
	}
	return true
}

func (s *Store) projectDepsSatisfiedLocked(projectID string) bool {
	for dep := range s.projDeps[projectID] {
		if !s.projectSatisfiedLocked(dep) {
			return false
		}
	}
	return true
}
