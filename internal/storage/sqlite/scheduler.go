package sqlite

import (
	"context"
	"time"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// ActionableTasks returns every task eligible for the scheduler's ranking
// pass, per spec.md §4.2: status in {todo, in_progress}, every task
// dependency done, every project dependency satisfied (the depended-on
// project has no non-draft, non-done tasks left, i.e. is effectively
// archived), and either unclaimed, claim-expired, or claimed by
// requestOwner. internal/scheduler applies the ranking tuple on top of this
// set; this query only narrows to "could possibly be returned".
func (s *Store) ActionableTasks(ctx context.Context, projectIDs []string, asOf time.Time, requestOwner *string) ([]*types.Task, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	query := taskSelectSQL + `
		WHERE project_id IN (` + placeholders(len(projectIDs)) + `)
		AND status IN ('todo', 'in_progress')
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies td
			JOIN tasks dep ON dep.id = td.depends_on_task_id
			WHERE td.task_id = tasks.id AND dep.status != 'done'
		)
		AND NOT EXISTS (
			SELECT 1 FROM project_dependencies pd
			JOIN projects p ON p.id = pd.depends_on_project_id
			WHERE pd.project_id = tasks.project_id
				AND p.status != 'archived'
				AND EXISTS (SELECT 1 FROM tasks t2 WHERE t2.project_id = p.id AND t2.status != 'draft' AND t2.status != 'done')
		)
		AND (
			claim_owner IS NULL
			OR claim_lease_expires_at IS NULL
			OR claim_lease_expires_at <= ?
			OR claim_owner = ?
		)
	`

	args := make([]any, 0, len(projectIDs)+2)
	for _, id := range projectIDs {
		args = append(args, id)
	}
	args = append(args, asOf, ownerOrEmpty(requestOwner))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "actionable tasks", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func ownerOrEmpty(owner *string) string {
	if owner == nil {
		return ""
	}
	return *owner
}
