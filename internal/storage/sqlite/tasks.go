package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateTask(ctx context.Context, in types.CreateTask, ec storage.EditContext) (*types.Task, error) {
	now := time.Now().UTC()
	tagsJSON, err := marshalTags(in.Tags)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal tags", err)
	}

	var out *types.Task
	err = s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		taskNumber, err := nextCounter(ctx, tx, "task:"+in.ProjectID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "task number", err)
		}
		id := ids.GenerateTaskID(in.ProjectID, taskNumber)
		priority := in.Priority
		if priority == "" {
			priority = types.PriorityP2
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, task_number, parent_task_id, title, description, status, priority,
				owner, tags, due_at, pinned, focus_weight, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 'draft', ?, ?, ?, ?, 0, 0, ?, ?, 1)
		`, id, in.ProjectID, taskNumber, nullableStringPtr2(in.ParentTaskID), in.Title, nullableStringPtr2(in.Description),
			string(priority), nullableStringPtr2(in.Owner), tagsJSON, nullableTimePtr(in.DueAt), now, now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert task", err)
		}

		out = &types.Task{
			ID: id, ProjectID: in.ProjectID, TaskNumber: taskNumber, ParentTaskID: in.ParentTaskID,
			Title: in.Title, Description: in.Description, Status: types.TaskStatusDraft, Priority: priority,
			Owner: in.Owner, Tags: in.Tags, DueAt: in.DueAt, CreatedAt: now, UpdatedAt: now, Version: 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectSQL+` WHERE id = ?`, id)
	return scanTask(row)
}

const taskSelectSQL = `
	SELECT id, project_id, task_number, parent_task_id, title, description, status, priority, owner, tags,
		blocked_reason, started_at, completed_at, due_at, claim_owner, claim_claimed_at, claim_lease_expires_at,
		pinned, focus_weight, created_at, updated_at, version
	FROM tasks`

func (s *Store) UpdateTask(ctx context.Context, id string, version int64, upd types.UpdateTask, ec storage.EditContext) (*types.Task, error) {
	var out *types.Task
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		var err error
		out, err = updateTaskTx(ctx, tx, id, version, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func updateTaskTx(ctx context.Context, tx *sql.Tx, id string, version int64, upd types.UpdateTask) (*types.Task, error) {
	current, err := scanTaskTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != version {
		return nil, storage.Conflictf("task %s: version mismatch (have %d, want %d)", id, current.Version, version)
	}

	title := current.Title
	if upd.Title != nil {
		title = *upd.Title
	}
	description := current.Description
	if upd.Description != nil {
		description = upd.Description
	}
	status := current.Status
	if upd.Status != nil {
		status = *upd.Status
	}
	priority := current.Priority
	if upd.Priority != nil {
		priority = *upd.Priority
	}
	owner := current.Owner
	if upd.Owner != nil {
		owner = upd.Owner
	}
	tags := current.Tags
	if upd.Tags != nil {
		tags = upd.Tags
	}
	blockedReason := current.BlockedReason
	if upd.BlockedReason != nil {
		blockedReason = upd.BlockedReason
	}
	dueAt := current.DueAt
	if upd.DueAt != nil {
		dueAt = upd.DueAt
	}
	pinned := current.Pinned
	if upd.Pinned != nil {
		pinned = *upd.Pinned
	}
	focusWeight := current.FocusWeight
	if upd.FocusWeight != nil {
		focusWeight = *upd.FocusWeight
	}

	now := time.Now().UTC()
	startedAt := current.StartedAt
	if status == types.TaskStatusInProgress && current.Status != types.TaskStatusInProgress {
		startedAt = &now
	}
	completedAt := current.CompletedAt
	if status == types.TaskStatusDone && current.Status != types.TaskStatusDone {
		completedAt = &now
	}

	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal tags", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, owner = ?, tags = ?,
			blocked_reason = ?, started_at = ?, completed_at = ?, due_at = ?, pinned = ?, focus_weight = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, title, nullableStringPtr2(description), string(status), string(priority), nullableStringPtr2(owner), tagsJSON,
		nullableStringPtr2(blockedReason), nullableTimePtr(startedAt), nullableTimePtr(completedAt), nullableTimePtr(dueAt),
		boolToInt(pinned), focusWeight, now, id, version)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.Conflictf("task %s: concurrent update", id)
	}
	return scanTaskTx(ctx, tx, id)
}

func (s *Store) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]*types.Task, error) {
	query := taskSelectSQL + ` WHERE project_id = ?`
	args := []any{projectID}
	if len(filter.Status) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Status)) + `)`
		for _, st := range filter.Status {
			args = append(args, string(st))
		}
	}
	if filter.Owner != nil {
		query += ` AND owner = ?`
		args = append(args, *filter.Owner)
	}
	if filter.ParentID != nil {
		query += ` AND parent_task_id = ?`
		args = append(args, *filter.ParentID)
	}
	query += ` ORDER BY task_number ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list tasks", err)
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

func (s *Store) AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID string, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at) VALUES (?, ?, ?)
		`, taskID, dependsOnTaskID, time.Now().UTC())
		if err != nil {
			return storage.Wrap(storage.KindIo, "add task dependency", err)
		}
		return nil
	})
}

func (s *Store) RemoveTaskDependency(ctx context.Context, taskID, dependsOnTaskID string, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?
		`, taskID, dependsOnTaskID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "remove task dependency", err)
		}
		return nil
	})
}

func (s *Store) TaskDependencies(ctx context.Context, taskID string) ([]*types.TaskDependency, error) {
	return queryTaskDeps(ctx, s.db, `SELECT task_id, depends_on_task_id, created_at FROM task_dependencies WHERE task_id = ?`, taskID)
}

func (s *Store) TaskDependents(ctx context.Context, taskID string) ([]*types.TaskDependency, error) {
	return queryTaskDeps(ctx, s.db, `SELECT task_id, depends_on_task_id, created_at FROM task_dependencies WHERE depends_on_task_id = ?`, taskID)
}

func queryTaskDeps(ctx context.Context, db *sql.DB, query, id string) ([]*types.TaskDependency, error) {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "query task dependencies", err)
	}
	defer rows.Close()

	var out []*types.TaskDependency
	for rows.Next() {
		var d types.TaskDependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID, &d.CreatedAt); err != nil {
			return nil, storage.Wrap(storage.KindIo, "scan task dependency", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func scanTask(row *sql.Row) (*types.Task, error)   { return scanTaskGeneric(row) }
func scanTaskRows(rows *sql.Rows) (*types.Task, error) { return scanTaskGeneric(rows) }

func scanTaskTx(ctx context.Context, tx *sql.Tx, id string) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, taskSelectSQL+` WHERE id = ?`, id)
	return scanTaskGeneric(row)
}

func scanTaskGeneric(r scannableRow) (*types.Task, error) {
	var t types.Task
	var parentTaskID, description, owner, blockedReason, claimOwner sql.NullString
	var startedAt, completedAt, dueAt, claimClaimedAt, claimLeaseExpiresAt sql.NullTime
	var tagsJSON string
	var pinnedInt int

	if err := r.Scan(&t.ID, &t.ProjectID, &t.TaskNumber, &parentTaskID, &t.Title, &description, &t.Status, &t.Priority,
		&owner, &tagsJSON, &blockedReason, &startedAt, &completedAt, &dueAt, &claimOwner, &claimClaimedAt, &claimLeaseExpiresAt,
		&pinnedInt, &t.FocusWeight, &t.CreatedAt, &t.UpdatedAt, &t.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("task not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan task", err)
	}

	if parentTaskID.Valid {
		t.ParentTaskID = &parentTaskID.String
	}
	if description.Valid {
		t.Description = &description.String
	}
	if owner.Valid {
		t.Owner = &owner.String
	}
	if blockedReason.Valid {
		t.BlockedReason = &blockedReason.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.Time
	}
	if claimOwner.Valid {
		t.ClaimOwner = &claimOwner.String
	}
	if claimClaimedAt.Valid {
		t.ClaimClaimedAt = &claimClaimedAt.Time
	}
	if claimLeaseExpiresAt.Valid {
		t.ClaimLeaseExpiresAt = &claimLeaseExpiresAt.Time
	}
	t.Pinned = pinnedInt != 0

	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal tags", err)
	}
	t.Tags = tags
	return &t, nil
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
