package memory

import (
	"context"
	"sort"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateTask(ctx context.Context, in types.CreateTask, ec storage.EditContext) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	taskNumber := s.nextCounter("task:" + in.ProjectID)
	id := ids.GenerateTaskID(in.ProjectID, taskNumber)
	priority := in.Priority
	if priority == "" {
		priority = types.PriorityP2
	}

	t := &types.Task{
		ID: id, ProjectID: in.ProjectID, TaskNumber: taskNumber, ParentTaskID: in.ParentTaskID,
		Title: in.Title, Description: in.Description, Status: types.TaskStatusDraft, Priority: priority,
		Owner: in.Owner, Tags: cloneStrings(in.Tags), DueAt: in.DueAt, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	s.tasks[id] = t
	s.appendEventLocked(types.EventTaskCreated, types.EntityTask, id, ec, map[string]any{"id": id, "project_id": in.ProjectID, "title": in.Title})

	out := *t
	return &out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.NotFoundf("task %s not found", id)
	}
	out := *t
	return &out, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, version int64, upd types.UpdateTask, ec storage.EditContext) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTaskLocked(id, version, upd, ec)
}

// updateTaskLocked applies the field changes and reproduces, in plain Go,
// every side effect the SQLite trigger set performs on a task update:
// started_at/completed_at stamping, status_changed/started/completed/blocked
// events, claim release on terminal status, cascading project archival when
// the last live task in a project finishes, and unblock notifications to
// dependent tasks. Callers must hold s.mu.
func (s *Store) updateTaskLocked(id string, version int64, upd types.UpdateTask, ec storage.EditContext) (*types.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.NotFoundf("task %s not found", id)
	}
	if t.Version != version {
		return nil, storage.Conflictf("task %s: version mismatch (have %d, want %d)", id, t.Version, version)
	}

	prevStatus := t.Status
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = upd.Description
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	if upd.Owner != nil {
		t.Owner = upd.Owner
	}
	if upd.Tags != nil {
		t.Tags = cloneStrings(upd.Tags)
	}
	if upd.BlockedReason != nil {
		t.BlockedReason = upd.BlockedReason
	}
	if upd.DueAt != nil {
		t.DueAt = upd.DueAt
	}
	if upd.Pinned != nil {
		t.Pinned = *upd.Pinned
	}
	if upd.FocusWeight != nil {
		t.FocusWeight = *upd.FocusWeight
	}

	now := time.Now().UTC()
	if t.Status == types.TaskStatusInProgress && prevStatus != types.TaskStatusInProgress {
		t.StartedAt = &now
	}
	if t.Status == types.TaskStatusDone && prevStatus != types.TaskStatusDone {
		t.CompletedAt = &now
	}
	t.Version++
	t.UpdatedAt = now

	s.appendEventLocked(types.EventTaskUpdated, types.EntityTask, id, ec, map[string]any{"id": id})
	if t.Status != prevStatus {
		s.appendEventLocked(types.EventTaskStatusChanged, types.EntityTask, id, ec, map[string]any{"id": id, "from": string(prevStatus), "to": string(t.Status)})
		switch t.Status {
		case types.TaskStatusInProgress:
			s.appendEventLocked(types.EventTaskStarted, types.EntityTask, id, ec, map[string]any{"id": id})
		case types.TaskStatusDone:
			s.appendEventLocked(types.EventTaskCompleted, types.EntityTask, id, ec, map[string]any{"id": id})
		case types.TaskStatusBlocked:
			s.appendEventLocked(types.EventTaskBlocked, types.EntityTask, id, ec, map[string]any{"id": id, "reason": ptrOrEmpty(t.BlockedReason)})
		}

		if (t.Status == types.TaskStatusDone || t.Status == types.TaskStatusBlocked) && t.ClaimOwner != nil {
			t.ClaimOwner = nil
			t.ClaimClaimedAt = nil
			t.ClaimLeaseExpiresAt = nil
			s.appendEventLocked(types.EventTaskReleased, types.EntityTask, id, ec, map[string]any{"id": id})
		}

		if t.Status == types.TaskStatusDone {
			s.cascadeProjectArchiveLocked(t.ProjectID, ec)
			s.unblockDependentsLocked(id, ec)
		}
	}

	out := *t
	return &out, nil
}

// cascadeProjectArchiveLocked archives a project once none of its tasks are
// left in a non-draft, non-done state, mirroring trg_tasks_cascade_project_archive.
// Callers must hold s.mu.
func (s *Store) cascadeProjectArchiveLocked(projectID string, ec storage.EditContext) {
	p, ok := s.projects[projectID]
	if !ok || p.Status == types.ProjectStatusArchived {
		return
	}
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.Status != types.TaskStatusDraft && t.Status != types.TaskStatusDone {
			return
		}
	}
	p.Status = types.ProjectStatusArchived
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	s.appendEventLocked(types.EventProjectArchived, types.EntityProject, projectID, ec, map[string]any{"id": projectID, "cascade": true})
}

// unblockDependentsLocked notifies tasks that depended on doneTaskID, when
// all of their task dependencies are now done and their project's incoming
// dependencies are satisfied. Draft dependents are excluded: a draft task
// isn't actionable regardless of its dependency state, so the notification
// would be premature. Mirrors trg_tasks_unblock_dependents. Callers must
// hold s.mu.
func (s *Store) unblockDependentsLocked(doneTaskID string, ec storage.EditContext) {
	var dependents []string
	for taskID, deps := range s.taskDeps {
		if deps[doneTaskID] {
			dependents = append(dependents, taskID)
		}
	}
	sort.Strings(dependents)

	for _, depID := range dependents {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status == types.TaskStatusDraft {
			continue
		}
		allDepsDone := true
		for dependsOn := range s.taskDeps[depID] {
			other, ok := s.tasks[dependsOn]
			if !ok || other.Status != types.TaskStatusDone {
				allDepsDone = false
				break
			}
		}
		if !allDepsDone {
			continue
		}
		projectDepsOK := true
		for dependsOnProject := range s.projDeps[dep.ProjectID] {
			if !s.projectSatisfiedLocked(dependsOnProject) {
				projectDepsOK = false
				break
			}
		}
		if !projectDepsOK {
			continue
		}
		s.appendEventLocked(types.EventTaskUnblocked, types.EntityTask, depID, ec, map[string]any{"id": depID})
	}
}

func (s *Store) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statusSet := map[types.TaskStatus]bool{}
	for _, st := range filter.Status {
		statusSet[st] = true
	}

	var out []*types.Task
	for _, t := range s.tasks {
		if t.ProjectID != projectID {
			continue
		}
		if len(statusSet) > 0 && !statusSet[t.Status] {
			continue
		}
		if filter.Owner != nil && (t.Owner == nil || *t.Owner != *filter.Owner) {
			continue
		}
		if filter.ParentID != nil && (t.ParentTaskID == nil || *t.ParentTaskID != *filter.ParentID) {
			continue
		}
		v := *t
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskNumber < out[j].TaskNumber })
	return out, nil
}

func (s *Store) AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID string, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskDeps[taskID] == nil {
		s.taskDeps[taskID] = map[string]bool{}
	}
	s.taskDeps[taskID][dependsOnTaskID] = true
	s.appendEventLocked(types.EventDependencyAdded, types.EntityTask, taskID, ec, map[string]any{"depends_on": dependsOnTaskID})
	return nil
}

func (s *Store) RemoveTaskDependency(ctx context.Context, taskID, dependsOnTaskID string, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.taskDeps[taskID], dependsOnTaskID)
	s.appendEventLocked(types.EventDependencyRemoved, types.EntityTask, taskID, ec, map[string]any{"depends_on": dependsOnTaskID})
	return nil
}

func (s *Store) TaskDependencies(ctx context.Context, taskID string) ([]*types.TaskDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.TaskDependency
	for _, dep := range sortedKeys(s.taskDeps[taskID]) {
		out = append(out, &types.TaskDependency{TaskID: taskID, DependsOnTaskID: dep})
	}
	return out, nil
}

func (s *Store) TaskDependents(ctx context.Context, taskID string) ([]*types.TaskDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.TaskDependency
	for tid, deps := range s.taskDeps {
		if deps[taskID] {
			out = append(out, &types.TaskDependency{TaskID: tid, DependsOnTaskID: taskID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func ptrOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
