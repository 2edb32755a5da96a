package memory

import (
	"context"
	"sort"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateProject(ctx context.Context, in types.CreateProject, ec storage.EditContext) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := ids.GenerateProjectID(in.Name)
	p := &types.Project{
		ID: id, Slug: id, Name: in.Name, Description: in.Description, Owner: in.Owner,
		Status: types.ProjectStatusActive, Tags: cloneStrings(in.Tags), DefaultSessionPolicy: in.DefaultSessionPolicy,
		SteeringRefs: cloneStrings(in.SteeringRefs), CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	s.projects[id] = p
	s.appendEventLocked(types.EventProjectCreated, types.EntityProject, id, ec, map[string]any{"id": id, "name": in.Name})
	out := *p
	return &out, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, storage.NotFoundf("project %s not found", id)
	}
	out := *p
	return &out, nil
}

// UpdateProject applies the given field changes and, when status moves to
// archived, reproduces the cascade the SQLite trigger set performs: this
// has no further effect here since the archival itself is the cascade
// target (tasks reaching done drive project archival the other direction,
// see updateTaskLocked).
func (s *Store) UpdateProject(ctx context.Context, id string, version int64, upd types.UpdateProject, ec storage.EditContext) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, storage.NotFoundf("project %s not found", id)
	}
	if p.Version != version {
		return nil, storage.Conflictf("project %s: version mismatch (have %d, want %d)", id, p.Version, version)
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = upd.Description
	}
	if upd.Owner != nil {
		p.Owner = upd.Owner
	}
	wasArchived := p.Status == types.ProjectStatusArchived
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.Tags != nil {
		p.Tags = cloneStrings(upd.Tags)
	}
	if upd.DefaultSessionPolicy != nil {
		p.DefaultSessionPolicy = upd.DefaultSessionPolicy
	}
	if upd.SteeringRefs != nil {
		p.SteeringRefs = cloneStrings(upd.SteeringRefs)
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()

	s.appendEventLocked(types.EventProjectUpdated, types.EntityProject, id, ec, map[string]any{"id": id, "status": string(p.Status)})
	if p.Status == types.ProjectStatusArchived && !wasArchived {
		s.appendEventLocked(types.EventProjectArchived, types.EntityProject, id, ec, map[string]any{"id": id})
	}

	out := *p
	return &out, nil
}

func (s *Store) ListProjects(ctx context.Context, status *types.ProjectStatus) ([]*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Project
	for _, p := range s.projects {
		if status != nil && p.Status != *status {
			continue
		}
		v := *p
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddProjectDependency(ctx context.Context, projectID, dependsOnProjectID string, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projDeps[projectID] == nil {
		s.projDeps[projectID] = map[string]bool{}
	}
	s.projDeps[projectID][dependsOnProjectID] = true
	s.appendEventLocked(types.EventDependencyAdded, types.EntityProject, projectID, ec, map[string]any{"depends_on": dependsOnProjectID})
	return nil
}

func (s *Store) RemoveProjectDependency(ctx context.Context, projectID, dependsOnProjectID string, ec storage.EditContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projDeps[projectID], dependsOnProjectID)
	s.appendEventLocked(types.EventDependencyRemoved, types.EntityProject, projectID, ec, map[string]any{"depends_on": dependsOnProjectID})
	return nil
}

func (s *Store) ProjectDependencies(ctx context.Context, projectID string) ([]*types.ProjectDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ProjectDependency
	for _, dep := range sortedKeys(s.projDeps[projectID]) {
		out = append(out, &types.ProjectDependency{ProjectID: projectID, DependsOnProjectID: dep})
	}
	return out, nil
}

func (s *Store) ProjectDependents(ctx context.Context, projectID string) ([]*types.ProjectDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ProjectDependency
	for pid, deps := range s.projDeps {
		if deps[projectID] {
			out = append(out, &types.ProjectDependency{ProjectID: pid, DependsOnProjectID: projectID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

// projectSatisfiedLocked reports whether dependency edge projectID ->
// dependsOn is satisfied: the depended-on project is archived, or has no
// non-draft, non-done tasks left. Callers must hold s.mu.
func (s *Store) projectSatisfiedLocked(dependsOn string) bool {
	p, ok := s.projects[dependsOn]
	if !ok {
		return true
	}
	if p.Status == types.ProjectStatusArchived {
		return true
	}
	for _, t := range s.tasks {
		if t.ProjectID == dependsOn && t.Status != types.TaskStatusDraft && t.Status != types.TaskStatusDone {
			return false
		}
	}
	return true
}
