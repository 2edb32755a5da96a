package memory

import (
	"context"
	"sort"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateInitiative(ctx context.Context, in types.CreateInitiative, ec storage.EditContext) (*types.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := ids.GenerateInitiativeID(in.Name)
	init := &types.Initiative{
		ID: id, Slug: id, Name: in.Name, Description: in.Description, Owner: in.Owner,
		Status: types.InitiativeStatusActive, Tags: cloneStrings(in.Tags), CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	s.initiatives[id] = init
	s.appendEventLocked(types.EventInitiativeCreated, types.EntityInitiative, id, ec, map[string]any{"id": id, "name": in.Name})
	out := *init
	return &out, nil
}

func (s *Store) GetInitiative(ctx context.Context, id string) (*types.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	init, ok := s.initiatives[id]
	if !ok {
		return nil, storage.NotFoundf("initiative %s not found", id)
	}
	out := *init
	return &out, nil
}

func (s *Store) UpdateInitiative(ctx context.Context, id string, version int64, upd types.UpdateInitiative, ec storage.EditContext) (*types.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	init, ok := s.initiatives[id]
	if !ok {
		return nil, storage.NotFoundf("initiative %s not found", id)
	}
	if init.Version != version {
		return nil, storage.Conflictf("initiative %s: version mismatch (have %d, want %d)", id, init.Version, version)
	}
	if upd.Name != nil {
		init.Name = *upd.Name
	}
	if upd.Description != nil {
		init.Description = upd.Description
	}
	if upd.Owner != nil {
		init.Owner = upd.Owner
	}
	wasArchived := init.Status == types.InitiativeStatusArchived
	if upd.Status != nil {
		init.Status = *upd.Status
	}
	if upd.Tags != nil {
		init.Tags = cloneStrings(upd.Tags)
	}
	init.Version++
	init.UpdatedAt = time.Now().UTC()

	eventType := types.EventInitiativeUpdated
	if init.Status == types.InitiativeStatusArchived && !wasArchived {
		eventType = types.EventInitiativeArchived
	}
	s.appendEventLocked(eventType, types.EntityInitiative, id, ec, map[string]any{"id": id, "status": string(init.Status)})

	out := *init
	return &out, nil
}

func (s *Store) ListInitiatives(ctx context.Context, status *types.InitiativeStatus) ([]*types.Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Initiative
	for _, init := range s.initiatives {
		if status != nil && init.Status != *status {
			continue
		}
		v := *init
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) LinkInitiativeProject(ctx context.Context, initiativeID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initProj[initiativeID] == nil {
		s.initProj[initiativeID] = map[string]bool{}
	}
	s.initProj[initiativeID][projectID] = true
	return nil
}

func (s *Store) UnlinkInitiativeProject(ctx context.Context, initiativeID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.initProj[initiativeID], projectID)
	return nil
}

func (s *Store) ListInitiativeProjects(ctx context.Context, initiativeID string) ([]*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Project
	for _, projectID := range sortedKeys(s.initProj[initiativeID]) {
		if p, ok := s.projects[projectID]; ok {
			v := *p
			out = append(out, &v)
		}
	}
	return out, nil
}
