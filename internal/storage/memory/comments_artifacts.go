package memory

import (
	"context"
	"sort"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateComment(ctx context.Context, in types.CreateComment, ec storage.EditContext) (*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	kind := in.Kind
	if kind == "" {
		kind = types.CommentNote
	}
	num := s.nextCounter("comment:" + in.ParentID)
	id := ids.GenerateCommentID(in.ParentID, num)

	c := &types.Comment{
		ID: id, ParentType: in.ParentType, ParentID: in.ParentID, CommentNumber: num, Kind: kind,
		Content: in.Content, Author: in.Author, Meta: in.Meta, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	s.comments[id] = c
	s.appendEventLocked(types.EventCommentCreated, types.EntityComment, id, ec, map[string]any{"id": id, "parent_id": in.ParentID})

	out := *c
	return &out, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, storage.NotFoundf("comment %s not found", id)
	}
	out := *c
	return &out, nil
}

func (s *Store) UpdateComment(ctx context.Context, id string, version int64, upd types.UpdateComment, ec storage.EditContext) (*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, storage.NotFoundf("comment %s not found", id)
	}
	if c.Version != version {
		return nil, storage.Conflictf("comment %s: version mismatch (have %d, want %d)", id, c.Version, version)
	}
	if upd.Content != nil {
		c.Content = *upd.Content
	}
	if upd.Kind != nil {
		c.Kind = *upd.Kind
	}
	if upd.Meta != nil {
		c.Meta = upd.Meta
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.appendEventLocked(types.EventCommentUpdated, types.EntityComment, id, ec, map[string]any{"id": id})

	out := *c
	return &out, nil
}

func (s *Store) ListComments(ctx context.Context, parentType types.ParentType, parentID string) ([]*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Comment
	for _, c := range s.comments {
		if c.ParentType == parentType && c.ParentID == parentID {
			v := *c
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommentNumber < out[j].CommentNumber })
	return out, nil
}

func (s *Store) CreateArtifact(ctx context.Context, in types.CreateArtifact, ec storage.EditContext) (*types.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	artifactType := in.ArtifactType
	if artifactType == "" {
		artifactType = types.ArtifactFile
	}
	num := s.nextCounter("artifact:" + in.ParentID)
	id := ids.GenerateArtifactID(in.ParentID, num)

	a := &types.Artifact{
		ID: id, ParentType: in.ParentType, ParentID: in.ParentID, ArtifactNumber: num, ArtifactType: artifactType,
		PathOrURL: in.PathOrURL, Description: in.Description, Meta: in.Meta, CreatedAt: now,
	}
	s.artifacts[id] = a
	s.appendEventLocked(types.EventArtifactAdded, types.EntityArtifact, id, ec, map[string]any{"id": id, "parent_id": in.ParentID})

	out := *a
	return &out, nil
}

func (s *Store) ListArtifacts(ctx context.Context, parentType types.ParentType, parentID string) ([]*types.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Artifact
	for _, a := range s.artifacts {
		if a.ParentType == parentType && a.ParentID == parentID {
			v := *a
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactNumber < out[j].ArtifactNumber })
	return out, nil
}
