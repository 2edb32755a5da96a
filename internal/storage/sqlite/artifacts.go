package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateArtifact(ctx context.Context, in types.CreateArtifact, ec storage.EditContext) (*types.Artifact, error) {
	now := time.Now().UTC()
	artifactType := in.ArtifactType
	if artifactType == "" {
		artifactType = types.ArtifactFile
	}
	meta := marshalRawOrEmpty(in.Meta, "")

	var out *types.Artifact
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		num, err := nextCounter(ctx, tx, "artifact:"+in.ParentID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "artifact number", err)
		}
		id := ids.GenerateArtifactID(in.ParentID, num)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (id, parent_type, parent_id, artifact_number, artifact_type, path_or_url, description, meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, string(in.ParentType), in.ParentID, num, string(artifactType), in.PathOrURL, nullableStringPtr2(in.Description), nullableRaw(meta), now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert artifact", err)
		}
		out = &types.Artifact{
			ID: id, ParentType: in.ParentType, ParentID: in.ParentID, ArtifactNumber: num, ArtifactType: artifactType,
			PathOrURL: in.PathOrURL, Description: in.Description, Meta: in.Meta, CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListArtifacts(ctx context.Context, parentType types.ParentType, parentID string) ([]*types.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_type, parent_id, artifact_number, artifact_type, path_or_url, description, meta, created_at
		FROM artifacts WHERE parent_type = ? AND parent_id = ? ORDER BY artifact_number ASC
	`, string(parentType), parentID)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list artifacts", err)
	}
	defer rows.Close()

	var out []*types.Artifact
	for rows.Next() {
		var a types.Artifact
		var description, meta sql.NullString
		if err := rows.Scan(&a.ID, &a.ParentType, &a.ParentID, &a.ArtifactNumber, &a.ArtifactType, &a.PathOrURL,
			&description, &meta, &a.CreatedAt); err != nil {
			return nil, storage.Wrap(storage.KindIo, "scan artifact", err)
		}
		if description.Valid {
			a.Description = &description.String
		}
		if meta.Valid {
			a.Meta = json.RawMessage(meta.String)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
