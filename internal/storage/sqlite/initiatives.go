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

func (s *Store) CreateInitiative(ctx context.Context, in types.CreateInitiative, ec storage.EditContext) (*types.Initiative, error) {
	now := time.Now().UTC()
	id := ids.GenerateInitiativeID(in.Name)
	tagsJSON, err := marshalTags(in.Tags)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal tags", err)
	}

	var out *types.Initiative
	err = s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO initiatives (id, slug, name, description, owner, status, tags, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, 'active', ?, ?, ?, 1)
		`, id, id, in.Name, nullableStringPtr2(in.Description), nullableStringPtr2(in.Owner), tagsJSON, now, now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert initiative", err)
		}
		out = &types.Initiative{
			ID: id, Slug: id, Name: in.Name, Description: in.Description, Owner: in.Owner,
			Status: types.InitiativeStatusActive, Tags: in.Tags, CreatedAt: now, UpdatedAt: now, Version: 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetInitiative(ctx context.Context, id string) (*types.Initiative, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, owner, status, tags, created_at, updated_at, version
		FROM initiatives WHERE id = ?
	`, id)
	return scanInitiative(row)
}

func (s *Store) UpdateInitiative(ctx context.Context, id string, version int64, upd types.UpdateInitiative, ec storage.EditContext) (*types.Initiative, error) {
	var out *types.Initiative
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		current, err := scanInitiativeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Version != version {
			return storage.Conflictf("initiative %s: version mismatch (have %d, want %d)", id, current.Version, version)
		}
		name := current.Name
		if upd.Name != nil {
			name = *upd.Name
		}
		description := current.Description
		if upd.Description != nil {
			description = upd.Description
		}
		owner := current.Owner
		if upd.Owner != nil {
			owner = upd.Owner
		}
		status := current.Status
		if upd.Status != nil {
			status = *upd.Status
		}
		tags := current.Tags
		if upd.Tags != nil {
			tags = upd.Tags
		}
		tagsJSON, err := marshalTags(tags)
		if err != nil {
			return storage.Wrap(storage.KindSerialization, "marshal tags", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE initiatives SET name = ?, description = ?, owner = ?, status = ?, tags = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, name, nullableStringPtr2(description), nullableStringPtr2(owner), string(status), tagsJSON, time.Now().UTC(), id, version)
		if err != nil {
			return storage.Wrap(storage.KindIo, "update initiative", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.Conflictf("initiative %s: concurrent update", id)
		}
		out, err = scanInitiativeTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListInitiatives(ctx context.Context, status *types.InitiativeStatus) ([]*types.Initiative, error) {
	query := `SELECT id, slug, name, description, owner, status, tags, created_at, updated_at, version FROM initiatives`
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list initiatives", err)
	}
	defer rows.Close()

	var out []*types.Initiative
	for rows.Next() {
		init, err := scanInitiativeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, init)
	}
	return out, rows.Err()
}

func (s *Store) LinkInitiativeProject(ctx context.Context, initiativeID, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO initiative_projects (initiative_id, project_id, added_at) VALUES (?, ?, ?)
	`, initiativeID, projectID, time.Now().UTC())
	if err != nil {
		return storage.Wrap(storage.KindIo, "link initiative project", err)
	}
	return nil
}

func (s *Store) UnlinkInitiativeProject(ctx context.Context, initiativeID, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM initiative_projects WHERE initiative_id = ? AND project_id = ?
	`, initiativeID, projectID)
	if err != nil {
		return storage.Wrap(storage.KindIo, "unlink initiative project", err)
	}
	return nil
}

func (s *Store) ListInitiativeProjects(ctx context.Context, initiativeID string) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.name, p.description, p.owner, p.status, p.tags,
			p.default_session_policy, p.steering_refs, p.created_at, p.updated_at, p.version
		FROM projects p
		JOIN initiative_projects ip ON ip.project_id = p.id
		WHERE ip.initiative_id = ?
		ORDER BY p.created_at ASC
	`, initiativeID)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list initiative projects", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanInitiative(row *sql.Row) (*types.Initiative, error) {
	var init types.Initiative
	var description, owner sql.NullString
	var tagsJSON string
	if err := row.Scan(&init.ID, &init.Slug, &init.Name, &description, &owner, &init.Status, &tagsJSON,
		&init.CreatedAt, &init.UpdatedAt, &init.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("initiative not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan initiative", err)
	}
	return finishInitiative(&init, description, owner, tagsJSON)
}

func scanInitiativeRows(rows *sql.Rows) (*types.Initiative, error) {
	var init types.Initiative
	var description, owner sql.NullString
	var tagsJSON string
	if err := rows.Scan(&init.ID, &init.Slug, &init.Name, &description, &owner, &init.Status, &tagsJSON,
		&init.CreatedAt, &init.UpdatedAt, &init.Version); err != nil {
		return nil, storage.Wrap(storage.KindIo, "scan initiative", err)
	}
	return finishInitiative(&init, description, owner, tagsJSON)
}

func scanInitiativeTx(ctx context.Context, tx *sql.Tx, id string) (*types.Initiative, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, slug, name, description, owner, status, tags, created_at, updated_at, version
		FROM initiatives WHERE id = ?
	`, id)
	return scanInitiative(row)
}

func finishInitiative(init *types.Initiative, description, owner sql.NullString, tagsJSON string) (*types.Initiative, error) {
	if description.Valid {
		init.Description = &description.String
	}
	if owner.Valid {
		init.Owner = &owner.String
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal tags", err)
	}
	init.Tags = tags
	return init, nil
}

func nullableStringPtr2(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
