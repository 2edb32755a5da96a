package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

func (s *Store) CreateProject(ctx context.Context, in types.CreateProject, ec storage.EditContext) (*types.Project, error) {
	now := time.Now().UTC()
	id := ids.GenerateProjectID(in.Name)
	tagsJSON, err := marshalTags(in.Tags)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal tags", err)
	}
	refsJSON, err := marshalTags(in.SteeringRefs)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal steering refs", err)
	}
	policy := marshalRawOrEmpty(in.DefaultSessionPolicy, "")

	var out *types.Project
	err = s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, slug, name, description, owner, status, tags, default_session_policy, steering_refs, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, 'active', ?, ?, ?, ?, ?, 1)
		`, id, id, in.Name, nullableStringPtr2(in.Description), nullableStringPtr2(in.Owner), tagsJSON, nullableRaw(policy), refsJSON, now, now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert project", err)
		}
		out = &types.Project{
			ID: id, Slug: id, Name: in.Name, Description: in.Description, Owner: in.Owner,
			Status: types.ProjectStatusActive, Tags: in.Tags, DefaultSessionPolicy: in.DefaultSessionPolicy,
			SteeringRefs: in.SteeringRefs, CreatedAt: now, UpdatedAt: now, Version: 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, owner, status, tags, default_session_policy, steering_refs, created_at, updated_at, version
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

func (s *Store) UpdateProject(ctx context.Context, id string, version int64, upd types.UpdateProject, ec storage.EditContext) (*types.Project, error) {
	var out *types.Project
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		current, err := scanProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Version != version {
			return storage.Conflictf("project %s: version mismatch (have %d, want %d)", id, current.Version, version)
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
		policy := current.DefaultSessionPolicy
		if upd.DefaultSessionPolicy != nil {
			policy = upd.DefaultSessionPolicy
		}
		refs := current.SteeringRefs
		if upd.SteeringRefs != nil {
			refs = upd.SteeringRefs
		}
		tagsJSON, err := marshalTags(tags)
		if err != nil {
			return storage.Wrap(storage.KindSerialization, "marshal tags", err)
		}
		refsJSON, err := marshalTags(refs)
		if err != nil {
			return storage.Wrap(storage.KindSerialization, "marshal steering refs", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE projects SET name = ?, description = ?, owner = ?, status = ?, tags = ?,
				default_session_policy = ?, steering_refs = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, name, nullableStringPtr2(description), nullableStringPtr2(owner), string(status), tagsJSON,
			nullableRaw(marshalRawOrEmpty(policy, "")), refsJSON, time.Now().UTC(), id, version)
		if err != nil {
			return storage.Wrap(storage.KindIo, "update project", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.Conflictf("project %s: concurrent update", id)
		}
		out, err = scanProjectTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListProjects(ctx context.Context, status *types.ProjectStatus) ([]*types.Project, error) {
	query := `SELECT id, slug, name, description, owner, status, tags, default_session_policy, steering_refs, created_at, updated_at, version FROM projects`
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list projects", err)
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

func (s *Store) AddProjectDependency(ctx context.Context, projectID, dependsOnProjectID string, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_dependencies (project_id, depends_on_project_id, created_at) VALUES (?, ?, ?)
		`, projectID, dependsOnProjectID, time.Now().UTC())
		if err != nil {
			return storage.Wrap(storage.KindIo, "add project dependency", err)
		}
		return nil
	})
}

func (s *Store) RemoveProjectDependency(ctx context.Context, projectID, dependsOnProjectID string, ec storage.EditContext) error {
	return s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM project_dependencies WHERE project_id = ? AND depends_on_project_id = ?
		`, projectID, dependsOnProjectID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "remove project dependency", err)
		}
		return nil
	})
}

func (s *Store) ProjectDependencies(ctx context.Context, projectID string) ([]*types.ProjectDependency, error) {
	return queryProjectDeps(ctx, s.db, `SELECT project_id, depends_on_project_id, created_at FROM project_dependencies WHERE project_id = ?`, projectID)
}

func (s *Store) ProjectDependents(ctx context.Context, projectID string) ([]*types.ProjectDependency, error) {
	return queryProjectDeps(ctx, s.db, `SELECT project_id, depends_on_project_id, created_at FROM project_dependencies WHERE depends_on_project_id = ?`, projectID)
}

func queryProjectDeps(ctx context.Context, db *sql.DB, query, id string) ([]*types.ProjectDependency, error) {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "query project dependencies", err)
	}
	defer rows.Close()

	var out []*types.ProjectDependency
	for rows.Next() {
		var d types.ProjectDependency
		if err := rows.Scan(&d.ProjectID, &d.DependsOnProjectID, &d.CreatedAt); err != nil {
			return nil, storage.Wrap(storage.KindIo, "scan project dependency", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanProject(row *sql.Row) (*types.Project, error) {
	return scanProjectGeneric(row)
}

func scanProjectRows(rows *sql.Rows) (*types.Project, error) {
	return scanProjectGeneric(rows)
}

func scanProjectTx(ctx context.Context, tx *sql.Tx, id string) (*types.Project, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, slug, name, description, owner, status, tags, default_session_policy, steering_refs, created_at, updated_at, version
		FROM projects WHERE id = ?
	`, id)
	return scanProjectGeneric(row)
}

func scanProjectGeneric(r scannableRow) (*types.Project, error) {
	var p types.Project
	var description, owner, policy sql.NullString
	var tagsJSON, refsJSON string
	if err := r.Scan(&p.ID, &p.Slug, &p.Name, &description, &owner, &p.Status, &tagsJSON,
		&policy, &refsJSON, &p.CreatedAt, &p.UpdatedAt, &p.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("project not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan project", err)
	}
	if description.Valid {
		p.Description = &description.String
	}
	if owner.Valid {
		p.Owner = &owner.String
	}
	if policy.Valid {
		p.DefaultSessionPolicy = json.RawMessage(policy.String)
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal tags", err)
	}
	p.Tags = tags
	refs, err := unmarshalTags(refsJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal steering refs", err)
	}
	p.SteeringRefs = refs
	return &p, nil
}
