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

func (s *Store) CreateComment(ctx context.Context, in types.CreateComment, ec storage.EditContext) (*types.Comment, error) {
	now := time.Now().UTC()
	kind := in.Kind
	if kind == "" {
		kind = types.CommentNote
	}
	meta := marshalRawOrEmpty(in.Meta, "")

	var out *types.Comment
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		num, err := nextCounter(ctx, tx, "comment:"+in.ParentID)
		if err != nil {
			return storage.Wrap(storage.KindIo, "comment number", err)
		}
		id := ids.GenerateCommentID(in.ParentID, num)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO comments (id, parent_type, parent_id, comment_number, kind, content, author, meta, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`, id, string(in.ParentType), in.ParentID, num, string(kind), in.Content, nullableStringPtr2(in.Author), nullableRaw(meta), now, now)
		if err != nil {
			return storage.Wrap(storage.KindIo, "insert comment", err)
		}
		out = &types.Comment{
			ID: id, ParentType: in.ParentType, ParentID: in.ParentID, CommentNumber: num, Kind: kind,
			Content: in.Content, Author: in.Author, Meta: in.Meta, CreatedAt: now, UpdatedAt: now, Version: 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (*types.Comment, error) {
	row := s.db.QueryRowContext(ctx, commentSelectSQL+` WHERE id = ?`, id)
	return scanComment(row)
}

const commentSelectSQL = `
	SELECT id, parent_type, parent_id, comment_number, kind, content, author, meta, created_at, updated_at, version
	FROM comments`

func (s *Store) UpdateComment(ctx context.Context, id string, version int64, upd types.UpdateComment, ec storage.EditContext) (*types.Comment, error) {
	var out *types.Comment
	err := s.withEditContext(ctx, ec, func(tx *sql.Tx) error {
		current, err := scanCommentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Version != version {
			return storage.Conflictf("comment %s: version mismatch (have %d, want %d)", id, current.Version, version)
		}
		content := current.Content
		if upd.Content != nil {
			content = *upd.Content
		}
		kind := current.Kind
		if upd.Kind != nil {
			kind = *upd.Kind
		}
		meta := current.Meta
		if upd.Meta != nil {
			meta = upd.Meta
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE comments SET content = ?, kind = ?, meta = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, content, string(kind), nullableRaw(marshalRawOrEmpty(meta, "")), time.Now().UTC(), id, version)
		if err != nil {
			return storage.Wrap(storage.KindIo, "update comment", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.Conflictf("comment %s: concurrent update", id)
		}
		out, err = scanCommentTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListComments(ctx context.Context, parentType types.ParentType, parentID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelectSQL+` WHERE parent_type = ? AND parent_id = ? ORDER BY comment_number ASC`,
		string(parentType), parentID)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list comments", err)
	}
	defer rows.Close()

	var out []*types.Comment
	for rows.Next() {
		c, err := scanCommentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComment(row *sql.Row) (*types.Comment, error)     { return scanCommentGeneric(row) }
func scanCommentRows(rows *sql.Rows) (*types.Comment, error) { return scanCommentGeneric(rows) }

func scanCommentTx(ctx context.Context, tx *sql.Tx, id string) (*types.Comment, error) {
	row := tx.QueryRowContext(ctx, commentSelectSQL+` WHERE id = ?`, id)
	return scanCommentGeneric(row)
}

func scanCommentGeneric(r scannableRow) (*types.Comment, error) {
	var c types.Comment
	var author, meta sql.NullString
	if err := r.Scan(&c.ID, &c.ParentType, &c.ParentID, &c.CommentNumber, &c.Kind, &c.Content, &author, &meta,
		&c.CreatedAt, &c.UpdatedAt, &c.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("comment not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan comment", err)
	}
	if author.Valid {
		c.Author = &author.String
	}
	if meta.Valid {
		c.Meta = json.RawMessage(meta.String)
	}
	return &c, nil
}
