package types

import (
	"encoding/json"
	"time"
)

// Comment is a timestamped note attached to a Project, Task, or another
// Comment (threaded handoff notes nest this way).
type Comment struct {
	ID            string
	ParentType    ParentType
	ParentID      string
	CommentNumber int64
	Kind          CommentKind
	Content       string
	Author        *string
	Meta          json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// CreateComment is the input to create a new Comment.
type CreateComment struct {
	ParentType ParentType
	ParentID   string
	Kind       CommentKind
	Content    string
	Author     *string
	Meta       json.RawMessage
}

// UpdateComment carries optional field updates; nil fields are untouched.
type UpdateComment struct {
	Content *string
	Kind    *CommentKind
	Meta    json.RawMessage
}
