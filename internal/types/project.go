package types

import (
	"encoding/json"
	"time"
)

// Project is a unit of scoped work containing Tasks.
type Project struct {
	ID                    string
	Slug                  string
	Name                  string
	Description           *string
	Owner                 *string
	Status                ProjectStatus
	Tags                  []string
	DefaultSessionPolicy  json.RawMessage
	SteeringRefs          []string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Version               int64
}

// ProjectDependency records that Project depends on DependsOnProjectID
// being archived (or its tasks done) before the dependent's tasks can
// become actionable against it, per spec.md's project-level dependency rule.
type ProjectDependency struct {
	ProjectID          string
	DependsOnProjectID string
	CreatedAt          time.Time
}

// CreateProject is the input to create a new Project.
type CreateProject struct {
	Name                 string
	Description          *string
	Owner                *string
	Tags                 []string
	DefaultSessionPolicy json.RawMessage
	SteeringRefs         []string
}

// UpdateProject carries optional field updates; nil fields are untouched.
type UpdateProject struct {
	Name                 *string
	Description          *string
	Owner                *string
	Status               *ProjectStatus
	Tags                 []string
	DefaultSessionPolicy json.RawMessage
	SteeringRefs         []string
}
