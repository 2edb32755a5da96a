package types

import "time"

// Initiative groups one or more Projects under a shared outcome.
type Initiative struct {
	ID          string
	Slug        string
	Name        string
	Description *string
	Owner       *string
	Status      InitiativeStatus
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// InitiativeProject is the initiative<->project membership row.
type InitiativeProject struct {
	InitiativeID string
	ProjectID    string
	AddedAt      time.Time
}

// CreateInitiative is the input to create a new Initiative.
type CreateInitiative struct {
	Name        string
	Description *string
	Owner       *string
	Tags        []string
}

// UpdateInitiative carries optional field updates; nil fields are untouched.
type UpdateInitiative struct {
	Name        *string
	Description *string
	Owner       *string
	Status      *InitiativeStatus
	Tags        []string
}
