package types

import (
	"encoding/json"
	"time"
)

// Artifact is a pointer to evidence produced by or attached to work: a
// file, URL, git ref, or log excerpt.
type Artifact struct {
	ID             string
	ParentType     ParentType
	ParentID       string
	ArtifactNumber int64
	ArtifactType   ArtifactType
	PathOrURL      string
	Description    *string
	Meta           json.RawMessage
	CreatedAt      time.Time
}

// CreateArtifact is the input to attach a new Artifact.
type CreateArtifact struct {
	ParentType   ParentType
	ParentID     string
	ArtifactType ArtifactType
	PathOrURL    string
	Description  *string
	Meta         json.RawMessage
}
