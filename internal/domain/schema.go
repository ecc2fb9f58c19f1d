package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Schema is a named, versioned JSON Schema that log records must satisfy.
// The (Name, Version) pair is unique among stored schemas.
type Schema struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description *string         `json:"description"`
	Definition  json.RawMessage `json:"schema_definition"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SchemaFilter narrows schema listings to exact name and/or version matches.
// Zero value means no filtering.
type SchemaFilter struct {
	Name    string
	Version string
}
