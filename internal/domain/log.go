package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Log is an immutable record validated against one schema at creation time.
// The ID is assigned by the database sequence.
type Log struct {
	ID        int64           `json:"id"`
	SchemaID  uuid.UUID       `json:"schema_id"`
	Data      json.RawMessage `json:"log_data"`
	CreatedAt time.Time       `json:"created_at"`
}
