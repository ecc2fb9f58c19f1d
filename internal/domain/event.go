package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type tags used on the live feed wire format.
const (
	EventCreated = "created"
	EventDeleted = "deleted"
)

// LogEvent is a transient notification emitted after a log record is
// persisted or deleted. It is never stored; subscribers that miss one do
// not get it replayed.
type LogEvent struct {
	EventType string          `json:"event_type"`
	ID        int64           `json:"id"`
	SchemaID  uuid.UUID       `json:"schema_id"`
	LogData   json.RawMessage `json:"log_data,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// NewCreatedEvent builds the created notification for a persisted log.
func NewCreatedEvent(log Log) LogEvent {
	createdAt := log.CreatedAt
	return LogEvent{
		EventType: EventCreated,
		ID:        log.ID,
		SchemaID:  log.SchemaID,
		LogData:   log.Data,
		CreatedAt: &createdAt,
	}
}

// NewDeletedEvent builds the deleted notification. The schema identity is
// captured before the row disappears.
func NewDeletedEvent(id int64, schemaID uuid.UUID) LogEvent {
	return LogEvent{
		EventType: EventDeleted,
		ID:        id,
		SchemaID:  schemaID,
	}
}
