// Package logs orchestrates the ingestion pipeline: resolve schema, validate
// payload, persist, then notify live subscribers.
package logs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/schemalog/internal/apperr"
	"github.com/splax/schemalog/internal/domain"
	"github.com/splax/schemalog/internal/repository"
	"github.com/splax/schemalog/internal/schemaval"
)

// DefaultSchemaVersion is assumed when a log listing names a schema without
// a version. Kept as the fixed literal the API has always used rather than
// "latest".
const DefaultSchemaVersion = "1.0.0"

// SchemaResolver is the slice of the schema registry the ingestion pipeline
// needs.
type SchemaResolver interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schema, error)
	GetByNameVersion(ctx context.Context, name, version string) (*domain.Schema, error)
}

// EventPublisher receives domain events after successful writes. Delivery is
// best effort; publishing must never fail the ingestion call.
type EventPublisher interface {
	Publish(event domain.LogEvent)
}

// Service implements log ingestion, retrieval and deletion.
type Service struct {
	logs      repository.LogRepository
	schemas   SchemaResolver
	publisher EventPublisher
	logger    *slog.Logger
}

// New constructs a log ingestion service.
func New(logs repository.LogRepository, schemas SchemaResolver, publisher EventPublisher, logger *slog.Logger) Service {
	return Service{logs: logs, schemas: schemas, publisher: publisher, logger: logger}
}

// Create validates log data against the referenced schema's current
// definition and persists it. The created event is published only after the
// row is durable, so a subscriber never sees an event for a record that a
// concurrent reader cannot fetch.
func (s Service) Create(ctx context.Context, schemaID uuid.UUID, data json.RawMessage) (*domain.Log, error) {
	if schemaID == uuid.Nil {
		return nil, apperr.BadRequest("schema id cannot be empty")
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, apperr.BadRequest("log data is not valid JSON")
	}
	if _, ok := instance.(map[string]any); !ok {
		return nil, apperr.BadRequest("log data must be a JSON object")
	}

	schema, err := s.schemas.GetByID(ctx, schemaID)
	if err != nil {
		return nil, err
	}

	validator, err := schemaval.Compile(schema.Definition)
	if err != nil {
		// The definition was compilable when the schema was registered.
		s.logger.Error("stored schema definition no longer compiles", "schema_id", schemaID, "error", err)
		return nil, apperr.Internal(err)
	}
	violations, err := validator.Validate(data)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(violations) > 0 {
		return nil, apperr.SchemaValidation("schema validation failed: %s", schemaval.JoinErrors(violations))
	}

	log := &domain.Log{
		SchemaID:  schemaID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.logs.CreateLog(ctx, log); err != nil {
		return nil, apperr.FromStore(err)
	}

	s.publisher.Publish(domain.NewCreatedEvent(*log))
	return log, nil
}

// GetByID fetches one log record.
func (s Service) GetByID(ctx context.Context, id int64) (*domain.Log, error) {
	log, err := s.logs.GetLogByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("log with id '%d' not found", id)
		}
		return nil, apperr.FromStore(err)
	}
	return log, nil
}

// ListBySchemaID returns logs for a schema newest first, optionally narrowed
// by a containment filter produced by TranslateQueryFilter.
func (s Service) ListBySchemaID(ctx context.Context, schemaID uuid.UUID, filter json.RawMessage) ([]domain.Log, error) {
	logs, err := s.logs.ListLogsBySchema(ctx, schemaID, filter)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return logs, nil
}

// ListBySchemaNameVersion resolves the schema first and then lists its logs.
func (s Service) ListBySchemaNameVersion(ctx context.Context, name, version string, filter json.RawMessage) ([]domain.Log, error) {
	schema, err := s.schemas.GetByNameVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return s.ListBySchemaID(ctx, schema.ID, filter)
}

// Delete removes one log record. Returns false when the id is unknown. The
// record is looked up first so the deleted event can carry the schema
// identity of the row that just disappeared.
func (s Service) Delete(ctx context.Context, id int64) (bool, error) {
	log, err := s.logs.GetLogByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, apperr.FromStore(err)
	}

	ok, err := s.logs.DeleteLog(ctx, id)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	if ok {
		s.publisher.Publish(domain.NewDeletedEvent(log.ID, log.SchemaID))
	}
	return ok, nil
}
