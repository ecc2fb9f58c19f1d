// Package schemas owns the schema lifecycle: creation and update with
// definition validation and (name, version) uniqueness, deletion with a
// dependent-log guard.
package schemas

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/schemalog/internal/apperr"
	"github.com/splax/schemalog/internal/domain"
	"github.com/splax/schemalog/internal/repository"
	"github.com/splax/schemalog/internal/schemaval"
)

// Service implements the schema registry.
type Service struct {
	schemas repository.SchemaRepository
	logs    repository.LogRepository
	logger  *slog.Logger
}

// New constructs a schema registry service.
func New(schemas repository.SchemaRepository, logs repository.LogRepository, logger *slog.Logger) Service {
	return Service{schemas: schemas, logs: logs, logger: logger}
}

// CreateInput carries the fields of a create or update request.
type CreateInput struct {
	Name        string
	Version     string
	Description *string
	Definition  json.RawMessage
}

// List returns schemas newest first, optionally narrowed to an exact name
// and/or version.
func (s Service) List(ctx context.Context, filter domain.SchemaFilter) ([]domain.Schema, error) {
	schemas, err := s.schemas.ListSchemas(ctx, filter)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return schemas, nil
}

// GetByID resolves a schema by identifier.
func (s Service) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schema, error) {
	schema, err := s.schemas.GetSchemaByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("schema with id '%s' not found", id)
		}
		return nil, apperr.FromStore(err)
	}
	return schema, nil
}

// GetByNameVersion resolves a schema by its exact (name, version) pair.
func (s Service) GetByNameVersion(ctx context.Context, name, version string) (*domain.Schema, error) {
	schema, err := s.schemas.GetSchemaByNameVersion(ctx, name, version)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("schema with name:version '%s:%s' not found", name, version)
		}
		return nil, apperr.FromStore(err)
	}
	return schema, nil
}

// Create registers a new schema. The definition must be a JSON object that
// compiles under the fixed validation dialect, and the (name, version) pair
// must be unused. The existence pre-check gives a friendly message; the
// store's unique constraint stays authoritative against concurrent creates.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Schema, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	existing, err := s.schemas.GetSchemaByNameVersion(ctx, input.Name, input.Version)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.FromStore(err)
	}
	if existing != nil {
		return nil, apperr.Conflict("schema with name '%s' and version '%s' already exists", input.Name, input.Version)
	}

	now := time.Now().UTC()
	schema := &domain.Schema{
		ID:          uuid.New(),
		Name:        input.Name,
		Version:     input.Version,
		Description: input.Description,
		Definition:  input.Definition,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.schemas.CreateSchema(ctx, schema); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, apperr.Conflict("schema with name '%s' and version '%s' already exists", input.Name, input.Version)
		}
		return nil, apperr.FromStore(err)
	}
	s.logger.Info("schema created", "schema_id", schema.ID, "name", schema.Name, "version", schema.Version)
	return schema, nil
}

// Update replaces a schema's name, version, description and definition.
// The original creation time is preserved. Renaming onto another schema's
// (name, version) pair fails with a conflict; renaming onto itself is a
// no-op and allowed.
func (s Service) Update(ctx context.Context, id uuid.UUID, input CreateInput) (*domain.Schema, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	current, err := s.schemas.GetSchemaByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("schema with id '%s' not found", id)
		}
		return nil, apperr.FromStore(err)
	}

	collision, err := s.schemas.GetSchemaByNameVersion(ctx, input.Name, input.Version)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.FromStore(err)
	}
	if collision != nil && collision.ID != id {
		return nil, apperr.Conflict("schema with name '%s' and version '%s' already exists with a different id", input.Name, input.Version)
	}

	updated := &domain.Schema{
		ID:          id,
		Name:        input.Name,
		Version:     input.Version,
		Description: input.Description,
		Definition:  input.Definition,
		CreatedAt:   current.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	ok, err := s.schemas.UpdateSchema(ctx, updated)
	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, apperr.Conflict("schema with name '%s' and version '%s' already exists with a different id", input.Name, input.Version)
		}
		return nil, apperr.FromStore(err)
	}
	if !ok {
		return nil, apperr.NotFound("schema with id '%s' not found", id)
	}
	s.logger.Info("schema updated", "schema_id", id, "name", updated.Name, "version", updated.Version)
	return updated, nil
}

// Delete removes a schema. Returns false when the id is unknown. With
// dependent logs present the call fails unless force is set, in which case
// the logs are removed first. The two deletes are separate statements; a
// failure in between leaves the logs gone and the schema present, which a
// retried delete resolves.
func (s Service) Delete(ctx context.Context, id uuid.UUID, force bool) (bool, error) {
	_, err := s.schemas.GetSchemaByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, apperr.FromStore(err)
	}

	count, err := s.logs.CountLogsBySchema(ctx, id)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	if count > 0 && !force {
		return false, apperr.Conflict("cannot delete schema: %d log(s) are associated with this schema; use force=true to delete the schema and all associated logs", count)
	}
	if count > 0 {
		deleted, err := s.logs.DeleteLogsBySchema(ctx, id)
		if err != nil {
			return false, apperr.FromStore(err)
		}
		s.logger.Info("deleted dependent logs", "schema_id", id, "count", deleted)
	}

	ok, err := s.schemas.DeleteSchema(ctx, id)
	if err != nil {
		return false, apperr.FromStore(err)
	}
	return ok, nil
}

func validateInput(input CreateInput) error {
	fieldErrors := make(map[string][]string)
	if strings.TrimSpace(input.Name) == "" {
		fieldErrors["name"] = append(fieldErrors["name"], "cannot be empty")
	}
	if strings.TrimSpace(input.Version) == "" {
		fieldErrors["version"] = append(fieldErrors["version"], "cannot be empty")
	}
	if len(fieldErrors) > 0 {
		return &apperr.Error{
			Kind:        apperr.KindValidation,
			Message:     "schema name and version are required",
			FieldErrors: fieldErrors,
		}
	}

	if _, err := schemaval.Compile(input.Definition); err != nil {
		return apperr.SchemaValidation("%s", err.Error())
	}
	return nil
}
