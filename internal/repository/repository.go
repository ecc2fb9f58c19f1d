package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/splax/schemalog/internal/domain"
)

// SchemaRepository persists schema records.
type SchemaRepository interface {
	CreateSchema(ctx context.Context, schema *domain.Schema) error
	UpdateSchema(ctx context.Context, schema *domain.Schema) (bool, error)
	DeleteSchema(ctx context.Context, id uuid.UUID) (bool, error)
	GetSchemaByID(ctx context.Context, id uuid.UUID) (*domain.Schema, error)
	GetSchemaByNameVersion(ctx context.Context, name, version string) (*domain.Schema, error)
	ListSchemas(ctx context.Context, filter domain.SchemaFilter) ([]domain.Schema, error)
}

// LogRepository persists log records. The filter argument of ListLogsBySchema
// is a JSON object used as a top-level containment predicate over log_data;
// nil means no structural filtering.
type LogRepository interface {
	CreateLog(ctx context.Context, log *domain.Log) error
	GetLogByID(ctx context.Context, id int64) (*domain.Log, error)
	ListLogsBySchema(ctx context.Context, schemaID uuid.UUID, filter json.RawMessage) ([]domain.Log, error)
	DeleteLog(ctx context.Context, id int64) (bool, error)
	CountLogsBySchema(ctx context.Context, schemaID uuid.UUID) (int64, error)
	DeleteLogsBySchema(ctx context.Context, schemaID uuid.UUID) (int64, error)
}
