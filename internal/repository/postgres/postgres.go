package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/schemalog/internal/domain"
	"github.com/splax/schemalog/internal/repository"
)

// PostgreSQL error codes mapped to repository sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.SchemaRepository = (*Repository)(nil)
	_ repository.LogRepository    = (*Repository)(nil)
)

// translateConstraint maps PostgreSQL constraint violations to sentinels so
// callers never depend on pgconn directly.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return repository.ErrUniqueViolation
		case codeForeignKeyViolation:
			return repository.ErrForeignKeyViolation
		}
	}
	return err
}

// CreateSchema inserts a schema record.
func (r *Repository) CreateSchema(ctx context.Context, schema *domain.Schema) error {
	const query = `INSERT INTO schemas (id, name, version, description, schema_definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, schema.ID, schema.Name, schema.Version, schema.Description, schema.Definition, schema.CreatedAt, schema.UpdatedAt)
	if err != nil {
		return translateConstraint(err)
	}
	return nil
}

// UpdateSchema replaces the mutable fields of a schema. Returns false when
// the id does not exist.
func (r *Repository) UpdateSchema(ctx context.Context, schema *domain.Schema) (bool, error) {
	const query = `UPDATE schemas
		SET name = $2, version = $3, description = $4, schema_definition = $5, updated_at = $6
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, schema.ID, schema.Name, schema.Version, schema.Description, schema.Definition, schema.UpdatedAt)
	if err != nil {
		return false, translateConstraint(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteSchema removes a schema row. Returns false when the id does not exist.
func (r *Repository) DeleteSchema(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `DELETE FROM schemas WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, translateConstraint(err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetSchemaByID fetches a schema by identifier.
func (r *Repository) GetSchemaByID(ctx context.Context, id uuid.UUID) (*domain.Schema, error) {
	const query = `SELECT id, name, version, description, schema_definition, created_at, updated_at
		FROM schemas WHERE id = $1`
	return r.scanSchema(r.pool.QueryRow(ctx, query, id))
}

// GetSchemaByNameVersion fetches the schema with an exact (name, version) pair.
func (r *Repository) GetSchemaByNameVersion(ctx context.Context, name, version string) (*domain.Schema, error) {
	const query = `SELECT id, name, version, description, schema_definition, created_at, updated_at
		FROM schemas WHERE name = $1 AND version = $2`
	return r.scanSchema(r.pool.QueryRow(ctx, query, name, version))
}

// ListSchemas returns schemas newest first, optionally narrowed by exact name
// and/or version.
func (r *Repository) ListSchemas(ctx context.Context, filter domain.SchemaFilter) ([]domain.Schema, error) {
	const base = `SELECT id, name, version, description, schema_definition, created_at, updated_at FROM schemas`

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case filter.Name != "" && filter.Version != "":
		rows, err = r.pool.Query(ctx, base+` WHERE name = $1 AND version = $2 ORDER BY created_at DESC`, filter.Name, filter.Version)
	case filter.Name != "":
		rows, err = r.pool.Query(ctx, base+` WHERE name = $1 ORDER BY created_at DESC`, filter.Name)
	case filter.Version != "":
		rows, err = r.pool.Query(ctx, base+` WHERE version = $1 ORDER BY created_at DESC`, filter.Version)
	default:
		rows, err = r.pool.Query(ctx, base+` ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schemas := make([]domain.Schema, 0)
	for rows.Next() {
		var s domain.Schema
		if err := rows.Scan(&s.ID, &s.Name, &s.Version, &s.Description, &s.Definition, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

func (r *Repository) scanSchema(row pgx.Row) (*domain.Schema, error) {
	var s domain.Schema
	if err := row.Scan(&s.ID, &s.Name, &s.Version, &s.Description, &s.Definition, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CreateLog inserts a log record and fills in the assigned id.
func (r *Repository) CreateLog(ctx context.Context, log *domain.Log) error {
	const query = `INSERT INTO logs (schema_id, log_data, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if err := r.pool.QueryRow(ctx, query, log.SchemaID, log.Data, log.CreatedAt).Scan(&log.ID); err != nil {
		return translateConstraint(err)
	}
	return nil
}

// GetLogByID fetches a log by its sequential identifier.
func (r *Repository) GetLogByID(ctx context.Context, id int64) (*domain.Log, error) {
	const query = `SELECT id, schema_id, log_data, created_at FROM logs WHERE id = $1`
	var l domain.Log
	if err := r.pool.QueryRow(ctx, query, id).Scan(&l.ID, &l.SchemaID, &l.Data, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListLogsBySchema returns logs for a schema newest first. A non-nil filter
// is applied as a jsonb containment predicate over log_data.
func (r *Repository) ListLogsBySchema(ctx context.Context, schemaID uuid.UUID, filter json.RawMessage) ([]domain.Log, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(filter) > 0 {
		const query = `SELECT id, schema_id, log_data, created_at FROM logs
			WHERE schema_id = $1 AND log_data @> $2
			ORDER BY created_at DESC`
		rows, err = r.pool.Query(ctx, query, schemaID, filter)
	} else {
		const query = `SELECT id, schema_id, log_data, created_at FROM logs
			WHERE schema_id = $1
			ORDER BY created_at DESC`
		rows, err = r.pool.Query(ctx, query, schemaID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.Log, 0)
	for rows.Next() {
		var l domain.Log
		if err := rows.Scan(&l.ID, &l.SchemaID, &l.Data, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteLog removes a single log row. Returns false when the id does not exist.
func (r *Repository) DeleteLog(ctx context.Context, id int64) (bool, error) {
	const query = `DELETE FROM logs WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountLogsBySchema counts logs referencing a schema.
func (r *Repository) CountLogsBySchema(ctx context.Context, schemaID uuid.UUID) (int64, error) {
	const query = `SELECT COUNT(1) FROM logs WHERE schema_id = $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, schemaID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteLogsBySchema bulk-deletes all logs referencing a schema and reports
// how many rows were removed.
func (r *Repository) DeleteLogsBySchema(ctx context.Context, schemaID uuid.UUID) (int64, error) {
	const query = `DELETE FROM logs WHERE schema_id = $1`
	tag, err := r.pool.Exec(ctx, query, schemaID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
