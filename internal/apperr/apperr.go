// Package apperr defines the error taxonomy shared by services and the HTTP
// adapter. Every failure a caller can observe carries a stable machine
// readable kind next to a human message.
package apperr

import (
	"errors"
	"fmt"

	"github.com/splax/schemalog/internal/repository"
)

// Kind is the machine readable error category.
type Kind string

const (
	KindNotFound         Kind = "NotFound"
	KindValidation       Kind = "ValidationError"
	KindBadRequest       Kind = "BadRequest"
	KindConflict         Kind = "Conflict"
	KindSchemaValidation Kind = "SchemaValidationError"
	KindDatabase         Kind = "DatabaseError"
	KindInternal         Kind = "InternalError"
)

// Error is the caller-facing failure type. FieldErrors is populated for
// multi-field validation failures only.
type Error struct {
	Kind        Kind
	Message     string
	FieldErrors map[string][]string
	cause       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound builds a NotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a ValidationError for malformed or empty input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// BadRequest builds a BadRequest error for malformed identifiers or wrong
// payload shapes.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a Conflict error for uniqueness or dependent-resource
// violations.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// SchemaValidation builds a SchemaValidationError for definitions or
// instances failing schema rules.
func SchemaValidation(format string, args ...any) *Error {
	return &Error{Kind: KindSchemaValidation, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unanticipated failure. The message shown to clients is
// generic; the cause stays attached for logging.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "an internal error occurred", cause: cause}
}

// FromStore translates repository failures into the taxonomy: missing rows
// become NotFound, unique violations Conflict, foreign key violations
// BadRequest, anything else an opaque DatabaseError. Constraint violations
// map to the same kinds the optimistic pre-checks produce, so correctness
// never depends on winning a race against a concurrent writer.
func FromStore(err error) *Error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "resource not found", cause: err}
	case errors.Is(err, repository.ErrUniqueViolation):
		return &Error{Kind: KindConflict, Message: "a resource with these attributes already exists", cause: err}
	case errors.Is(err, repository.ErrForeignKeyViolation):
		return &Error{Kind: KindBadRequest, Message: "referenced resource does not exist", cause: err}
	default:
		return &Error{Kind: KindDatabase, Message: "a database error occurred", cause: err}
	}
}

// KindOf extracts the kind from any error, defaulting to InternalError.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As unwraps an *Error when present.
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}
