package repository

import "errors"

// Sentinel errors returned by repository implementations. Services translate
// them into caller-facing error kinds; the unique and foreign key sentinels
// are the authoritative backstop for check-then-act races above the store.
var (
	ErrNotFound            = errors.New("repository: not found")
	ErrUniqueViolation     = errors.New("repository: unique constraint violation")
	ErrForeignKeyViolation = errors.New("repository: foreign key violation")
)
