package types

import (
	"context"
	"errors"
)

// DocumentStore provides uniform CRUD operations over the tables of a remote
// document database. Tables are resolved to backing collections by the
// implementation; an unmapped table fails with ErrTableUnmapped.
type DocumentStore interface {
	// List returns the rows of table matching q. Implementations may push the
	// query down to the store, but must return every row of the table when the
	// store cannot evaluate it.
	List(ctx context.Context, table string, q ListQuery) (*ListResult, error)

	// Create inserts payload. A string "id" in payload is used as the document
	// identifier; otherwise the store assigns one.
	Create(ctx context.Context, table string, payload Record) (Record, error)

	// Update patches the document with the given id.
	Update(ctx context.Context, table, id string, payload Record) (Record, error)

	// Remove deletes the document with the given id.
	Remove(ctx context.Context, table, id string) error
}

// Configuration errors.
var (
	ErrTableUnmapped   = errors.New("table has no collection mapping")
	ErrEndpointEmpty   = errors.New("endpoint must not be empty")
	ErrProjectEmpty    = errors.New("project must not be empty")
	ErrDatabaseEmpty   = errors.New("database must not be empty")
	ErrPageSizeInvalid = errors.New("page size must be between 1 and 100")
)

// Query errors.
var (
	ErrNoRows         = errors.New("query returned no rows")
	ErrMultipleRows   = errors.New("query returned more than one row")
	ErrBuilderSettled = errors.New("query builder already executed")
	ErrInvalidFilter  = errors.New("invalid filter")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrMissingID      = errors.New("row has no identifier")
)

// Access and session errors.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrNoSession    = errors.New("no active session")
	ErrHubClosed    = errors.New("realtime hub is closed")
	ErrNotSupported = errors.New("operation not supported")
)
