package store

import "errors"

// Errors returned by store operations.
//
// Check them with errors.Is():
//
//	if errors.Is(err, store.ErrUnknownTable) {
//	    // table is not in the registry
//	}
var (
	// ErrUnknownTable is returned when an operation names a table that is
	// not in the schema registry.
	ErrUnknownTable = errors.New("table not registered")

	// ErrStoreClosed is returned when an operation is attempted after
	// Close. This indicates a lifecycle bug in the caller.
	ErrStoreClosed = errors.New("store is closed")

	// ErrSchemaMismatch is returned at open time when the on-disk table
	// shape conflicts with the registered schema, and by merge operations
	// when a value's type does not match its column declaration.
	ErrSchemaMismatch = errors.New("schema mismatch")
)
