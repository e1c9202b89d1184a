package engine

import (
	"fmt"

	"github.com/shelfapp/shelf/internal/schema"
	"github.com/shelfapp/shelf/internal/store"
)

// upToDate reports whether the incoming partial record would change nothing.
//
// Only fields present in incoming are compared, and only for columns that
// are registered and not volatile. The id field and fields for unknown
// columns are skipped; mergeRecord never writes them, so comparing them
// would flag changes the merge cannot make.
func upToDate(existing, incoming schema.Record, tbl *schema.Table) bool {
	for name, val := range incoming {
		if name == "id" {
			continue
		}
		col, ok := tbl.Column(name)
		if !ok || col.Volatile {
			continue
		}
		prev, ok := existing[name]
		if !ok {
			return false
		}
		if !prev.Equal(val) {
			return false
		}
	}
	return true
}

// mergeRecord lays the incoming partial record over a copy of base.
// Incoming fields overwrite; absent fields keep their stored value. The id
// field is never altered, and a value whose kind does not match its column
// declaration is rejected rather than coerced.
func mergeRecord(base, incoming schema.Record, tbl *schema.Table) (schema.Record, error) {
	merged := base.Clone()
	for name, val := range incoming {
		if name == "id" {
			continue
		}
		col, ok := tbl.Column(name)
		if !ok {
			// field the schema doesn't know; there is no column to
			// write it to
			continue
		}
		if val == nil || val.Kind() != col.Type {
			return nil, fmt.Errorf("%w: field %s expects %s, got %s",
				store.ErrSchemaMismatch, name, col.Type, kindOf(val))
		}
		merged[name] = val
	}
	return merged, nil
}

func kindOf(v schema.Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}
