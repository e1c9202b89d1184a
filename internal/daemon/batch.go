package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shelfapp/shelf/internal/engine"
	"github.com/shelfapp/shelf/internal/schema"
)

// DecodeBatch parses a spool batch payload into a typed synchronization
// batch.
//
// The payload shape is table -> id -> partial record:
//
//	{"games": {"g-17": {"title": "Spelunky", "min_price": 500}}}
//
// Fields are typed against the registry. Tables the registry does not know
// pass through with their ids intact so the engine can count the skip;
// fields the table does not declare are dropped here, since there is no
// column to type them against.
func DecodeBatch(reg *schema.Registry, data []byte) (engine.Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]map[string]map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch payload: %w", err)
	}

	batch := make(engine.Batch, len(raw))
	for tableName, rows := range raw {
		tbl, known := reg.Table(tableName)
		records := make(map[string]schema.Record, len(rows))
		for id, fields := range rows {
			if !known {
				records[id] = schema.Record{}
				continue
			}
			rec := make(schema.Record, len(fields))
			for name, rawVal := range fields {
				col, ok := tbl.Column(name)
				if !ok {
					continue
				}
				val, err := decodeValue(col, rawVal)
				if err != nil {
					return nil, fmt.Errorf("table %s, record %s: %w", tableName, id, err)
				}
				rec[name] = val
			}
			records[id] = rec
		}
		batch[tableName] = records
	}
	return batch, nil
}

// DecodeDeletionSpec parses a spool deletion payload: table -> ids.
//
//	{"downloads": ["d-3", "d-9"]}
func DecodeDeletionSpec(data []byte) (engine.DeletionSpec, error) {
	var spec engine.DeletionSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse deletion payload: %w", err)
	}
	return spec, nil
}

// decodeValue converts one JSON field to a typed value of the column's
// declared kind. Mismatched types are rejected, not coerced.
func decodeValue(col *schema.Column, raw any) (schema.Value, error) {
	switch col.Type {
	case schema.KindText:
		if s, ok := raw.(string); ok {
			return schema.Text(s), nil
		}
	case schema.KindInt:
		if n, ok := raw.(json.Number); ok {
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("field %s: %v is not an integer", col.Name, n)
			}
			return schema.Int(i), nil
		}
	case schema.KindReal:
		if n, ok := raw.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("field %s: %v is not a number", col.Name, n)
			}
			return schema.Real(f), nil
		}
	case schema.KindBool:
		if b, ok := raw.(bool); ok {
			return schema.Bool(b), nil
		}
	case schema.KindTime:
		if raw == nil {
			return schema.Time(time.Time{}), nil
		}
		if s, ok := raw.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid timestamp %q: %w", col.Name, s, err)
			}
			return schema.Time(t), nil
		}
	case schema.KindJSON:
		doc, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", col.Name, err)
		}
		return schema.JSON(doc), nil
	}
	return nil, fmt.Errorf("field %s expects %s, got %T", col.Name, col.Type, raw)
}
