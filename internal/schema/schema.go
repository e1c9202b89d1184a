// Package schema defines the static table registry for the shelf store.
//
// Tables and their columns are declared once, in an embedded TOML document,
// and registered at startup. The column set of a registered table never
// changes during the process lifetime; there is no dynamic schema discovery
// at this layer.
package schema

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed schema.toml
var defaultSchemaTOML []byte

// Column describes one field of a table.
type Column struct {
	// Name is the column name, unique within its table.
	Name string

	// Type is the declared value type. Merges reject values of any other
	// kind rather than coercing them.
	Type Kind

	// Volatile marks derived or freshness-tracking columns that are
	// excluded from change comparison. A record whose only differing
	// fields are volatile counts as up to date and is not rewritten.
	Volatile bool

	// Default is the value an unset column takes when a row is created.
	Default Value
}

// Table describes one registered table: a name plus an ordered column set.
type Table struct {
	Name    string
	Columns []Column

	byName map[string]*Column
}

// Column returns the column with the given name, if declared.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// NewRecord materializes a fresh record for the table with every column at
// its default and the id field set.
func (t *Table) NewRecord(id string) Record {
	rec := make(Record, len(t.Columns))
	for _, col := range t.Columns {
		rec[col.Name] = col.Default
	}
	rec["id"] = Text(id)
	return rec
}

// Registry is the process-wide set of registered tables. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	tables map[string]*Table
	order  []string
}

// Table returns the named table, if registered.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all registered tables in declaration order.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// Names returns the registered table names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// tomlSchema mirrors the layout of the embedded schema document.
type tomlSchema struct {
	Tables []tomlTable `toml:"table"`
}

type tomlTable struct {
	Name    string       `toml:"name"`
	Columns []tomlColumn `toml:"column"`
}

type tomlColumn struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Volatile bool   `toml:"volatile"`
	Default  any    `toml:"default"`
}

// Default returns the registry built from the embedded schema declaration.
func Default() (*Registry, error) {
	return Parse(defaultSchemaTOML)
}

// Parse builds a registry from a TOML schema declaration.
//
// Every table must declare an `id` column of type text; `id` may not be
// volatile. Duplicate table or column names are rejected.
func Parse(data []byte) (*Registry, error) {
	var doc tomlSchema
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("schema declares no tables")
	}

	reg := &Registry{tables: make(map[string]*Table, len(doc.Tables))}
	for _, tt := range doc.Tables {
		if tt.Name == "" {
			return nil, fmt.Errorf("table with empty name")
		}
		if _, dup := reg.tables[tt.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", tt.Name)
		}

		tbl := &Table{
			Name:    tt.Name,
			Columns: make([]Column, 0, len(tt.Columns)),
			byName:  make(map[string]*Column, len(tt.Columns)),
		}
		seen := make(map[string]bool, len(tt.Columns))
		for _, tc := range tt.Columns {
			if tc.Name == "" {
				return nil, fmt.Errorf("table %q: column with empty name", tt.Name)
			}
			if seen[tc.Name] {
				return nil, fmt.Errorf("table %q: duplicate column %q", tt.Name, tc.Name)
			}
			seen[tc.Name] = true
			kind, err := ParseKind(tc.Type)
			if err != nil {
				return nil, fmt.Errorf("table %q, column %q: %w", tt.Name, tc.Name, err)
			}
			def, err := defaultValue(kind, tc.Default)
			if err != nil {
				return nil, fmt.Errorf("table %q, column %q: %w", tt.Name, tc.Name, err)
			}
			tbl.Columns = append(tbl.Columns, Column{
				Name:     tc.Name,
				Type:     kind,
				Volatile: tc.Volatile,
				Default:  def,
			})
		}
		for i := range tbl.Columns {
			tbl.byName[tbl.Columns[i].Name] = &tbl.Columns[i]
		}

		idCol, ok := tbl.byName["id"]
		if !ok {
			return nil, fmt.Errorf("table %q: missing id column", tt.Name)
		}
		if idCol.Type != KindText {
			return nil, fmt.Errorf("table %q: id column must be text, got %s", tt.Name, idCol.Type)
		}
		if idCol.Volatile {
			return nil, fmt.Errorf("table %q: id column cannot be volatile", tt.Name)
		}

		reg.tables[tbl.Name] = tbl
		reg.order = append(reg.order, tbl.Name)
	}

	return reg, nil
}

// defaultValue converts a TOML default literal to a typed value of the
// column's kind, or returns the kind's zero value when absent.
func defaultValue(kind Kind, raw any) (Value, error) {
	if raw == nil {
		return zeroValue(kind), nil
	}
	switch kind {
	case KindText:
		if s, ok := raw.(string); ok {
			return Text(s), nil
		}
	case KindInt:
		if n, ok := raw.(int64); ok {
			return Int(n), nil
		}
	case KindReal:
		switch n := raw.(type) {
		case float64:
			return Real(n), nil
		case int64:
			return Real(n), nil
		}
	case KindBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	case KindTime:
		if s, ok := raw.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp default %q: %w", s, err)
			}
			return Time(t), nil
		}
	case KindJSON:
		if s, ok := raw.(string); ok {
			return JSON(s), nil
		}
	}
	return nil, fmt.Errorf("default %v does not match column type %s", raw, kind)
}
