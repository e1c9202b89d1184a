package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Kind identifies the declared type of a column value.
type Kind int

const (
	// KindText is a UTF-8 string column.
	KindText Kind = iota
	// KindInt is a 64-bit integer column.
	KindInt
	// KindReal is a 64-bit float column.
	KindReal
	// KindBool is a boolean column.
	KindBool
	// KindTime is a timestamp column, stored as RFC 3339 text.
	KindTime
	// KindJSON is a composite column holding an arbitrary JSON document.
	KindJSON
)

// String returns the schema-file spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindBool:
		return "bool"
	case KindTime:
		return "timestamp"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseKind converts a schema-file type name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "text":
		return KindText, nil
	case "int":
		return KindInt, nil
	case "real":
		return KindReal, nil
	case "bool":
		return KindBool, nil
	case "timestamp":
		return KindTime, nil
	case "json":
		return KindJSON, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

// Value is a typed record field. Only the types in this package implement it.
//
// Values are compared with Equal, never with ==: JSON values compare
// structurally and timestamps compare by instant, not by representation.
type Value interface {
	Kind() Kind
	Equal(other Value) bool

	value() // sealed
}

// Text is a string field value.
type Text string

func (Text) value()     {}
func (Text) Kind() Kind { return KindText }

// Equal reports whether other is a Text with the same contents.
func (v Text) Equal(other Value) bool {
	o, ok := other.(Text)
	return ok && v == o
}

// Int is an integer field value.
type Int int64

func (Int) value()     {}
func (Int) Kind() Kind { return KindInt }

// Equal reports whether other is an Int with the same value.
func (v Int) Equal(other Value) bool {
	o, ok := other.(Int)
	return ok && v == o
}

// Real is a float field value.
type Real float64

func (Real) value()     {}
func (Real) Kind() Kind { return KindReal }

// Equal reports whether other is a Real with the same value.
func (v Real) Equal(other Value) bool {
	o, ok := other.(Real)
	return ok && v == o
}

// Bool is a boolean field value.
type Bool bool

func (Bool) value()     {}
func (Bool) Kind() Kind { return KindBool }

// Equal reports whether other is a Bool with the same value.
func (v Bool) Equal(other Value) bool {
	o, ok := other.(Bool)
	return ok && v == o
}

// Time is a timestamp field value. The zero Time means "unset" and is
// persisted as NULL.
type Time time.Time

func (Time) value()     {}
func (Time) Kind() Kind { return KindTime }

// Equal reports whether other is a Time denoting the same instant.
func (v Time) Equal(other Value) bool {
	o, ok := other.(Time)
	return ok && time.Time(v).Equal(time.Time(o))
}

// IsZero reports whether the timestamp is unset.
func (v Time) IsZero() bool { return time.Time(v).IsZero() }

// JSON is a composite field value holding a raw JSON document.
type JSON string

func (JSON) value()     {}
func (JSON) Kind() Kind { return KindJSON }

// Equal reports whether other is a JSON value that is structurally equal:
// the two documents decode to the same shape, regardless of key order or
// whitespace.
func (v JSON) Equal(other Value) bool {
	o, ok := other.(JSON)
	if !ok {
		return false
	}
	if v == o {
		return true
	}
	var a, b any
	if err := json.Unmarshal([]byte(v), &a); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(o), &b); err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// zeroValue returns the default value a column of the given kind takes when
// neither the schema nor the caller supplies one.
func zeroValue(k Kind) Value {
	switch k {
	case KindText:
		return Text("")
	case KindInt:
		return Int(0)
	case KindReal:
		return Real(0)
	case KindBool:
		return Bool(false)
	case KindTime:
		return Time(time.Time{})
	case KindJSON:
		return JSON("null")
	default:
		return nil
	}
}

// Record is one row of a table: a mapping from column name to typed value.
// A partial record carries only the fields the caller wants to update.
type Record map[string]Value

// ID returns the record's id field, or "" if unset.
func (r Record) ID() string {
	if v, ok := r["id"].(Text); ok {
		return string(v)
	}
	return ""
}

// Clone returns a shallow copy of the record. Values are immutable, so a
// shallow copy is safe to mutate field-by-field.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
