// Package row defines the records that flow through a transformation and the
// schema descriptors that give them meaning.
//
// A Record is a positional tuple of values. A Schema names and types each
// position. Schemas are shared by reference across every record of a stream
// segment and must not be modified once a record using them was published.
package row

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/teranos/weir/errors"
)

// Type is the logical type of a field value.
type Type int

const (
	TypeNone Type = iota
	TypeInteger
	TypeNumber
	TypeString
	TypeBoolean
	TypeDate
	TypeBinary
)

var typeNames = map[Type]string{
	TypeNone:    "none",
	TypeInteger: "integer",
	TypeNumber:  "number",
	TypeString:  "string",
	TypeBoolean: "boolean",
	TypeDate:    "date",
	TypeBinary:  "binary",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType resolves a type name as written in definition files.
func ParseType(name string) (Type, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "int", "integer":
		return TypeInteger, nil
	case "float", "number", "decimal":
		return TypeNumber, nil
	case "", "string", "text":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBoolean, nil
	case "date", "timestamp", "datetime":
		return TypeDate, nil
	case "binary", "bytes":
		return TypeBinary, nil
	}
	return TypeNone, errors.Newf("unknown field type %q", name)
}

// Accepts reports whether v is a valid value for t. nil is valid for every type.
func (t Type) Accepts(v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case TypeInteger:
		_, ok := v.(int64)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDate:
		_, ok := v.(time.Time)
		return ok
	case TypeBinary:
		_, ok := v.([]byte)
		return ok
	case TypeNone:
		return true
	}
	return false
}

// Convert coerces v into the canonical Go representation of t.
// Integers are int64, numbers float64, dates time.Time, binary []byte.
func Convert(v any, t Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch t {
	case TypeInteger:
		out, err = cast.ToInt64E(v)
	case TypeNumber:
		out, err = cast.ToFloat64E(v)
	case TypeString:
		out, err = cast.ToStringE(v)
	case TypeBoolean:
		out, err = cast.ToBoolE(v)
	case TypeDate:
		out, err = cast.ToTimeE(v)
	case TypeBinary:
		switch b := v.(type) {
		case []byte:
			out = b
		case string:
			out = []byte(b)
		default:
			err = errors.Newf("cannot convert %T to binary", v)
		}
	case TypeNone:
		out = v
	default:
		err = errors.Newf("unknown type %d", t)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "convert %v to %s", v, t)
	}
	return out, nil
}

// Record is an ordered tuple of values. Immutable once handed to a channel.
type Record []any

// Clone returns a shallow copy of r. Binary values are copied too.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for i, v := range r {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out[i] = v
	}
	return out
}

// Row pairs a record with the schema describing it.
type Row struct {
	Schema *Schema
	Record Record
}

// Get returns the value of the named field, or nil if the schema has no such field.
func (r Row) Get(name string) any {
	if r.Schema == nil {
		return nil
	}
	i := r.Schema.IndexOf(name)
	if i < 0 || i >= len(r.Record) {
		return nil
	}
	return r.Record[i]
}

// Clone returns a row with a copied record sharing the same schema.
func (r Row) Clone() Row {
	return Row{Schema: r.Schema, Record: r.Record.Clone()}
}
