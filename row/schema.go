package row

import (
	"strings"

	"github.com/teranos/weir/errors"
)

// Field describes one position of a record.
type Field struct {
	Name      string
	Type      Type
	Format    string
	Length    int
	Precision int
}

// Schema is an ordered list of uniquely named fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Field names must be non-empty and unique.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if err := s.add(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSchema is NewSchema for static field lists; it panics on invalid input.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) add(f Field) error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.Newf("field %d has an empty name", len(s.fields))
	}
	if _, dup := s.index[f.Name]; dup {
		return errors.Newf("duplicate field name %q", f.Name)
	}
	s.index[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
	return nil
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Fields returns a copy of the field list.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	return append([]Field(nil), s.fields...)
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// IndexOf returns the position of name, or -1.
func (s *Schema) IndexOf(name string) int {
	if s == nil {
		return -1
	}
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Extend returns a new schema with fields appended. s is left untouched.
func (s *Schema) Extend(fields ...Field) (*Schema, error) {
	return NewSchema(append(s.Fields(), fields...)...)
}

// Equal reports whether both schemas have the same names and types in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s.Len() != other.Len() {
		return false
	}
	for i := range s.fields {
		if s.fields[i].Name != other.fields[i].Name || s.fields[i].Type != other.fields[i].Type {
			return false
		}
	}
	return true
}

// Check verifies that rec has the cardinality of s and that each value fits its field type.
func (s *Schema) Check(rec Record) error {
	if len(rec) != s.Len() {
		return errors.Newf("record has %d values, schema has %d fields", len(rec), s.Len())
	}
	for i, v := range rec {
		f := s.fields[i]
		if !f.Type.Accepts(v) {
			return errors.Newf("field %q expects %s, got %T", f.Name, f.Type, v)
		}
	}
	return nil
}

func (s *Schema) String() string {
	if s == nil {
		return "[]"
	}
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
