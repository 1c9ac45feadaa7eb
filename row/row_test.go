package row

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Ledger Test Universe
// ============================================================================
//
// Characters:
//   - Clerk: writes customer lines into the ledger
//   - Auditor: checks that each line matches the ledger's columns
//
// Theme: a Schema is the ledger's column header, a Record is one line.
// ============================================================================

func ledgerSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Field{Name: "id", Type: TypeInteger},
		Field{Name: "name", Type: TypeString},
		Field{Name: "balance", Type: TypeNumber},
		Field{Name: "opened", Type: TypeDate},
	)
	require.NoError(t, err)
	return s
}

func TestSchema_Ledger(t *testing.T) {
	t.Run("clerk looks up columns by name", func(t *testing.T) {
		s := ledgerSchema(t)
		assert.Equal(t, 4, s.Len())
		assert.Equal(t, 2, s.IndexOf("balance"))
		assert.Equal(t, -1, s.IndexOf("missing"))
		assert.Equal(t, []string{"id", "name", "balance", "opened"}, s.Names())
	})

	t.Run("ledger refuses duplicate columns", func(t *testing.T) {
		_, err := NewSchema(Field{Name: "id"}, Field{Name: "id"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate field name")
	})

	t.Run("ledger refuses unnamed columns", func(t *testing.T) {
		_, err := NewSchema(Field{Name: " "})
		require.Error(t, err)
	})

	t.Run("extending leaves the original untouched", func(t *testing.T) {
		s := ledgerSchema(t)
		ext, err := s.Extend(Field{Name: "seq", Type: TypeInteger})
		require.NoError(t, err)
		assert.Equal(t, 5, ext.Len())
		assert.Equal(t, 4, s.Len())
		assert.False(t, s.Equal(ext))
	})

	t.Run("auditor checks cardinality and types", func(t *testing.T) {
		s := ledgerSchema(t)
		now := time.Now()

		assert.NoError(t, s.Check(Record{int64(1), "ada", 10.5, now}))
		assert.NoError(t, s.Check(Record{int64(2), nil, nil, nil}), "nulls fit any column")

		err := s.Check(Record{int64(1), "ada"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 values")

		err = s.Check(Record{"one", "ada", 10.5, now})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"id" expects integer`)
	})

	t.Run("equal compares names and types", func(t *testing.T) {
		a := MustSchema(Field{Name: "x", Type: TypeString})
		b := MustSchema(Field{Name: "x", Type: TypeString, Length: 20})
		c := MustSchema(Field{Name: "x", Type: TypeInteger})
		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(c))
		assert.Equal(t, "[x:string]", a.String())
	})
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  Type
		want any
	}{
		{"string to integer", "42", TypeInteger, int64(42)},
		{"int to integer", 7, TypeInteger, int64(7)},
		{"string to number", "2.5", TypeNumber, 2.5},
		{"int to string", 12, TypeString, "12"},
		{"string to boolean", "true", TypeBoolean, true},
		{"string to binary", "ab", TypeBinary, []byte("ab")},
		{"nil stays nil", nil, TypeInteger, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, tt.typ.Accepts(got))
		})
	}

	t.Run("dates", func(t *testing.T) {
		got, err := Convert("2024-03-01T10:00:00Z", TypeDate)
		require.NoError(t, err)
		assert.Equal(t, 2024, got.(time.Time).Year())
	})

	t.Run("garbage is an error", func(t *testing.T) {
		_, err := Convert("forty-two", TypeInteger)
		assert.Error(t, err)
	})
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]Type{
		"Integer": TypeInteger, "decimal": TypeNumber, "": TypeString,
		"bool": TypeBoolean, "timestamp": TypeDate, "bytes": TypeBinary,
	} {
		got, err := ParseType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseType("uuid")
	assert.Error(t, err)
}

func TestRow(t *testing.T) {
	s := ledgerSchema(t)
	blob := []byte{1, 2}
	r := Row{Schema: s, Record: Record{int64(1), "ada", 1.0, blob}}

	assert.Equal(t, "ada", r.Get("name"))
	assert.Nil(t, r.Get("nope"))

	c := r.Clone()
	c.Record[1] = "bob"
	c.Record[3].([]byte)[0] = 9
	assert.Equal(t, "ada", r.Record[1])
	assert.Equal(t, byte(1), blob[0])
	assert.Same(t, s, c.Schema)
}
