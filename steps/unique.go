package steps

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// UniqueRowsSettings configure unique_rows.
type UniqueRowsSettings struct {
	// Fields are compared to decide whether two rows are duplicates. Empty compares all fields.
	Fields []string `yaml:"fields" toml:"fields"`
}

// uniqueRows drops every row whose compared values were already seen. The input
// does not need to be sorted; seen keys are kept in memory for the whole stream.
type uniqueRows struct {
	trans.BaseWorker
	settings UniqueRowsSettings

	schema  *row.Schema
	indexes []int
	hasher  *xxh3.Hasher
	buf     []byte
	seen    map[uint64][]row.Record
}

func newUniqueRows(cfg trans.Config) (trans.Worker, error) {
	var settings UniqueRowsSettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	return &uniqueRows{
		settings: settings,
		hasher:   xxh3.New(),
		seen:     make(map[uint64][]row.Record),
	}, nil
}

func (u *uniqueRows) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	for {
		r, ok, err := s.GetRow(ctx)
		if err != nil {
			return trans.Failed, err
		}
		if !ok {
			return trans.NoMoreRows, nil
		}
		if err := u.bind(r.Schema); err != nil {
			return trans.Failed, err
		}

		key := u.key(r.Record)
		h := u.hash(key)
		if u.contains(h, key) {
			s.IncLinesRejected(1)
			continue
		}
		u.seen[h] = append(u.seen[h], key)

		if err := s.PutRow(ctx, r); err != nil {
			return trans.Failed, err
		}
		return trans.MoreRows, nil
	}
}

// bind resolves the compared field positions on the first row.
func (u *uniqueRows) bind(schema *row.Schema) error {
	if u.schema != nil {
		return nil
	}
	u.schema = schema
	if len(u.settings.Fields) == 0 {
		u.indexes = make([]int, schema.Len())
		for i := range u.indexes {
			u.indexes[i] = i
		}
		return nil
	}
	for _, name := range u.settings.Fields {
		idx := schema.IndexOf(name)
		if idx < 0 {
			return errors.NewNotFoundError("field %q in input %s", name, schema)
		}
		u.indexes = append(u.indexes, idx)
	}
	return nil
}

func (u *uniqueRows) key(rec row.Record) row.Record {
	key := make(row.Record, len(u.indexes))
	for i, idx := range u.indexes {
		key[i] = rec[idx]
	}
	return key.Clone()
}

func (u *uniqueRows) hash(key row.Record) uint64 {
	u.hasher.Reset()
	for _, v := range key {
		u.buf = appendValue(u.buf[:0], v)
		_, _ = u.hasher.Write(u.buf)
	}
	return u.hasher.Sum64()
}

func (u *uniqueRows) contains(h uint64, key row.Record) bool {
	for _, prev := range u.seen[h] {
		if recordsEqual(prev, key) {
			return true
		}
	}
	return false
}

// appendValue encodes v with a type tag so values of different types never
// hash alike by accident.
func appendValue(b []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(b, 0)
	case int64:
		return binary.AppendVarint(append(b, 1), x)
	case float64:
		return binary.LittleEndian.AppendUint64(append(b, 2), math.Float64bits(x))
	case string:
		b = binary.AppendUvarint(append(b, 3), uint64(len(x)))
		return append(b, x...)
	case bool:
		if x {
			return append(b, 4, 1)
		}
		return append(b, 4, 0)
	case time.Time:
		return binary.AppendVarint(append(b, 5), x.UnixNano())
	case []byte:
		b = binary.AppendUvarint(append(b, 6), uint64(len(x)))
		return append(b, x...)
	default:
		s := fmt.Sprint(x)
		b = binary.AppendUvarint(append(b, 7), uint64(len(s)))
		return append(b, s...)
	}
}

func recordsEqual(a, b row.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	switch b.(type) {
	case []byte, time.Time:
		return false
	}
	if isComparable(a) && isComparable(b) {
		return a == b
	}
	// Slices and maps in untyped fields compare by their encoding.
	return bytes.Equal(appendValue(nil, a), appendValue(nil, b))
}

func isComparable(v any) bool {
	return v == nil || reflect.ValueOf(v).Comparable()
}
