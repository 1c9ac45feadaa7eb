package steps

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// FilterRowsSettings configure filter_rows.
type FilterRowsSettings struct {
	Field string `yaml:"field" toml:"field"`
	// Operator is one of = != < <= > >= null not_null.
	Operator string `yaml:"operator" toml:"operator"`
	// Value is converted to the field's type on the first row.
	Value string `yaml:"value" toml:"value"`
	// SendTrueTo and SendFalseTo name the output steps for matching and other
	// rows. Without targets, matching rows go to every output as usual and the
	// rest are rejected.
	SendTrueTo  string `yaml:"send_true_to" toml:"send_true_to"`
	SendFalseTo string `yaml:"send_false_to" toml:"send_false_to"`
}

var filterOperators = []string{"=", "!=", "<", "<=", ">", ">=", "null", "not_null"}

type filterRows struct {
	trans.BaseWorker
	settings FilterRowsSettings

	bound bool
	index int
	value any
}

func newFilterRows(cfg trans.Config) (trans.Worker, error) {
	var settings FilterRowsSettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	settings.Operator = strings.ToLower(strings.TrimSpace(settings.Operator))
	if settings.Operator == "" {
		settings.Operator = "="
	}
	if settings.Field == "" {
		return nil, errors.New("filter_rows needs a field")
	}
	if !slices.Contains(filterOperators, settings.Operator) {
		return nil, errors.WithHintf(
			errors.Newf("unknown operator %q", settings.Operator),
			"use one of %s", strings.Join(filterOperators, " "))
	}
	return &filterRows{settings: settings}, nil
}

func (f *filterRows) Init(_ context.Context, s *trans.Step) error {
	outputs := s.OutputNames()
	for _, to := range []string{f.settings.SendTrueTo, f.settings.SendFalseTo} {
		if to != "" && !slices.Contains(outputs, to) {
			return errors.NewNotFoundError("target %q is not an output of %s", to, s.Name())
		}
	}
	return nil
}

func (f *filterRows) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	r, ok, err := s.GetRow(ctx)
	if err != nil {
		return trans.Failed, err
	}
	if !ok {
		return trans.NoMoreRows, nil
	}
	if err := f.bind(r.Schema); err != nil {
		return trans.Failed, err
	}

	target := f.settings.SendFalseTo
	if f.matches(r.Record[f.index]) {
		target = f.settings.SendTrueTo
		if target == "" && f.settings.SendFalseTo == "" {
			return trans.MoreRows, s.PutRow(ctx, r)
		}
	}
	if target == "" {
		s.IncLinesRejected(1)
		return trans.MoreRows, nil
	}
	return trans.MoreRows, s.PutRowTo(ctx, target, r)
}

func (f *filterRows) bind(schema *row.Schema) error {
	if f.bound {
		return nil
	}
	f.index = schema.IndexOf(f.settings.Field)
	if f.index < 0 {
		return errors.NewNotFoundError("field %q in input %s", f.settings.Field, schema)
	}
	if f.settings.Operator != "null" && f.settings.Operator != "not_null" {
		v, err := row.Convert(f.settings.Value, schema.Field(f.index).Type)
		if err != nil {
			return errors.Wrapf(err, "filter value for %s", f.settings.Field)
		}
		f.value = v
	}
	f.bound = true
	return nil
}

func (f *filterRows) matches(v any) bool {
	switch f.settings.Operator {
	case "null":
		return v == nil
	case "not_null":
		return v != nil
	}
	if v == nil {
		return false
	}
	c, ok := compareValues(v, f.value)
	if !ok {
		return f.settings.Operator == "!="
	}
	switch f.settings.Operator {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

// compareValues orders two values of the same row type. ok is false when the
// values cannot be ordered against each other.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		return cmpOrdered(x, y), ok
	case float64:
		y, ok := b.(float64)
		return cmpOrdered(x, y), ok
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		switch {
		case !ok:
			return 0, false
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	case []byte:
		y, ok := b.([]byte)
		return bytes.Compare(x, y), ok
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
