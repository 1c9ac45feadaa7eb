package steps

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// GenerateRowsSettings configure generate_rows.
type GenerateRowsSettings struct {
	// Limit is the number of rows to produce. Ignored when NeverEnding is set.
	Limit       int64           `yaml:"limit" toml:"limit"`
	NeverEnding bool            `yaml:"never_ending" toml:"never_ending"`
	Fields      []FieldSettings `yaml:"fields" toml:"fields"`
	// SequenceField, when set, adds an integer field numbering rows from SequenceStart.
	SequenceField string `yaml:"sequence_field" toml:"sequence_field"`
	SequenceStart int64  `yaml:"sequence_start" toml:"sequence_start"`
	// RowsPerSecond throttles the generator. Zero is unthrottled.
	RowsPerSecond float64 `yaml:"rows_per_second" toml:"rows_per_second"`
}

type generateRows struct {
	settings GenerateRowsSettings
	schema   *row.Schema
	template row.Record
	limiter  *rate.Limiter
	n        int64

	stopOnce sync.Once
	stop     chan struct{}
}

func newGenerateRows(cfg trans.Config) (trans.Worker, error) {
	settings := GenerateRowsSettings{SequenceStart: 1}
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	if settings.Limit < 0 {
		return nil, errors.Newf("limit must not be negative, got %d", settings.Limit)
	}
	if settings.RowsPerSecond < 0 {
		return nil, errors.Newf("rows_per_second must not be negative, got %g", settings.RowsPerSecond)
	}
	return &generateRows{settings: settings, stop: make(chan struct{})}, nil
}

func (g *generateRows) Init(_ context.Context, s *trans.Step) error {
	if s.HasInputs() {
		return errors.Newf("%s does not read input rows", TypeGenerateRows)
	}

	fields := make([]row.Field, 0, len(g.settings.Fields)+1)
	g.template = make(row.Record, 0, len(g.settings.Fields)+1)
	for _, fs := range g.settings.Fields {
		f, err := fs.field()
		if err != nil {
			return err
		}
		var v any
		if fs.Value != "" {
			if v, err = row.Convert(fs.Value, f.Type); err != nil {
				return errors.Wrapf(err, "field %s", f.Name)
			}
		}
		fields = append(fields, f)
		g.template = append(g.template, v)
	}
	if g.settings.SequenceField != "" {
		fields = append(fields, row.Field{Name: g.settings.SequenceField, Type: row.TypeInteger})
		g.template = append(g.template, nil)
	}

	schema, err := row.NewSchema(fields...)
	if err != nil {
		return err
	}
	g.schema = schema

	if g.settings.RowsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(g.settings.RowsPerSecond), 1)
	}
	return nil
}

func (g *generateRows) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	if !g.settings.NeverEnding && g.n >= g.settings.Limit {
		return trans.NoMoreRows, nil
	}
	if err := g.throttle(ctx); err != nil {
		return trans.Failed, err
	}

	rec := g.template.Clone()
	if g.settings.SequenceField != "" {
		rec[len(rec)-1] = g.settings.SequenceStart + g.n
	}
	if err := s.PutRow(ctx, row.Row{Schema: g.schema, Record: rec}); err != nil {
		return trans.Failed, err
	}
	g.n++
	return trans.MoreRows, nil
}

// throttle waits for the limiter, giving up when the step is stopped.
func (g *generateRows) throttle(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	r := g.limiter.Reserve()
	d := r.Delay()
	if d == 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-g.stop:
		r.Cancel()
		return errors.ErrStopped
	}
}

func (g *generateRows) Dispose(*trans.Step) {}

func (g *generateRows) StopRunning(*trans.Step) {
	g.stopOnce.Do(func() { close(g.stop) })
}
