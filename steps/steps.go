// Package steps provides the built-in worker kinds of a transformation.
//
// Kinds are registered under their type id with RegisterBuiltins; definition
// files refer to them by that id. Each kind decodes its own settings struct
// from the step's Config, so the same struct serves YAML and TOML definitions.
package steps

import (
	"context"
	"database/sql"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// Type ids of the built-in workers.
const (
	TypeGenerateRows      = "generate_rows"
	TypeDummy             = "dummy"
	TypeAbort             = "abort"
	TypeUniqueRows        = "unique_rows"
	TypePrioritizeStreams = "prioritize_streams"
	TypeRowsToResult      = "rows_to_result"
	TypeRowsFromResult    = "rows_from_result"
	TypeTableInput        = "table_input"
	TypeTableOutput       = "table_output"
	TypeWriteToLog        = "write_to_log"
	TypeFilterRows        = "filter_rows"
)

// Env carries the shared resources some kinds need.
type Env struct {
	// DB backs table_input and table_output. Without it those kinds fail to configure.
	DB *sql.DB
}

// RegisterBuiltins registers every built-in worker kind on reg.
func RegisterBuiltins(reg *trans.Registry, env Env) {
	reg.Register(TypeGenerateRows, newGenerateRows)
	reg.Register(TypeDummy, func(trans.Config) (trans.Worker, error) { return &dummy{}, nil })
	reg.Register(TypeAbort, newAbort)
	reg.Register(TypeUniqueRows, newUniqueRows)
	reg.Register(TypePrioritizeStreams, newPrioritizeStreams)
	reg.Register(TypeRowsToResult, func(trans.Config) (trans.Worker, error) { return &rowsToResult{}, nil })
	reg.Register(TypeRowsFromResult, func(trans.Config) (trans.Worker, error) { return &rowsFromResult{}, nil })
	reg.Register(TypeTableInput, func(cfg trans.Config) (trans.Worker, error) { return newTableInput(cfg, env.DB) })
	reg.Register(TypeTableOutput, func(cfg trans.Config) (trans.Worker, error) { return newTableOutput(cfg, env.DB) })
	reg.Register(TypeWriteToLog, func(cfg trans.Config) (trans.Worker, error) { return newWriteToLog(cfg) })
	reg.Register(TypeFilterRows, newFilterRows)
}

// FieldSettings declares one output field and, for generators, its constant value.
type FieldSettings struct {
	Name   string `yaml:"name" toml:"name"`
	Type   string `yaml:"type" toml:"type"`
	Format string `yaml:"format" toml:"format"`
	Value  string `yaml:"value" toml:"value"`
}

func (f FieldSettings) field() (row.Field, error) {
	t, err := row.ParseType(f.Type)
	if err != nil {
		return row.Field{}, errors.Wrapf(err, "field %s", f.Name)
	}
	return row.Field{Name: f.Name, Type: t, Format: f.Format}, nil
}

func decode(cfg trans.Config, v any) error {
	if cfg == nil {
		return nil
	}
	return errors.Wrap(cfg.Decode(v), "decode settings")
}

// forward reads one row and writes it on unchanged. It is the body of every
// pass-through kind; seen is called for each row before it is written.
func forward(ctx context.Context, s *trans.Step, seen func(row.Row) error) (trans.Outcome, error) {
	r, ok, err := s.GetRow(ctx)
	if err != nil {
		return trans.Failed, err
	}
	if !ok {
		return trans.NoMoreRows, nil
	}
	if seen != nil {
		if err := seen(r); err != nil {
			return trans.Failed, err
		}
	}
	if err := s.PutRow(ctx, r); err != nil {
		return trans.Failed, err
	}
	return trans.MoreRows, nil
}

// dummy passes every row through.
type dummy struct{ trans.BaseWorker }

func (d *dummy) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	return forward(ctx, s, nil)
}
