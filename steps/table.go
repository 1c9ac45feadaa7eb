package steps

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

var errNoDatabase = errors.New("no database configured")

// TableInputSettings configure table_input.
type TableInputSettings struct {
	Query string `yaml:"query" toml:"query"`
	// Fields optionally fix the output types by column name. Columns not listed
	// take their type from the declared column type.
	Fields []FieldSettings `yaml:"fields" toml:"fields"`
}

// tableInput streams the result set of a query.
type tableInput struct {
	settings TableInputSettings
	db       *sql.DB

	mu     sync.Mutex
	cancel context.CancelFunc
	rows   *sql.Rows
	schema *row.Schema
}

func newTableInput(cfg trans.Config, db *sql.DB) (trans.Worker, error) {
	if db == nil {
		return nil, errNoDatabase
	}
	var settings TableInputSettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	if strings.TrimSpace(settings.Query) == "" {
		return nil, errors.New("query is required")
	}
	return &tableInput{settings: settings, db: db}, nil
}

func (t *tableInput) Init(_ context.Context, s *trans.Step) error {
	if s.HasInputs() {
		return errors.Newf("%s does not read input rows", TypeTableInput)
	}
	return nil
}

func (t *tableInput) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	if t.rows == nil {
		if err := t.open(ctx, s); err != nil {
			return trans.Failed, err
		}
	}
	if !t.rows.Next() {
		if err := t.rows.Err(); err != nil {
			return trans.Failed, errors.Wrap(err, "read result set")
		}
		return trans.NoMoreRows, nil
	}

	raw := make([]any, t.schema.Len())
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := t.rows.Scan(ptrs...); err != nil {
		return trans.Failed, errors.Wrap(err, "scan row")
	}
	rec := make(row.Record, len(raw))
	for i, v := range raw {
		f := t.schema.Field(i)
		c, err := row.Convert(v, f.Type)
		if err != nil {
			return trans.Failed, errors.Wrapf(err, "column %s", f.Name)
		}
		rec[i] = c
	}
	s.IncLinesInput(1)
	if err := s.PutRow(ctx, row.Row{Schema: t.schema, Record: rec}); err != nil {
		return trans.Failed, err
	}
	return trans.MoreRows, nil
}

func (t *tableInput) open(ctx context.Context, s *trans.Step) error {
	qctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	rows, err := t.db.QueryContext(qctx, t.settings.Query)
	if err != nil {
		return errors.Wrap(err, "run query")
	}
	t.rows = rows

	cols, err := rows.ColumnTypes()
	if err != nil {
		return errors.Wrap(err, "read columns")
	}
	override := make(map[string]FieldSettings, len(t.settings.Fields))
	for _, fs := range t.settings.Fields {
		override[fs.Name] = fs
	}
	fields := make([]row.Field, len(cols))
	for i, c := range cols {
		if fs, ok := override[c.Name()]; ok {
			f, err := fs.field()
			if err != nil {
				return err
			}
			fields[i] = f
			continue
		}
		fields[i] = row.Field{Name: c.Name(), Type: columnType(c.DatabaseTypeName())}
	}
	if t.schema, err = row.NewSchema(fields...); err != nil {
		return err
	}
	s.Logger().Debugw("Query opened", logger.FieldCount, len(fields))
	return nil
}

// columnType maps a declared sqlite column type to a value type using sqlite's
// type affinity rules. Undeclared types keep whatever the driver returns.
func columnType(decl string) row.Type {
	d := strings.ToUpper(decl)
	switch {
	case d == "":
		return row.TypeNone
	case strings.Contains(d, "INT"):
		return row.TypeInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return row.TypeString
	case strings.Contains(d, "BLOB"):
		return row.TypeBinary
	case strings.Contains(d, "BOOL"):
		return row.TypeBoolean
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return row.TypeDate
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUM"), strings.Contains(d, "DEC"):
		return row.TypeNumber
	}
	return row.TypeNone
}

func (t *tableInput) StopRunning(*trans.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *tableInput) Dispose(s *trans.Step) {
	if t.rows != nil {
		if err := t.rows.Close(); err != nil {
			s.Logger().Warnw("Failed to close result set", logger.FieldError, err)
		}
	}
	t.StopRunning(s)
}

// TableOutputSettings configure table_output.
type TableOutputSettings struct {
	Table string `yaml:"table" toml:"table"`
	// Fields are the columns written, in input field order. Empty writes every field.
	Fields   []string `yaml:"fields" toml:"fields"`
	Truncate bool     `yaml:"truncate" toml:"truncate"`
	// CommitSize is the number of rows per transaction. Zero commits once at the end.
	CommitSize int `yaml:"commit_size" toml:"commit_size"`
}

// tableOutput inserts every row into a table and passes it on.
type tableOutput struct {
	trans.BaseWorker
	settings TableOutputSettings
	db       *sql.DB

	tx      *sql.Tx
	stmt    *sql.Stmt
	indexes []int
	pending int
}

func newTableOutput(cfg trans.Config, db *sql.DB) (trans.Worker, error) {
	if db == nil {
		return nil, errNoDatabase
	}
	var settings TableOutputSettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	if strings.TrimSpace(settings.Table) == "" {
		return nil, errors.New("table is required")
	}
	if settings.CommitSize < 0 {
		return nil, errors.Newf("commit_size must not be negative, got %d", settings.CommitSize)
	}
	return &tableOutput{settings: settings, db: db}, nil
}

func (t *tableOutput) Init(ctx context.Context, _ *trans.Step) error {
	if !t.settings.Truncate {
		return nil
	}
	_, err := t.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(t.settings.Table))
	return errors.Wrapf(err, "truncate %s", t.settings.Table)
}

func (t *tableOutput) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	r, ok, err := s.GetRow(ctx)
	if err != nil {
		return trans.Failed, err
	}
	if !ok {
		if err := t.commit(); err != nil {
			return trans.Failed, err
		}
		return trans.NoMoreRows, nil
	}

	if t.tx == nil {
		if err := t.begin(ctx, r.Schema); err != nil {
			return trans.Failed, err
		}
	}
	args := make([]any, len(t.indexes))
	for i, idx := range t.indexes {
		args[i] = r.Record[idx]
	}
	if _, err := t.stmt.ExecContext(ctx, args...); err != nil {
		return trans.Failed, errors.Wrapf(err, "insert into %s", t.settings.Table)
	}
	s.IncLinesOutput(1)

	t.pending++
	if t.settings.CommitSize > 0 && t.pending >= t.settings.CommitSize {
		if err := t.commit(); err != nil {
			return trans.Failed, err
		}
	}

	if err := s.PutRow(ctx, r); err != nil {
		return trans.Failed, err
	}
	return trans.MoreRows, nil
}

func (t *tableOutput) begin(ctx context.Context, schema *row.Schema) error {
	if t.indexes == nil {
		cols := t.settings.Fields
		if len(cols) == 0 {
			cols = schema.Names()
		}
		for _, name := range cols {
			idx := schema.IndexOf(name)
			if idx < 0 {
				return errors.NewNotFoundError("field %q in input %s", name, schema)
			}
			t.indexes = append(t.indexes, idx)
		}
	}

	quoted := make([]string, len(t.indexes))
	for i, idx := range t.indexes {
		quoted[i] = quoteIdent(schema.Field(idx).Name)
	}
	query := "INSERT INTO " + quoteIdent(t.settings.Table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", ") + ")"

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "prepare %s", query)
	}
	t.tx, t.stmt = tx, stmt
	return nil
}

func (t *tableOutput) commit() error {
	if t.tx == nil {
		return nil
	}
	_ = t.stmt.Close()
	err := t.tx.Commit()
	t.tx, t.stmt, t.pending = nil, nil, 0
	return errors.Wrap(err, "commit")
}

func (t *tableOutput) Dispose(s *trans.Step) {
	if t.tx == nil {
		return
	}
	_ = t.stmt.Close()
	if err := t.tx.Rollback(); err != nil {
		s.Logger().Warnw("Failed to roll back uncommitted rows", logger.FieldError, err)
	}
	t.tx, t.stmt = nil, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
