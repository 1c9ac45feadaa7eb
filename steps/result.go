package steps

import (
	"context"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// rowsToResult copies every row into the transformation result so the next
// job entry can read it. Rows are also passed on downstream.
type rowsToResult struct{ trans.BaseWorker }

func (w *rowsToResult) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	return forward(ctx, s, func(r row.Row) error {
		s.AddResultRow(r)
		s.IncLinesOutput(1)
		return nil
	})
}

// rowsFromResult replays the rows of the previous job entry's result.
type rowsFromResult struct {
	trans.BaseWorker
	rows []row.Row
	next int
}

func (w *rowsFromResult) Init(_ context.Context, s *trans.Step) error {
	if s.HasInputs() {
		return errors.Newf("%s does not read input rows", TypeRowsFromResult)
	}
	w.rows = s.PreviousResult().Rows
	return nil
}

func (w *rowsFromResult) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	if w.next >= len(w.rows) {
		return trans.NoMoreRows, nil
	}
	if err := s.PutRow(ctx, w.rows[w.next]); err != nil {
		return trans.Failed, err
	}
	w.next++
	s.IncLinesInput(1)
	return trans.MoreRows, nil
}
