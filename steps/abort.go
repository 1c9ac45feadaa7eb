package steps

import (
	"context"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// AbortSettings configure abort.
type AbortSettings struct {
	// RowThreshold is how many rows pass before the transformation is aborted.
	RowThreshold int64  `yaml:"row_threshold" toml:"row_threshold"`
	Message      string `yaml:"message" toml:"message"`
}

// abort lets RowThreshold rows through and fails on the next one.
type abort struct {
	trans.BaseWorker
	settings AbortSettings
	seen     int64
}

func newAbort(cfg trans.Config) (trans.Worker, error) {
	var settings AbortSettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	if settings.RowThreshold < 0 {
		return nil, errors.Newf("row_threshold must not be negative, got %d", settings.RowThreshold)
	}
	if settings.Message == "" {
		settings.Message = "abort step reached its row threshold"
	}
	return &abort{settings: settings}, nil
}

func (a *abort) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	return forward(ctx, s, func(row.Row) error {
		a.seen++
		if a.seen > a.settings.RowThreshold {
			s.IncLinesRejected(1)
			return errors.Newf("%s (after %d rows)", a.settings.Message, a.settings.RowThreshold)
		}
		return nil
	})
}
