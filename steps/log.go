package steps

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// WriteToLogSettings configure write_to_log.
type WriteToLogSettings struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level   string `yaml:"level" toml:"level"`
	Message string `yaml:"message" toml:"message"`
	// Limit stops logging after this many rows; rows still pass. Zero logs all.
	Limit int64 `yaml:"limit" toml:"limit"`
}

type writeToLog struct {
	trans.BaseWorker
	settings WriteToLogSettings
	logf     func(*zap.SugaredLogger, string, ...any)
	logged   int64
}

func newWriteToLog(cfg trans.Config) (trans.Worker, error) {
	settings := WriteToLogSettings{Level: "info", Message: "Row"}
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	w := &writeToLog{settings: settings}
	switch settings.Level {
	case "debug":
		w.logf = (*zap.SugaredLogger).Debugw
	case "info", "":
		w.logf = (*zap.SugaredLogger).Infow
	case "warn":
		w.logf = (*zap.SugaredLogger).Warnw
	case "error":
		w.logf = (*zap.SugaredLogger).Errorw
	default:
		return nil, errors.Newf("unknown log level %q", settings.Level)
	}
	return w, nil
}

func (w *writeToLog) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	return forward(ctx, s, func(r row.Row) error {
		if w.settings.Limit > 0 && w.logged >= w.settings.Limit {
			return nil
		}
		w.logged++
		w.logf(s.Logger(), w.settings.Message, rowFields(r)...)
		return nil
	})
}

// rowFields flattens a row into zap key/value pairs.
func rowFields(r row.Row) []any {
	kv := make([]any, 0, 2*len(r.Record)+2)
	kv = append(kv, logger.FieldCount, len(r.Record))
	for i, v := range r.Record {
		kv = append(kv, r.Schema.Field(i).Name, v)
	}
	return kv
}
