package entries

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
)

// success ends a branch successfully, whatever came before.
type success struct{}

func (success) Execute(_ context.Context, _ job.Parent, prev *result.Result, _ int) (*result.Result, error) {
	return succeeded(prev), nil
}

// succeeded is prev with a clean successful status. Rows and line counts carry over.
func succeeded(prev *result.Result) *result.Result {
	res := prev.Clone()
	res.Success = true
	res.NrErrors = 0
	res.ExitStatus = 0
	return res
}

// dummy passes the incoming result on unchanged.
type dummy struct{}

func (dummy) Execute(_ context.Context, _ job.Parent, prev *result.Result, _ int) (*result.Result, error) {
	return prev.Clone(), nil
}

// AbortSettings configure the abort entry.
type AbortSettings struct {
	Message string `yaml:"message" toml:"message"`
}

type abort struct {
	settings AbortSettings
}

func newAbort(cfg job.Config) (job.Entry, error) {
	a := &abort{settings: AbortSettings{Message: "job aborted"}}
	if err := decode(cfg, &a.settings); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *abort) Execute(_ context.Context, p job.Parent, prev *result.Result, _ int) (*result.Result, error) {
	p.Logger().Errorw(a.settings.Message)
	res := prev.Clone()
	res.MarkFailed(1)
	return res, nil
}

// LogSettings configure the log entry.
type LogSettings struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level   string `yaml:"level" toml:"level"`
	Subject string `yaml:"subject" toml:"subject"`
	Message string `yaml:"message" toml:"message"`
}

type logEntry struct {
	settings LogSettings
	logf     func(*zap.SugaredLogger, string, ...any)
}

func newLog(cfg job.Config) (job.Entry, error) {
	l := &logEntry{settings: LogSettings{Level: "info"}}
	if err := decode(cfg, &l.settings); err != nil {
		return nil, err
	}
	switch strings.ToLower(l.settings.Level) {
	case "debug":
		l.logf = (*zap.SugaredLogger).Debugw
	case "info", "":
		l.logf = (*zap.SugaredLogger).Infow
	case "warn":
		l.logf = (*zap.SugaredLogger).Warnw
	case "error":
		l.logf = (*zap.SugaredLogger).Errorw
	default:
		return nil, errors.Newf("unknown log level %q", l.settings.Level)
	}
	if l.settings.Message == "" {
		return nil, errors.New("log entry needs a message")
	}
	return l, nil
}

func (l *logEntry) Execute(_ context.Context, p job.Parent, prev *result.Result, nr int) (*result.Result, error) {
	kv := []any{logger.FieldEntryNr, nr, logger.FieldSuccess, prev.Success, logger.FieldErrors, prev.NrErrors}
	if l.settings.Subject != "" {
		kv = append(kv, "subject", l.settings.Subject)
	}
	l.logf(p.Logger(), l.settings.Message, kv...)
	return prev.Clone(), nil
}

// DelaySettings configure the delay entry. Timeout is either a duration
// string such as "1m30s" or a number counted in Unit.
type DelaySettings struct {
	Timeout any `yaml:"timeout" toml:"timeout"`
	// Unit is seconds, minutes, or hours. Defaults to seconds.
	Unit string `yaml:"unit" toml:"unit"`
}

func (s DelaySettings) duration() (time.Duration, error) {
	if str, ok := s.Timeout.(string); ok && s.Unit == "" {
		if d, err := time.ParseDuration(str); err == nil {
			return d, nil
		}
	}
	n, err := cast.ToFloat64E(s.Timeout)
	if err != nil {
		return 0, errors.Wrap(err, "delay timeout")
	}
	if n < 0 {
		return 0, errors.Newf("delay timeout must not be negative, got %v", n)
	}
	var unit time.Duration
	switch strings.ToLower(s.Unit) {
	case "", "s", "seconds":
		unit = time.Second
	case "m", "minutes":
		unit = time.Minute
	case "h", "hours":
		unit = time.Hour
	default:
		return 0, errors.Newf("unknown delay unit %q", s.Unit)
	}
	return time.Duration(n * float64(unit)), nil
}

type delay struct {
	wait time.Duration
}

func newDelay(cfg job.Config) (job.Entry, error) {
	var settings DelaySettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	d, err := settings.duration()
	if err != nil {
		return nil, err
	}
	return &delay{wait: d}, nil
}

func (d *delay) Execute(ctx context.Context, p job.Parent, prev *result.Result, _ int) (*result.Result, error) {
	p.Logger().Debugw("Waiting", logger.FieldDurationMS, d.wait.Milliseconds())
	t := time.NewTimer(d.wait)
	defer t.Stop()

	res := prev.Clone()
	select {
	case <-t.C:
		res.Success = true
	case <-p.Stopping():
		res.MarkStopped()
	case <-ctx.Done():
		res.MarkStopped()
	}
	return res, nil
}
