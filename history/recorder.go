package history

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/teranos/weir/db"
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/logger"
)

// ListenerName is the name the Recorder registers under.
const ListenerName = "history"

// Recorder is an extension listener writing every run to a Store.
//
// Write failures are logged and swallowed unless Strict is set: a GraphStart
// listener error aborts the run, and a missing history row should not.
type Recorder struct {
	store  *Store
	log    *zap.SugaredLogger
	Strict bool

	// rss reports the resident memory of the process.
	rss func() (uint64, error)
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store, log *zap.SugaredLogger) *Recorder {
	return &Recorder{
		store: store,
		log:   logger.AddHistorySymbol(log).Named("recorder"),
		rss:   processRSS,
	}
}

// Register subscribes the Recorder to the hooks it records.
func (r *Recorder) Register(d *extension.Dispatcher) {
	d.Register(ListenerName, r, extension.GraphStart, extension.EntryAfterExecution, extension.GraphFinish)
}

func (r *Recorder) Notify(ctx context.Context, ev extension.Event) error {
	if ev.Subject == nil {
		return nil
	}
	var err error
	switch ev.Hook {
	case extension.GraphStart:
		err = r.store.Start(ctx, Run{
			ID:          ev.Subject.RunID(),
			ParentRunID: ev.Subject.ParentRunID(),
			Kind:        ev.Subject.Kind(),
			Name:        ev.Subject.Name(),
			StartedAt:   ev.Time,
		})
	case extension.EntryAfterExecution:
		rec := EntryRecord{Entry: ev.Entry, Nr: ev.EntryNr, FinishedAt: ev.Time}
		if ev.Result != nil {
			rec.Success = ev.Result.Success
			rec.NrErrors = ev.Result.NrErrors
			rec.Duration = ev.Result.Elapsed
		}
		err = r.store.AddEntry(ctx, ev.Subject.RunID(), rec)
	case extension.GraphFinish:
		rss, rerr := r.rss()
		if rerr != nil {
			r.log.Debugw("Could not read process memory", logger.FieldError, rerr)
		}
		err = r.store.Finish(ctx, ev.Subject.RunID(), ev.Result, rss, ev.Time)
	}
	if err == nil {
		return nil
	}
	if db.IsDatabaseClosed(err) {
		err = errors.Mark(err, db.ErrDatabaseClosed)
		r.log.Debugw("History database closed, run not recorded",
			logger.FieldHook, ev.Hook,
			logger.FieldRunID, ev.Subject.RunID(),
		)
	} else {
		r.log.Warnw("Could not record run",
			logger.FieldHook, ev.Hook,
			logger.FieldRunID, ev.Subject.RunID(),
			logger.FieldError, err,
		)
	}
	if r.Strict {
		return err
	}
	return nil
}

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, errors.Wrap(err, "find own process")
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, errors.Wrap(err, "read memory info")
	}
	return mi.RSS, nil
}
