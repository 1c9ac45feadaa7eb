package commands

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/weir/am"
	"github.com/teranos/weir/db"
	"github.com/teranos/weir/definition"
	"github.com/teranos/weir/entries"
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/history"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/steps"
	"github.com/teranos/weir/trans"
)

// engine holds what a run needs: registries, hooks, and the databases.
type engine struct {
	cfg     *am.Config
	log     *zap.SugaredLogger
	hooks   *extension.Dispatcher
	steps   *trans.Registry
	entries *job.Registry
	history *history.Store

	closers []func() error
}

// newEngine wires the built-in kinds for definitions rooted at root. With
// openDatabases false nothing touches disk, which is all validation needs.
func newEngine(cfg *am.Config, root string, log *zap.SugaredLogger, openDatabases bool) (*engine, error) {
	e := &engine{
		cfg:     cfg,
		log:     log,
		hooks:   extension.NewDispatcher(log),
		steps:   trans.NewRegistry(),
		entries: job.NewRegistry(),
	}

	var data *sql.DB
	if openDatabases {
		var err error
		if data, err = e.openDatabases(); err != nil {
			e.Close()
			return nil, err
		}
	}

	steps.RegisterBuiltins(e.steps, steps.Env{DB: data})
	entries.RegisterBuiltins(e.entries, entries.Env{
		Steps:             e.steps,
		Loader:            definition.NewLoader(root),
		Trans:             e.transOptions(),
		MaxLoopIterations: cfg.Engine.MaxLoopIterations,
		MaxNestingDepth:   cfg.Engine.MaxNestingDepth,
	})
	return e, nil
}

// openDatabases opens the history database when enabled and returns the
// database table steps work on.
func (e *engine) openDatabases() (*sql.DB, error) {
	dbCfg := e.cfg.Database

	var historyDB *sql.DB
	if dbCfg.HistoryEnabled {
		conn, err := db.OpenWithMigrations(dbCfg.Path, e.log)
		if err != nil {
			return nil, errors.Wrap(err, "open history database")
		}
		e.closers = append(e.closers, conn.Close)
		historyDB = conn

		e.history = history.NewStore(conn, e.log)
		history.NewRecorder(e.history, e.log).Register(e.hooks)
	}

	switch path := dbCfg.DataDatabase(); {
	case path == "":
		return nil, nil
	case historyDB != nil && path == dbCfg.Path:
		return historyDB, nil
	default:
		conn, err := db.Open(path, e.log)
		if err != nil {
			return nil, errors.Wrap(err, "open data database")
		}
		e.closers = append(e.closers, conn.Close)
		return conn, nil
	}
}

func (e *engine) transOptions() trans.Options {
	opts := e.cfg.Engine.TransOptions()
	opts.Logger = e.log
	opts.Hooks = e.hooks
	opts.TraceRows = logger.ShouldLogTrace(e.cfg.Log.Verbosity)
	return opts
}

func (e *engine) jobOptions() job.Options {
	return job.Options{
		Logger:            e.log,
		Hooks:             e.hooks,
		MaxLoopIterations: e.cfg.Engine.MaxLoopIterations,
	}
}

// Close closes the databases in reverse order of opening.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
