package job

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
)

// Nested is a transformation or job that a Runner drives. *trans.Graph and
// *Job implement it. Build nested runs with their Nested option set so the
// Runner is the only one firing GraphStart and GraphFinish.
type Nested interface {
	extension.Subject
	Execute(ctx context.Context) (*result.Result, error)
	Stop()
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	Hooks  *extension.Dispatcher
	Logger *zap.SugaredLogger
}

// Runner executes one nested run on its own goroutine and collects its
// terminal result. Every failure, panics included, ends up in that result;
// nothing is returned to or raised on the caller. GraphFinish fires exactly
// once per Runner, whatever happened before it.
type Runner struct {
	nested Nested
	prev   *result.Result
	nr     int
	hooks  *extension.Dispatcher
	log    *zap.SugaredLogger

	startOnce sync.Once
	finished  atomic.Bool
	done      chan struct{}

	mu     sync.Mutex
	result *result.Result
	err    error
}

// NewRunner prepares a run of nested for the job entry traversal nr. prev is
// the entry's incoming result; the Runner keeps its own copy and reports it
// to GraphStart listeners.
func NewRunner(nested Nested, prev *result.Result, nr int, opts RunnerOptions) *Runner {
	return &Runner{
		nested: nested,
		prev:   prev.Clone(),
		nr:     nr,
		hooks:  opts.Hooks,
		log: logger.AddNestedSymbol(opts.Logger).Named("nested").With(
			logger.FieldKind, nested.Kind(),
			logger.FieldGraph, nested.Name(),
			logger.FieldRunID, nested.RunID(),
			logger.FieldParentRunID, nested.ParentRunID(),
		),
		done: make(chan struct{}),
	}
}

// Start launches the nested run. Only the first call has an effect.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Run starts the nested run and blocks until it finished.
func (r *Runner) Run(ctx context.Context) *result.Result {
	r.Start(ctx)
	<-r.done
	return r.Result()
}

// WaitUntilFinished blocks until the run finished or stop is closed, and
// reports whether the run finished. A stopped parent should stop the Runner
// and wait on Done before reading the result.
func (r *Runner) WaitUntilFinished(stop <-chan struct{}) bool {
	select {
	case <-r.done:
	case <-stop:
	}
	return r.IsFinished()
}

// IsFinished reports whether the terminal result is available.
func (r *Runner) IsFinished() bool { return r.finished.Load() }

// Done is closed when the run finished.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Stop stops the nested run. Safe from any goroutine.
func (r *Runner) Stop() { r.nested.Stop() }

// Result returns a copy of the terminal result, or nil while running.
func (r *Runner) Result() *result.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.Clone()
}

// Err returns the failure captured from the nested run, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Runner) run(ctx context.Context) {
	res := r.execute(ctx)
	res.EntryNr = r.nr

	finish := extension.Event{Hook: extension.GraphFinish, Subject: r.nested, EntryNr: r.nr, Result: res.Clone()}
	if err := r.hooks.Call(context.WithoutCancel(ctx), finish); err != nil {
		r.log.Warnw("GraphFinish listeners failed", logger.FieldError, err)
		res.MarkFailed(res.NrErrors + 1)
	}

	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	r.finished.Store(true)
	close(r.done)

	r.log.Debugw("Nested run finished",
		logger.FieldSuccess, res.Success,
		logger.FieldErrors, res.NrErrors,
	)
}

func (r *Runner) execute(ctx context.Context) (res *result.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(errors.FromPanic(p))
			res = result.Failed(1)
		}
	}()

	start := extension.Event{Hook: extension.GraphStart, Subject: r.nested, EntryNr: r.nr, Result: r.prev.Clone()}
	if err := r.hooks.Call(ctx, start); err != nil {
		r.fail(errors.Wrap(err, "GraphStart listeners"))
		return result.Failed(1)
	}

	res, err := r.nested.Execute(ctx)
	if res == nil {
		res = result.New()
		if err == nil {
			err = errors.New("nested run returned no result")
		}
	}
	if err != nil {
		r.fail(err)
		res.MarkFailed(res.NrErrors)
	}
	return res
}

func (r *Runner) fail(err error) {
	err = errors.Mark(errors.Wrapf(err, "%s %s", r.nested.Kind(), r.nested.Name()), errors.ErrNestedRunFailed)
	r.log.Errorw("Nested run failed", logger.FieldError, err)
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
