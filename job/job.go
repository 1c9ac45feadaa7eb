package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
)

// Kind is the extension subject kind of jobs.
const Kind = "job"

// Options configure one job run.
type Options struct {
	Logger *zap.SugaredLogger
	Hooks  *extension.Dispatcher

	ParentRunID string
	// PreviousResult is the input of the start entry. Nil means an empty
	// successful result.
	PreviousResult *result.Result

	// MaxLoopIterations caps how many times one entry may run in a single
	// walk. Zero is unlimited.
	MaxLoopIterations int
	// Depth is the nesting level: 0 for a job started by a caller.
	Depth int
	// Nested marks a run driven by a Runner, which fires GraphStart and
	// GraphFinish itself.
	Nested bool
	// Source, when set, is asked for a fresh topology before every repeated
	// walk.
	Source Source
}

// Source supplies the topology of a repeating job while it runs.
type Source interface {
	// Changed reports whether Load would return a different topology.
	Changed() bool
	Load() (*Meta, error)
}

// EntryResult is one line of a job's execution log.
type EntryResult struct {
	Entry    string
	Type     string
	Nr       int
	Success  bool
	NrErrors int64
	Started  time.Time
	Duration time.Duration
	Err      error
}

type lifecycle int

const (
	created lifecycle = iota
	prepared
	running
	ended
)

// Job is one execution of a job graph. It is used once.
type Job struct {
	meta     *Meta
	name     string
	registry *Registry
	opts     Options
	runID    string
	log      *zap.SugaredLogger

	entries  map[string]Entry
	types    map[string]string
	repeater Repeater

	mu       sync.Mutex
	state    lifecycle
	active   map[int]Stoppable
	nextID   int
	entryLog []EntryResult
	result   *result.Result

	stopped  atomic.Bool
	stopOnce sync.Once
	stopping chan struct{}
	finished chan struct{}
}

// New creates a job for meta. Entry types are resolved from registry during Prepare.
func New(meta *Meta, registry *Registry, opts Options) *Job {
	if registry == nil {
		registry = NewRegistry()
	}
	runID := uuid.NewString()
	return &Job{
		meta:     meta,
		name:     meta.Name,
		registry: registry,
		opts:     opts,
		runID:    runID,
		log: logger.AddJobSymbol(opts.Logger).Named(Kind).With(
			logger.FieldGraph, meta.Name,
			logger.FieldRunID, runID,
		),
		active:   make(map[int]Stoppable),
		stopping: make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (j *Job) Kind() string                 { return Kind }
func (j *Job) Name() string                 { return j.name }
func (j *Job) RunID() string                { return j.runID }
func (j *Job) ParentRunID() string          { return j.opts.ParentRunID }
func (j *Job) Logger() *zap.SugaredLogger   { return j.log }
func (j *Job) Hooks() *extension.Dispatcher { return j.opts.Hooks }
func (j *Job) Depth() int                   { return j.opts.Depth }

// Meta returns the topology being walked.
func (j *Job) Meta() *Meta {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.meta
}

// IsStopped reports whether Stop was called.
func (j *Job) IsStopped() bool { return j.stopped.Load() }

// Stopping is closed when the job is stopped.
func (j *Job) Stopping() <-chan struct{} { return j.stopping }

// Stop asks the walk to end before its next entry and stops every nested run
// in progress. Idempotent; safe from any goroutine.
func (j *Job) Stop() {
	j.stopped.Store(true)
	j.stopOnce.Do(func() { close(j.stopping) })

	j.mu.Lock()
	active := make([]Stoppable, 0, len(j.active))
	for _, s := range j.active {
		active = append(active, s)
	}
	j.mu.Unlock()

	for _, s := range active {
		s.Stop()
	}
	j.log.Infow("Job stopped", logger.FieldCount, len(active))
}

// Track registers a nested run to stop with the job. A run tracked after Stop
// is stopped at once.
func (j *Job) Track(s Stoppable) func() {
	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.active[id] = s
	j.mu.Unlock()

	if j.IsStopped() {
		s.Stop()
	}
	return func() {
		j.mu.Lock()
		delete(j.active, id)
		j.mu.Unlock()
	}
}

// Prepare validates the topology and builds every entry.
func (j *Job) Prepare() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != created {
		return errors.Newf("job %s was already prepared", j.meta.Name)
	}

	if err := j.build(); err != nil {
		j.state = ended
		j.result = result.Failed(1)
		close(j.finished)
		j.log.Errorw("Job could not be prepared", logger.FieldError, err)
		return err
	}
	j.state = prepared
	return nil
}

func (j *Job) build() error {
	if err := j.meta.Validate(); err != nil {
		return err
	}
	j.entries = make(map[string]Entry, len(j.meta.Entries))
	j.types = make(map[string]string, len(j.meta.Entries))
	for _, em := range j.meta.Entries {
		e := em.Entry
		if e == nil {
			var err error
			if e, err = j.registry.New(em.Type, em.Config); err != nil {
				return errors.Wrapf(err, "entry %s", em.Name)
			}
		}
		j.entries[em.Name] = e
		j.types[em.Name] = em.Type
	}
	if r, ok := j.entries[j.meta.Start].(Repeater); ok {
		j.repeater = r
	}
	return nil
}

// Execute prepares the job if needed and walks it on the calling goroutine.
// The returned result is always terminal; the error reports why the walk
// could not begin.
func (j *Job) Execute(ctx context.Context) (*result.Result, error) {
	j.mu.Lock()
	fresh := j.state == created
	j.mu.Unlock()
	if fresh {
		if err := j.Prepare(); err != nil {
			return j.Result(), err
		}
	}

	j.mu.Lock()
	if j.state != prepared {
		j.mu.Unlock()
		return result.Failed(1), errors.Newf("job %s is not prepared", j.meta.Name)
	}
	j.state = running
	j.mu.Unlock()

	quit := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case <-ctx.Done():
			j.log.Infow("Context cancelled, stopping job")
			j.Stop()
		case <-quit:
		}
	}()

	started := time.Now()
	var (
		res      *result.Result
		startErr error
	)
	if err := j.lifecycleHook(ctx, extension.GraphStart, nil); err != nil {
		startErr = errors.Wrap(err, "GraphStart listeners")
		j.log.Errorw("Job aborted before start", logger.FieldError, startErr)
		res = result.Failed(1)
	} else {
		j.log.Infow("Job started", logger.FieldEntry, j.meta.Start)
		res = j.walkRepeated(ctx)
	}
	close(quit)
	<-watching

	if j.IsStopped() {
		res.MarkStopped()
	}
	res.Elapsed = time.Since(started)
	if err := j.lifecycleHook(context.WithoutCancel(ctx), extension.GraphFinish, res.Clone()); err != nil {
		j.log.Warnw("GraphFinish listeners failed", logger.FieldError, err)
		res.MarkFailed(res.NrErrors + 1)
	}

	j.mu.Lock()
	j.state = ended
	j.result = res
	j.mu.Unlock()
	close(j.finished)

	j.log.Infow("Job finished",
		logger.FieldSuccess, res.Success,
		logger.FieldErrors, res.NrErrors,
		logger.FieldDurationMS, res.Elapsed.Milliseconds(),
	)
	return res.Clone(), startErr
}

func (j *Job) lifecycleHook(ctx context.Context, hook extension.HookID, res *result.Result) error {
	if j.opts.Nested {
		return nil
	}
	return j.opts.Hooks.Call(ctx, extension.Event{Hook: hook, Subject: j, Result: res})
}

// walkRepeated walks once, then again for as long as a repeating start entry
// schedules more walks and the job is not stopped.
func (j *Job) walkRepeated(ctx context.Context) *result.Result {
	for {
		res := j.walk(ctx)
		if j.repeater == nil || j.IsStopped() {
			return res
		}
		at, ok := j.repeater.Next(time.Now())
		if !ok {
			return res
		}
		j.log.Infow("Job will repeat", "next_run", at.Format(time.RFC3339))

		t := time.NewTimer(time.Until(at))
		select {
		case <-t.C:
		case <-j.stopping:
			t.Stop()
			return res
		}
		j.refresh()
	}
}

// refresh swaps in the Source's topology when it changed. A topology that
// cannot be loaded or built is logged and the current one keeps running.
func (j *Job) refresh() {
	src := j.opts.Source
	if src == nil || !src.Changed() {
		return
	}
	meta, err := src.Load()
	if err == nil {
		err = j.swap(meta)
	}
	if err != nil {
		j.log.Warnw("Job definition reload failed, keeping the current topology", logger.FieldError, err)
		return
	}
	j.log.Infow("Job definition reloaded", logger.FieldEntry, meta.Start, logger.FieldCount, len(meta.Entries))
}

func (j *Job) swap(meta *Meta) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	oldMeta, oldEntries, oldTypes, oldRepeater := j.meta, j.entries, j.types, j.repeater
	j.meta, j.repeater = meta, nil
	if err := j.build(); err != nil {
		j.meta, j.entries, j.types, j.repeater = oldMeta, oldEntries, oldTypes, oldRepeater
		return err
	}
	return nil
}

func (j *Job) walk(ctx context.Context) *result.Result {
	last := j.previousResult()
	counts := make(map[string]int, len(j.meta.Entries))
	cur := j.meta.Start

	for {
		if j.IsStopped() || ctx.Err() != nil {
			j.log.Infow("Job walk interrupted", logger.FieldNext, cur)
			res := last.Clone()
			res.MarkStopped()
			return res
		}

		nr := counts[cur]
		if limit := j.opts.MaxLoopIterations; limit > 0 && nr >= limit {
			err := errors.Mark(
				errors.Newf("entry %s reached the limit of %d executions", cur, limit),
				errors.ErrEntryExecutionFailed,
			)
			j.log.Errorw("Job loop limit reached", logger.FieldEntry, cur, logger.FieldError, err)
			res := last.Clone()
			res.MarkFailed(res.NrErrors + 1)
			j.record(EntryResult{Entry: cur, Type: j.types[cur], Nr: nr, Started: time.Now(), NrErrors: 1, Err: err})
			return res
		}
		counts[cur]++

		res := j.executeEntry(ctx, cur, last, nr)
		edge, ok := j.meta.nextEntry(cur, res.Success)
		if !ok {
			return res
		}
		j.log.Debugw("Following edge",
			logger.FieldEntry, cur,
			logger.FieldCondition, edge.Condition,
			logger.FieldNext, edge.To,
		)
		last, cur = res, edge.To
	}
}

// executeEntry runs one entry with its hooks and turns every failure into a
// failed result.
func (j *Job) executeEntry(ctx context.Context, name string, prev *result.Result, nr int) *result.Result {
	log := j.log.With(logger.FieldEntry, name, logger.FieldEntryNr, nr)
	started := time.Now()

	var (
		res *result.Result
		err error
	)
	ev := extension.Event{Hook: extension.EntryBeforeExecution, Subject: j, Entry: name, EntryNr: nr}
	if herr := j.opts.Hooks.Call(ctx, ev); herr != nil {
		err = errors.Wrap(herr, "EntryBeforeExecution listeners")
	} else {
		log.Debugw("Executing entry")
		res, err = j.safeExecute(ctx, j.entries[name], prev.Clone(), nr)
		if res == nil && err == nil {
			err = errors.New("entry returned no result")
		}
	}
	if res == nil {
		res = result.New()
	}
	if err != nil {
		err = errors.Mark(errors.Wrapf(err, "entry %s", name), errors.ErrEntryExecutionFailed)
		log.Errorw("Entry failed", logger.FieldError, err)
		res.MarkFailed(res.NrErrors + 1)
	}
	res.EntryNr = nr
	res.Elapsed = time.Since(started)

	ev = extension.Event{Hook: extension.EntryAfterExecution, Subject: j, Entry: name, EntryNr: nr, Result: res.Clone()}
	if herr := j.opts.Hooks.Call(ctx, ev); herr != nil {
		log.Warnw("EntryAfterExecution listeners failed", logger.FieldError, herr)
		res.MarkFailed(res.NrErrors + 1)
	}

	j.record(EntryResult{
		Entry:    name,
		Type:     j.types[name],
		Nr:       nr,
		Success:  res.Success,
		NrErrors: res.NrErrors,
		Started:  started,
		Duration: res.Elapsed,
		Err:      err,
	})
	log.Debugw("Entry finished", logger.FieldSuccess, res.Success, logger.FieldErrors, res.NrErrors)
	return res
}

func (j *Job) safeExecute(ctx context.Context, e Entry, prev *result.Result, nr int) (res *result.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, errors.FromPanic(p)
		}
	}()
	return e.Execute(ctx, j, prev, nr)
}

func (j *Job) record(er EntryResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entryLog = append(j.entryLog, er)
}

func (j *Job) previousResult() *result.Result {
	if j.opts.PreviousResult == nil {
		return result.New()
	}
	return j.opts.PreviousResult.Clone()
}

// EntryResults returns the execution log in execution order.
func (j *Job) EntryResults() []EntryResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]EntryResult(nil), j.entryLog...)
}

// Done is closed once the job reached its terminal result.
func (j *Job) Done() <-chan struct{} { return j.finished }

// Result returns a copy of the terminal result, or nil while running.
func (j *Job) Result() *result.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result.Clone()
}
