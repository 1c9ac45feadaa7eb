// Package trans executes transformations: directed acyclic graphs of steps
// that run concurrently and pass rows through bounded channels.
//
// A Graph is used once: Prepare builds and initialises every step, Start
// launches one goroutine per step, and WaitUntilFinished returns the
// aggregated result. Stop may be called at any time from any goroutine.
package trans

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/rowset"
)

// Kind is the extension subject kind of transformations.
const Kind = "trans"

// Options configure one graph run.
type Options struct {
	// ChannelCapacity is the buffer of hops without their own capacity.
	// Zero means rowset.DefaultCapacity.
	ChannelCapacity int
	// PutTimeout bounds how long a step waits for space downstream. Zero waits forever.
	PutTimeout time.Duration
	// FailurePolicy decides which steps stop when one fails.
	FailurePolicy FailurePolicy
	// TraceRows logs every row a step reads or writes at debug level.
	TraceRows bool

	Logger *zap.SugaredLogger
	Hooks  *extension.Dispatcher

	// ParentRunID links a nested run to the job that started it.
	ParentRunID string
	// PreviousResult is the result of the job entry executed before this one.
	PreviousResult *result.Result
	// Nested marks a run driven by job.Runner, which fires GraphStart and
	// GraphFinish itself.
	Nested bool
}

type lifecycle int

const (
	created lifecycle = iota
	preparing
	prepared
	started
	ended
)

// Graph is one execution of a transformation.
type Graph struct {
	meta     *Meta
	registry *Registry
	opts     Options
	runID    string
	log      *zap.SugaredLogger

	mu        sync.Mutex
	state     lifecycle
	steps     []*Step
	byName    map[string]*Step
	channels  []rowset.Channel
	component map[string]int

	resultMu   sync.Mutex
	resultRows []row.Row
	graphErrs  []error

	stopped atomic.Bool

	startedAt time.Time
	finished  chan struct{}
	result    *result.Result
}

// NewGraph creates a graph for meta. Worker types are resolved from registry
// during Prepare.
func NewGraph(meta *Meta, registry *Registry, opts Options) *Graph {
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = FailGlobal
	}
	if registry == nil {
		registry = NewRegistry()
	}
	runID := uuid.NewString()
	return &Graph{
		meta:     meta,
		registry: registry,
		opts:     opts,
		runID:    runID,
		log: logger.AddTransSymbol(opts.Logger).Named(Kind).With(
			logger.FieldGraph, meta.Name,
			logger.FieldRunID, runID,
		),
		finished: make(chan struct{}),
	}
}

func (g *Graph) Kind() string        { return Kind }
func (g *Graph) Name() string        { return g.meta.Name }
func (g *Graph) RunID() string       { return g.runID }
func (g *Graph) ParentRunID() string { return g.opts.ParentRunID }

// Meta returns the topology being executed.
func (g *Graph) Meta() *Meta { return g.meta }

// Steps returns the runtime steps in definition order. Empty before Prepare.
func (g *Graph) Steps() []*Step {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Step(nil), g.steps...)
}

// Step returns the named runtime step.
func (g *Graph) Step(name string) (*Step, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.byName[name]
	return s, ok
}

// PreviousResult returns a copy of the incoming result, or an empty one.
func (g *Graph) PreviousResult() *result.Result {
	if g.opts.PreviousResult == nil {
		return result.New()
	}
	return g.opts.PreviousResult.Clone()
}

func (g *Graph) addResultRow(r row.Row) {
	g.resultMu.Lock()
	defer g.resultMu.Unlock()
	g.resultRows = append(g.resultRows, r.Clone())
}

func (g *Graph) addGraphError(err error) {
	g.resultMu.Lock()
	defer g.resultMu.Unlock()
	g.graphErrs = append(g.graphErrs, err)
}

// Prepare validates the topology, builds every worker, wires the channels, and
// initialises all workers in parallel. If any Init fails, every worker is
// disposed and the graph ends without starting.
func (g *Graph) Prepare(ctx context.Context) error {
	g.mu.Lock()
	if g.state != created {
		g.mu.Unlock()
		return errors.Newf("transformation %s was already prepared", g.meta.Name)
	}
	g.state = preparing
	g.mu.Unlock()

	if err := g.build(); err != nil {
		g.addGraphError(err)
		g.abort()
		return err
	}

	if err := g.initWorkers(ctx); err != nil {
		for _, s := range g.Steps() {
			s.markStopped()
			s.dispose()
		}
		g.abort()
		return err
	}

	g.mu.Lock()
	g.state = prepared
	g.mu.Unlock()
	g.log.Debugw("Transformation prepared", logger.FieldCount, len(g.meta.Steps))

	if err := g.opts.Hooks.Call(ctx, extension.Event{Hook: extension.TransPrepared, Subject: g}); err != nil {
		g.log.Warnw("TransPrepared listeners failed", logger.FieldError, err)
		g.addGraphError(err)
	}
	return nil
}

// build resolves workers and wires one channel per hop.
func (g *Graph) build() error {
	if err := g.meta.Validate(); err != nil {
		return err
	}

	steps := make([]*Step, 0, len(g.meta.Steps))
	byName := make(map[string]*Step, len(g.meta.Steps))
	for _, sm := range g.meta.Steps {
		w := sm.Worker
		if w == nil {
			var err error
			if w, err = g.registry.New(sm.Type, sm.Config); err != nil {
				return errors.Wrapf(err, "step %s", sm.Name)
			}
		}
		s := newStep(g, sm, w)
		steps = append(steps, s)
		byName[sm.Name] = s
	}

	var channels []rowset.Channel
	for _, h := range g.meta.Hops {
		capacity := h.Capacity
		if capacity == 0 {
			capacity = g.opts.ChannelCapacity
		}
		ch := rowset.New(h.String(), rowset.Options{Capacity: capacity, PutTimeout: g.opts.PutTimeout})
		channels = append(channels, ch)
		byName[h.From].addOutput(h.To, ch)
		byName[h.To].addInput(h.From, ch)
	}

	g.mu.Lock()
	g.steps, g.byName, g.channels = steps, byName, channels
	g.component = g.meta.components()
	g.mu.Unlock()
	return nil
}

// abort ends a graph that never started.
func (g *Graph) abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = ended
	g.result = g.buildResult()
	close(g.finished)
}

func (g *Graph) initWorkers(ctx context.Context) error {
	var (
		eg   errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range g.steps {
		s := s
		eg.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = errors.FromPanic(p)
				}
				if err != nil {
					err = errors.Mark(errors.Wrapf(err, "init step %s", s.Name()), errors.ErrWorkerInitFailed)
					s.errorCount.Add(1)
					s.errMu.Lock()
					s.err = err
					s.errMu.Unlock()
					s.status.Store(int32(StatusErrored))
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
			return s.worker.Init(ctx, s)
		})
	}
	_ = eg.Wait()

	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		g.log.Errorw("Step initialisation failed", logger.FieldError, err)
	}
	return errors.Mark(errors.Join(errs...), errors.ErrWorkerInitFailed)
}

// AddInjector creates an input channel on the named step that code outside
// the graph can feed. Call it after Prepare and before Start. The caller must
// end the stream with NotifyNoMoreRows.
func (g *Graph) AddInjector(step string, opts ...rowset.InjectorOption) (*rowset.Injector, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != prepared {
		return nil, errors.Newf("injectors can only be added to a prepared transformation")
	}
	s, ok := g.byName[step]
	if !ok {
		return nil, errors.NewNotFoundError("step %q", step)
	}
	ch := rowset.New("injector -> "+step, rowset.Options{Capacity: g.opts.ChannelCapacity, PutTimeout: g.opts.PutTimeout})
	g.channels = append(g.channels, ch)
	s.addInput("", ch)
	return rowset.NewInjector(ch, step, opts...), nil
}

// AddListener attaches a row listener, such as a rowset.Drain, to the named step.
func (g *Graph) AddListener(step string, l rowset.Listener) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == created {
		return errors.Newf("listeners can only be added to a prepared transformation")
	}
	s, ok := g.byName[step]
	if !ok {
		return errors.NewNotFoundError("step %q", step)
	}
	s.AddListener(l)
	return nil
}

// Start fires GraphStart and launches every step. It returns once all
// goroutines are running; use WaitUntilFinished for the outcome. A GraphStart
// listener error aborts the run before any row moves.
func (g *Graph) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != prepared {
		g.mu.Unlock()
		return errors.Newf("transformation %s is not prepared", g.meta.Name)
	}
	g.state = started
	g.startedAt = time.Now()
	steps := append([]*Step(nil), g.steps...)
	g.mu.Unlock()

	if g.IsStopped() {
		for _, st := range steps {
			st.markStopped()
		}
	}

	if err := g.lifecycleHook(ctx, extension.GraphStart, nil); err != nil {
		err = errors.Wrap(err, "GraphStart listeners")
		g.log.Errorw("Transformation aborted before start", logger.FieldError, err)
		g.addGraphError(err)
		for _, s := range steps {
			s.markStopped()
			s.dispose()
		}
		g.finish(ctx)
		return err
	}

	g.log.Infow("Transformation started",
		logger.FieldCount, len(steps),
		logger.FieldPolicy, g.opts.FailurePolicy,
	)

	ended := make(chan *Step, len(steps))
	for _, s := range steps {
		s := s
		go func() {
			s.run(ctx)
			ended <- s
		}()
	}

	quit := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case <-ctx.Done():
			g.log.Infow("Context cancelled, stopping transformation")
			g.Stop()
		case <-quit:
		}
	}()

	go func() {
		g.monitor(steps, ended)
		close(quit)
		<-watching
		g.finish(ctx)
	}()
	return nil
}

// monitor waits for every step, applying the failure policy as steps error.
func (g *Graph) monitor(steps []*Step, ended <-chan *Step) {
	for remaining := len(steps); remaining > 0; remaining-- {
		s := <-ended
		if s.Status() != StatusErrored {
			continue
		}
		switch g.opts.FailurePolicy {
		case FailIsolated:
			g.log.Warnw("Step failed, stopping its branch", logger.FieldStep, s.Name())
			id := g.component[s.Name()]
			g.halt(func(other *Step) bool { return g.component[other.Name()] == id })
		default:
			g.log.Warnw("Step failed, stopping transformation", logger.FieldStep, s.Name())
			g.halt(nil)
		}
	}
}

// halt stops the steps selected by match, or every step when match is nil.
// All steps are marked before any is interrupted, so the channel errors caused
// by the interrupts are never reported as failures.
func (g *Graph) halt(match func(*Step) bool) int {
	var hit []*Step
	for _, s := range g.Steps() {
		if (match == nil || match(s)) && s.markStopped() {
			hit = append(hit, s)
		}
	}
	for _, s := range hit {
		s.interrupt()
	}
	return len(hit)
}

// Stop halts every step that has not ended and wakes blocked channel calls.
// Idempotent; safe from any goroutine.
func (g *Graph) Stop() {
	g.stopped.Store(true)
	if n := g.halt(nil); n > 0 {
		g.log.Infow("Transformation stopped", logger.FieldCount, n)
	}
}

// IsStopped reports whether Stop was called.
func (g *Graph) IsStopped() bool { return g.stopped.Load() }

func (g *Graph) finish(ctx context.Context) {
	if ctx.Err() != nil {
		g.stopped.Store(true)
	}
	// Listeners still run after cancellation, for example to record the stop.
	ctx = context.WithoutCancel(ctx)

	g.mu.Lock()
	res := g.buildResult()
	g.mu.Unlock()
	res.Elapsed = time.Since(g.startedAt)

	if err := g.lifecycleHook(ctx, extension.GraphFinish, res.Clone()); err != nil {
		g.log.Warnw("GraphFinish listeners failed", logger.FieldError, err)
		res.MarkFailed(res.NrErrors + 1)
	}

	g.mu.Lock()
	g.state = ended
	g.result = res
	g.mu.Unlock()

	g.log.Infow("Transformation finished",
		logger.FieldSuccess, res.Success,
		logger.FieldErrors, res.NrErrors,
		logger.FieldRowsOut, res.LinesWritten,
		logger.FieldDurationMS, res.Elapsed.Milliseconds(),
	)
	close(g.finished)
}

func (g *Graph) lifecycleHook(ctx context.Context, hook extension.HookID, res *result.Result) error {
	if g.opts.Nested {
		return nil
	}
	return g.opts.Hooks.Call(ctx, extension.Event{Hook: hook, Subject: g, Result: res})
}

func (g *Graph) buildResult() *result.Result {
	res := result.New()
	allFinished := true
	for _, s := range g.steps {
		res.NrErrors += s.Errors()
		res.LinesRead += s.LinesRead()
		res.LinesWritten += s.LinesWritten()
		res.LinesInput += s.linesInput.Load()
		res.LinesOutput += s.linesOutput.Load()
		res.LinesRejected += s.LinesRejected()
		if s.Status() != StatusFinished {
			allFinished = false
		}
	}

	g.resultMu.Lock()
	res.NrErrors += int64(len(g.graphErrs))
	res.Rows = append(res.Rows, g.resultRows...)
	g.resultMu.Unlock()

	if g.IsStopped() {
		res.MarkStopped()
	}
	if res.NrErrors > 0 {
		res.MarkFailed(res.NrErrors)
	} else if !allFinished {
		res.Success = false
	}
	return res
}

// Done is closed once the graph reached its terminal result.
func (g *Graph) Done() <-chan struct{} { return g.finished }

// WaitUntilFinished blocks until every step ended and returns the result.
func (g *Graph) WaitUntilFinished() *result.Result {
	<-g.finished
	return g.Result()
}

// Result returns a copy of the terminal result, or nil while running.
func (g *Graph) Result() *result.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result.Clone()
}

// Errors returns the errors that ended steps, in definition order.
func (g *Graph) Errors() []error {
	var errs []error
	for _, s := range g.Steps() {
		if err := s.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	g.resultMu.Lock()
	errs = append(errs, g.graphErrs...)
	g.resultMu.Unlock()
	return errs
}

// Execute prepares, starts, and waits. Preparation failures are returned as
// errors; everything after is reported through the result.
func (g *Graph) Execute(ctx context.Context) (*result.Result, error) {
	if err := g.Prepare(ctx); err != nil {
		if res := g.Result(); res != nil {
			return res, err
		}
		return result.Failed(1), err
	}
	if err := g.Start(ctx); err != nil {
		return g.WaitUntilFinished(), err
	}
	return g.WaitUntilFinished(), nil
}
