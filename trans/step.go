package trans

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/rowset"
)

// Step is the runtime shell around a worker. It owns the worker's channels,
// runs ProcessRow on a dedicated goroutine, and tracks status and counters.
type Step struct {
	meta   StepMeta
	worker Worker
	graph  *Graph
	log    *zap.SugaredLogger
	trace  bool

	inputs      []rowset.Channel
	inputFrom   []string
	inputEnded  []bool
	nextInput   int
	wake        chan struct{}
	outputs     []rowset.Channel
	outputTo    []string
	nextOutput  int
	listenersMu sync.RWMutex
	listeners   []rowset.Listener

	status  atomic.Int32
	stopped atomic.Bool

	linesRead     atomic.Int64
	linesWritten  atomic.Int64
	linesInput    atomic.Int64
	linesOutput   atomic.Int64
	linesRejected atomic.Int64
	errorCount    atomic.Int64

	errMu sync.Mutex
	err   error

	started  time.Time
	finished time.Time
	done     chan struct{}
}

func newStep(g *Graph, meta StepMeta, w Worker) *Step {
	return &Step{
		meta:   meta,
		worker: w,
		graph:  g,
		log:    g.log.With(logger.FieldStep, meta.Name),
		trace:  g.opts.TraceRows,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the step name.
func (s *Step) Name() string { return s.meta.Name }

// Type returns the step type id.
func (s *Step) Type() string { return s.meta.Type }

// Logger returns the step's logger.
func (s *Step) Logger() *zap.SugaredLogger { return s.log }

// Status returns the current lifecycle state.
func (s *Step) Status() Status { return Status(s.status.Load()) }

// IsStopped reports whether Stop was called. Long-running workers should poll it.
func (s *Step) IsStopped() bool { return s.stopped.Load() }

// Done is closed when the step's goroutine has returned.
func (s *Step) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the step, if any.
func (s *Step) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Counters.
func (s *Step) LinesRead() int64     { return s.linesRead.Load() }
func (s *Step) LinesWritten() int64  { return s.linesWritten.Load() }
func (s *Step) LinesRejected() int64 { return s.linesRejected.Load() }
func (s *Step) Errors() int64        { return s.errorCount.Load() }

// IncLinesInput counts a row read from an external source such as a table.
func (s *Step) IncLinesInput(n int64) { s.linesInput.Add(n) }

// IncLinesOutput counts a row written to an external target.
func (s *Step) IncLinesOutput(n int64) { s.linesOutput.Add(n) }

// IncLinesRejected counts a row the worker discarded as invalid.
func (s *Step) IncLinesRejected(n int64) { s.linesRejected.Add(n) }

// InputNames returns the names of the steps feeding this one, in hop order.
func (s *Step) InputNames() []string { return append([]string(nil), s.inputFrom...) }

// OutputNames returns the names of the steps this one feeds, in hop order.
func (s *Step) OutputNames() []string { return append([]string(nil), s.outputTo...) }

// HasInputs reports whether any hop or injector feeds this step.
func (s *Step) HasInputs() bool { return len(s.inputs) > 0 }

// PreviousResult returns a copy of the result the graph was started with.
func (s *Step) PreviousResult() *result.Result { return s.graph.PreviousResult() }

// AddResultRow appends a row to the graph result handed to the next job entry.
func (s *Step) AddResultRow(r row.Row) { s.graph.addResultRow(r) }

// AddListener registers a row listener. Safe to call before the step starts.
func (s *Step) AddListener(l rowset.Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Step) addInput(from string, ch rowset.Channel) {
	s.inputs = append(s.inputs, ch)
	s.inputFrom = append(s.inputFrom, from)
	s.inputEnded = append(s.inputEnded, false)
	ch.Watch(s.wake)
}

func (s *Step) addOutput(to string, ch rowset.Channel) {
	s.outputs = append(s.outputs, ch)
	s.outputTo = append(s.outputTo, to)
}

func (s *Step) notifyRead(r row.Row) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l.RowRead(s.meta.Name, r)
	}
}

func (s *Step) notifyWritten(r row.Row) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l.RowWritten(s.meta.Name, r)
	}
}

// GetRow reads the next row from the step's inputs, taking turns between
// inputs that still have data. ok is false once every input has ended; a step
// without inputs is always at end of stream.
func (s *Step) GetRow(ctx context.Context) (row.Row, bool, error) {
	if len(s.inputs) == 1 {
		if s.inputEnded[0] {
			return row.Row{}, false, nil
		}
		r, ok, err := s.inputs[0].Get(ctx)
		if err != nil {
			return row.Row{}, false, err
		}
		if !ok {
			s.inputEnded[0] = true
			return row.Row{}, false, nil
		}
		s.read(r)
		return r, true, nil
	}

	for {
		live := 0
		for i := 0; i < len(s.inputs); i++ {
			idx := (s.nextInput + i) % len(s.inputs)
			if s.inputEnded[idx] {
				continue
			}
			r, got, ended, err := s.inputs[idx].TryGet()
			switch {
			case err != nil:
				return row.Row{}, false, err
			case ended:
				s.inputEnded[idx] = true
				continue
			case !got:
				live++
				continue
			}
			s.nextInput = idx + 1
			s.read(r)
			return r, true, nil
		}
		if live == 0 {
			return row.Row{}, false, nil
		}

		if err := s.WaitForInput(ctx); err != nil {
			return row.Row{}, false, err
		}
	}
}

// GetRowFrom reads the next row from the input fed by the named step.
func (s *Step) GetRowFrom(ctx context.Context, from string) (row.Row, bool, error) {
	idx, err := s.inputIndex(from)
	if err != nil {
		return row.Row{}, false, err
	}
	if s.inputEnded[idx] {
		return row.Row{}, false, nil
	}
	r, ok, err := s.inputs[idx].Get(ctx)
	if err != nil {
		return row.Row{}, false, err
	}
	if !ok {
		s.inputEnded[idx] = true
		return row.Row{}, false, nil
	}
	s.read(r)
	return r, true, nil
}

// TryGetRowFrom is GetRowFrom without waiting. got is false when the input has
// no row buffered; ended is true once it reached end of stream.
func (s *Step) TryGetRowFrom(from string) (r row.Row, got, ended bool, err error) {
	idx, err := s.inputIndex(from)
	if err != nil {
		return row.Row{}, false, false, err
	}
	if s.inputEnded[idx] {
		return row.Row{}, false, true, nil
	}
	r, got, ended, err = s.inputs[idx].TryGet()
	switch {
	case err != nil:
		return row.Row{}, false, false, err
	case ended:
		s.inputEnded[idx] = true
	case got:
		s.read(r)
	}
	return r, got, ended, nil
}

// WaitForInput blocks until any input received a row, ended, or was closed
// since the step last found every input empty.
func (s *Step) WaitForInput(ctx context.Context) error {
	select {
	case <-s.wake:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "step %s waiting for input", s.meta.Name)
	}
}

func (s *Step) inputIndex(from string) (int, error) {
	for idx, name := range s.inputFrom {
		if name == from {
			return idx, nil
		}
	}
	return -1, errors.NewNotFoundError("step %s has no input from %s", s.meta.Name, from)
}

func (s *Step) read(r row.Row) {
	n := s.linesRead.Add(1)
	if s.trace {
		s.log.Debugw("Row read", logger.FieldCount, n, logger.FieldRow, r.Record)
	}
	s.notifyRead(r)
}

func (s *Step) written(to string, r row.Row) {
	n := s.linesWritten.Add(1)
	if s.trace {
		s.log.Debugw("Row written", logger.FieldHop, to, logger.FieldCount, n, logger.FieldRow, r.Record)
	}
	s.notifyWritten(r)
}

// PutRow writes a row downstream. Rows are distributed round-robin across
// outputs, or copied to every output when the step copies rows. Without
// outputs the row is only counted and shown to listeners.
func (s *Step) PutRow(ctx context.Context, r row.Row) error {
	if s.IsStopped() {
		return errors.Wrapf(errors.ErrStopped, "step %s", s.meta.Name)
	}
	to := ""
	switch {
	case len(s.outputs) == 0:
	case s.meta.CopyRows:
		for i, out := range s.outputs {
			rr := r
			if i > 0 {
				rr = r.Clone()
			}
			if err := out.Put(ctx, rr); err != nil {
				return err
			}
		}
		to = "*"
	default:
		i := s.nextOutput % len(s.outputs)
		s.nextOutput++
		if err := s.outputs[i].Put(ctx, r); err != nil {
			return err
		}
		to = s.outputTo[i]
	}
	s.written(to, r)
	return nil
}

// PutRowTo writes a row to the output feeding the named step only.
func (s *Step) PutRowTo(ctx context.Context, to string, r row.Row) error {
	for i, name := range s.outputTo {
		if name == to {
			if err := s.outputs[i].Put(ctx, r); err != nil {
				return err
			}
			s.written(name, r)
			return nil
		}
	}
	return errors.NewNotFoundError("step %s has no output to %s", s.meta.Name, to)
}

// setOutputDone ends every output stream.
func (s *Step) setOutputDone() {
	for _, out := range s.outputs {
		out.SetDone()
	}
}

// markStopped moves a non-terminal step to Stopped. It reports whether the
// step changed state.
func (s *Step) markStopped() bool {
	s.stopped.Store(true)
	for {
		cur := Status(s.status.Load())
		if cur.Terminal() {
			return false
		}
		if s.status.CompareAndSwap(int32(cur), int32(StatusStopped)) {
			return true
		}
	}
}

// interrupt tells the worker to stop and wakes any blocked channel call.
func (s *Step) interrupt() {
	func() {
		defer func() {
			if p := recover(); p != nil {
				s.log.Warnw("StopRunning panicked", logger.FieldError, errors.FromPanic(p))
			}
		}()
		s.worker.StopRunning(s)
	}()
	for _, in := range s.inputs {
		in.Close()
	}
	for _, out := range s.outputs {
		out.Close()
	}
}

// Stop moves the step to Stopped and interrupts it. Safe to call from any
// goroutine, any number of times.
func (s *Step) Stop() {
	if s.markStopped() {
		s.interrupt()
	}
}

func (s *Step) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.errorCount.Add(1)
	s.status.CompareAndSwap(int32(StatusRunning), int32(StatusErrored))
	s.setOutputDone()
	s.log.Errorw("Step failed", logger.FieldError, err)
}

// run drives the worker until it reports NoMoreRows, fails, or is stopped.
func (s *Step) run(ctx context.Context) {
	defer close(s.done)
	defer s.dispose()

	s.started = time.Now()
	defer func() { s.finished = time.Now() }()

	if !s.status.CompareAndSwap(int32(StatusIdle), int32(StatusRunning)) {
		return
	}
	s.log.Debugw("Step started", logger.FieldWorker, s.meta.Type)

	for {
		if s.IsStopped() {
			return
		}
		outcome, err := s.process(ctx)
		if err == nil && outcome == Failed {
			err = errors.Newf("step %s reported failure", s.meta.Name)
		}
		if err != nil {
			if ctx.Err() != nil {
				s.markStopped()
			}
			if s.IsStopped() {
				// Interrupted calls surface as channel errors; they are not failures.
				s.log.Debugw("Step interrupted", logger.FieldError, err)
				return
			}
			s.fail(errors.Mark(errors.Wrapf(err, "step %s", s.meta.Name), errors.ErrWorkerProcessingFailed))
			return
		}
		if outcome == NoMoreRows {
			s.setOutputDone()
			if s.status.CompareAndSwap(int32(StatusRunning), int32(StatusFinished)) {
				s.log.Debugw("Step finished",
					logger.FieldRowsIn, s.LinesRead(),
					logger.FieldRowsOut, s.LinesWritten(),
				)
			}
			return
		}
	}
}

func (s *Step) process(ctx context.Context) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome, err = Failed, errors.FromPanic(p)
		}
	}()
	return s.worker.ProcessRow(ctx, s)
}

func (s *Step) dispose() {
	defer func() {
		if p := recover(); p != nil {
			s.log.Warnw("Dispose panicked", logger.FieldError, errors.FromPanic(p))
		}
	}()
	s.worker.Dispose(s)
}

// Elapsed is how long the step's goroutine ran.
func (s *Step) Elapsed() time.Duration {
	if s.started.IsZero() || s.finished.IsZero() {
		return 0
	}
	return s.finished.Sub(s.started)
}
