package trans

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/row"
)

var seqSchema = row.MustSchema(
	row.Field{Name: "source", Type: row.TypeString},
	row.Field{Name: "seq", Type: row.TypeInteger},
)

// spring produces rows numbered from zero. A negative limit never runs dry.
type spring struct {
	BaseWorker
	limit int
	n     int
}

func (w *spring) ProcessRow(ctx context.Context, s *Step) (Outcome, error) {
	if w.limit >= 0 && w.n >= w.limit {
		return NoMoreRows, nil
	}
	if err := s.PutRow(ctx, row.Row{Schema: seqSchema, Record: row.Record{s.Name(), int64(w.n)}}); err != nil {
		return Failed, err
	}
	w.n++
	return MoreRows, nil
}

// channelWorker forwards every row it reads.
func channelWorker() Worker {
	return WorkerFunc(func(ctx context.Context, s *Step) (Outcome, error) {
		r, ok, err := s.GetRow(ctx)
		if err != nil {
			return Failed, err
		}
		if !ok {
			return NoMoreRows, nil
		}
		return MoreRows, s.PutRow(ctx, r)
	})
}

// leakyPipe fails once it has seen more than after rows.
type leakyPipe struct {
	BaseWorker
	after int
	seen  int
}

func (w *leakyPipe) ProcessRow(ctx context.Context, s *Step) (Outcome, error) {
	r, ok, err := s.GetRow(ctx)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return NoMoreRows, nil
	}
	w.seen++
	if w.seen > w.after {
		return Failed, errors.Newf("pipe burst at row %d", w.seen)
	}
	return MoreRows, s.PutRow(ctx, r)
}

// drainWorker consumes rows, optionally pausing between them.
type drainWorker struct {
	BaseWorker
	pause time.Duration
	count atomic.Int64
}

func (w *drainWorker) ProcessRow(ctx context.Context, s *Step) (Outcome, error) {
	_, ok, err := s.GetRow(ctx)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return NoMoreRows, nil
	}
	w.count.Add(1)
	if w.pause > 0 {
		time.Sleep(w.pause)
	}
	return MoreRows, nil
}

// lifecycleGauge records which worker callbacks ran.
type lifecycleGauge struct {
	initErr   error
	initCalls atomic.Int32
	processed atomic.Int32
	disposed  atomic.Int32
	stopCalls atomic.Int32
}

func (p *lifecycleGauge) Init(context.Context, *Step) error {
	p.initCalls.Add(1)
	return p.initErr
}

func (p *lifecycleGauge) ProcessRow(context.Context, *Step) (Outcome, error) {
	p.processed.Add(1)
	return NoMoreRows, nil
}

func (p *lifecycleGauge) Dispose(*Step)     { p.disposed.Add(1) }
func (p *lifecycleGauge) StopRunning(*Step) { p.stopCalls.Add(1) }

func step(name string, w Worker) StepMeta {
	return StepMeta{Name: name, Type: "test", Worker: w}
}

func newTestGraph(t *testing.T, meta *Meta, opts Options) *Graph {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t).Sugar()
	}
	return NewGraph(meta, nil, opts)
}

// waitResult fails the test if the graph does not finish within d.
func waitResult(t *testing.T, g *Graph, d time.Duration) *result.Result {
	t.Helper()
	select {
	case <-g.Done():
		return g.Result()
	case <-time.After(d):
		for _, s := range g.Steps() {
			t.Logf("step %s is %s", s.Name(), s.Status())
		}
		t.Fatalf("transformation %s did not finish within %s", g.Name(), d)
		return nil
	}
}

func run(t *testing.T, g *Graph) *result.Result {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, g.Prepare(ctx))
	require.NoError(t, g.Start(ctx))
	return waitResult(t, g, 5*time.Second)
}
