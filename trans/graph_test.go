package trans

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/rowset"
)

// ============================================================================
// Waterworks Test Universe
// ============================================================================
//
// Characters:
//   - Spring: produces numbered rows of water
//   - Pipe: carries rows from one station to the next
//   - Reservoir: collects whatever arrives
//   - Leaky pipe: bursts after a few rows
//   - Engineer: closes the valves (Stop)
//
// Theme: a transformation is a small waterworks. Water must arrive in order,
// a burst pipe must shut the connected network down quickly, and closing the
// valves must never leave a station waiting forever.
// ============================================================================

func TestGraph_Waterworks(t *testing.T) {
	t.Run("a thousand rows flow from spring to reservoir in order", func(t *testing.T) {
		meta := &Meta{
			Name:  "mains",
			Steps: []StepMeta{step("spring", &spring{limit: 1000}), step("pipe", channelWorker()), step("reservoir", channelWorker())},
			Hops:  []Hop{{From: "spring", To: "pipe"}, {From: "pipe", To: "reservoir", Capacity: 7}},
		}
		g := newTestGraph(t, meta, Options{ChannelCapacity: 16})
		require.NoError(t, g.Prepare(context.Background()))

		drain := rowset.NewDrain()
		require.NoError(t, g.AddListener("reservoir", drain))
		require.NoError(t, g.Start(context.Background()))
		res := waitResult(t, g, 5*time.Second)

		assert.True(t, res.Success)
		assert.Zero(t, res.NrErrors)
		assert.False(t, res.Stopped)

		rows := drain.Rows()
		require.Len(t, rows, 1000)
		for i, r := range rows {
			require.Equal(t, int64(i), r.Record[1])
		}
		for _, s := range g.Steps() {
			assert.Equal(t, StatusFinished, s.Status(), s.Name())
		}
		rs, _ := g.Step("reservoir")
		assert.Equal(t, int64(1000), rs.LinesRead())
	})

	t.Run("a burst pipe shuts the whole network down", func(t *testing.T) {
		reservoir := &drainWorker{pause: time.Millisecond}
		meta := &Meta{
			Name: "burst",
			Steps: []StepMeta{
				step("spring", &spring{limit: -1}),
				step("pipe", channelWorker()),
				step("leaky", &leakyPipe{after: 10}),
				step("reservoir", reservoir),
				step("side", &spring{limit: -1}),
			},
			Hops: []Hop{
				{From: "spring", To: "pipe"},
				{From: "pipe", To: "leaky"},
				{From: "leaky", To: "reservoir"},
				{From: "side", To: "reservoir"},
			},
		}
		g := newTestGraph(t, meta, Options{ChannelCapacity: 4})
		res := run(t, g)

		assert.False(t, res.Success)
		assert.Equal(t, int64(1), res.NrErrors, "only the burst counts; interrupted stations do not")
		assert.False(t, res.Stopped)

		for _, s := range g.Steps() {
			assert.True(t, s.Status().Terminal(), "%s is %s", s.Name(), s.Status())
		}
		leaky, _ := g.Step("leaky")
		assert.Equal(t, StatusErrored, leaky.Status())
		assert.True(t, errors.Is(leaky.Err(), errors.ErrWorkerProcessingFailed))
		assert.Contains(t, leaky.Err().Error(), "pipe burst at row 11")

		spr, _ := g.Step("spring")
		assert.Equal(t, StatusStopped, spr.Status())
		require.Len(t, g.Errors(), 1)
	})

	t.Run("isolated policy keeps the unrelated network running", func(t *testing.T) {
		east := &drainWorker{}
		meta := &Meta{
			Name: "districts",
			Steps: []StepMeta{
				step("west_spring", &spring{limit: -1}),
				step("west_leaky", &leakyPipe{after: 3}),
				step("east_spring", &spring{limit: 200}),
				step("east_reservoir", east),
			},
			Hops: []Hop{
				{From: "west_spring", To: "west_leaky"},
				{From: "east_spring", To: "east_reservoir"},
			},
		}
		g := newTestGraph(t, meta, Options{ChannelCapacity: 2, FailurePolicy: FailIsolated})
		res := run(t, g)

		assert.False(t, res.Success)
		assert.Equal(t, int64(1), res.NrErrors)
		assert.Equal(t, int64(200), east.count.Load())

		status := map[string]Status{}
		for _, s := range g.Steps() {
			status[s.Name()] = s.Status()
		}
		assert.Equal(t, StatusStopped, status["west_spring"])
		assert.Equal(t, StatusErrored, status["west_leaky"])
		assert.Equal(t, StatusFinished, status["east_spring"])
		assert.Equal(t, StatusFinished, status["east_reservoir"])
	})

	t.Run("engineer closes the valves while water is still flowing", func(t *testing.T) {
		gauge := &lifecycleGauge{}
		meta := &Meta{
			Name: "valves",
			Steps: []StepMeta{
				step("spring", &spring{limit: -1}),
				step("reservoir", &drainWorker{pause: 5 * time.Millisecond}),
				step("gauge", gauge),
			},
			Hops: []Hop{{From: "spring", To: "reservoir"}},
		}
		g := newTestGraph(t, meta, Options{ChannelCapacity: 2})
		ctx := context.Background()
		require.NoError(t, g.Prepare(ctx))
		require.NoError(t, g.Start(ctx))

		time.Sleep(30 * time.Millisecond)
		g.Stop()
		g.Stop()
		res := waitResult(t, g, 2*time.Second)

		assert.True(t, res.Stopped)
		assert.False(t, res.Success)
		assert.Zero(t, res.NrErrors)
		assert.True(t, g.IsStopped())
		for _, s := range g.Steps() {
			assert.True(t, s.Status().Terminal())
		}
		assert.Equal(t, int32(1), gauge.disposed.Load())
	})

	t.Run("cancelling the context stops the graph", func(t *testing.T) {
		meta := &Meta{
			Name:  "cancel",
			Steps: []StepMeta{step("spring", &spring{limit: -1}), step("reservoir", &drainWorker{pause: time.Millisecond})},
			Hops:  []Hop{{From: "spring", To: "reservoir"}},
		}
		g := newTestGraph(t, meta, Options{ChannelCapacity: 2})
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, g.Prepare(ctx))
		require.NoError(t, g.Start(ctx))
		time.Sleep(20 * time.Millisecond)
		cancel()

		res := waitResult(t, g, 2*time.Second)
		assert.True(t, res.Stopped)
		assert.Zero(t, res.NrErrors)
	})

	t.Run("a failed init keeps every station dry", func(t *testing.T) {
		broken := &lifecycleGauge{initErr: errors.New("valve rusted shut")}
		healthy := &lifecycleGauge{}
		meta := &Meta{
			Name:  "rusty",
			Steps: []StepMeta{step("broken", broken), step("healthy", healthy)},
			Hops:  []Hop{{From: "broken", To: "healthy"}},
		}
		g := newTestGraph(t, meta, Options{})

		res, err := g.Execute(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrWorkerInitFailed))
		assert.Contains(t, err.Error(), "valve rusted shut")

		require.NotNil(t, res)
		assert.False(t, res.Success)
		assert.Equal(t, int64(1), res.NrErrors)
		assert.Zero(t, broken.processed.Load()+healthy.processed.Load())
		assert.Equal(t, int32(1), broken.disposed.Load())
		assert.Equal(t, int32(1), healthy.disposed.Load())

		assert.Error(t, g.Start(context.Background()), "an aborted graph cannot start")
	})

	t.Run("an invalid topology is refused before any worker is built", func(t *testing.T) {
		meta := &Meta{
			Name:  "loop",
			Steps: []StepMeta{step("a", channelWorker()), step("b", channelWorker())},
			Hops:  []Hop{{From: "a", To: "b"}, {From: "b", To: "a"}},
		}
		res, err := newTestGraph(t, meta, Options{}).Execute(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidTopology))
		assert.False(t, res.Success)
	})

	t.Run("a panicking station is reported, not fatal", func(t *testing.T) {
		meta := &Meta{
			Name: "panic",
			Steps: []StepMeta{
				step("spring", &spring{limit: 5}),
				step("gremlin", WorkerFunc(func(context.Context, *Step) (Outcome, error) {
					panic("gremlin in the pump")
				})),
			},
			Hops: []Hop{{From: "spring", To: "gremlin"}},
		}
		g := newTestGraph(t, meta, Options{ChannelCapacity: 1})
		res := run(t, g)
		assert.False(t, res.Success)
		gremlin, _ := g.Step("gremlin")
		assert.Equal(t, StatusErrored, gremlin.Status())
		assert.Contains(t, gremlin.Err().Error(), "gremlin in the pump")
	})
}

func TestGraph_Distribution(t *testing.T) {
	build := func(copyRows bool) (*Meta, *drainWorker, *drainWorker) {
		left, right := &drainWorker{}, &drainWorker{}
		src := step("spring", &spring{limit: 10})
		src.CopyRows = copyRows
		return &Meta{
			Name:  "split",
			Steps: []StepMeta{src, step("left", left), step("right", right)},
			Hops:  []Hop{{From: "spring", To: "left"}, {From: "spring", To: "right"}},
		}, left, right
	}

	t.Run("rows are dealt round-robin", func(t *testing.T) {
		meta, left, right := build(false)
		res := run(t, newTestGraph(t, meta, Options{}))
		require.True(t, res.Success)
		assert.Equal(t, int64(5), left.count.Load())
		assert.Equal(t, int64(5), right.count.Load())
	})

	t.Run("copying sends every row everywhere", func(t *testing.T) {
		meta, left, right := build(true)
		res := run(t, newTestGraph(t, meta, Options{}))
		require.True(t, res.Success)
		assert.Equal(t, int64(10), left.count.Load())
		assert.Equal(t, int64(10), right.count.Load())
	})
}

func TestGraph_MergingInputs(t *testing.T) {
	meta := &Meta{
		Name: "confluence",
		Steps: []StepMeta{
			step("north", &spring{limit: 30}),
			step("south", &spring{limit: 20}),
			step("river", channelWorker()),
		},
		Hops: []Hop{{From: "north", To: "river", Capacity: 3}, {From: "south", To: "river", Capacity: 3}},
	}
	g := newTestGraph(t, meta, Options{})
	require.NoError(t, g.Prepare(context.Background()))
	drain := rowset.NewDrain()
	require.NoError(t, g.AddListener("river", drain))
	require.NoError(t, g.Start(context.Background()))
	res := waitResult(t, g, 5*time.Second)
	require.True(t, res.Success)

	next := map[string]int64{}
	for _, r := range drain.Rows() {
		src := r.Record[0].(string)
		assert.Equal(t, next[src], r.Record[1], "rows from %s arrive in order", src)
		next[src]++
	}
	assert.Equal(t, int64(30), next["north"])
	assert.Equal(t, int64(20), next["south"])
}

// A pool fed by several quiet streams must pass each drop on as soon as it
// lands, not on the next sweep of its inlets.
func TestGraph_QuietInlets(t *testing.T) {
	meta := &Meta{Name: "pool", Steps: []StepMeta{step("pool", channelWorker())}}
	g := newTestGraph(t, meta, Options{ChannelCapacity: 4})
	ctx := context.Background()
	require.NoError(t, g.Prepare(ctx))

	var inlets []*rowset.Injector
	for i := 0; i < 3; i++ {
		inj, err := g.AddInjector("pool")
		require.NoError(t, err)
		inlets = append(inlets, inj)
	}
	arrived := make(chan time.Time, 16)
	require.NoError(t, g.AddListener("pool", rowset.NewDrainFunc(func(row.Row) { arrived <- time.Now() })))
	require.NoError(t, g.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	var worst time.Duration
	for i := 0; i < 9; i++ {
		sent := time.Now()
		require.NoError(t, inlets[i%3].Put(ctx, seqSchema, row.Record{"rain", int64(i)}))
		select {
		case at := <-arrived:
			worst = max(worst, at.Sub(sent))
		case <-time.After(time.Second):
			t.Fatalf("drop %d never reached the pool", i)
		}
		time.Sleep(30 * time.Millisecond)
	}
	for _, inj := range inlets {
		inj.NotifyNoMoreRows()
	}

	res := waitResult(t, g, 2*time.Second)
	assert.True(t, res.Success)
	assert.Less(t, worst, 15*time.Millisecond, "worst delivery latency with idle inlets")
}

func TestGraph_Injector(t *testing.T) {
	meta := &Meta{Name: "fed", Steps: []StepMeta{step("pipe", channelWorker())}}
	g := newTestGraph(t, meta, Options{ChannelCapacity: 2})
	ctx := context.Background()

	_, err := g.AddInjector("pipe")
	require.Error(t, err, "injectors need a prepared graph")

	require.NoError(t, g.Prepare(ctx))
	inj, err := g.AddInjector("pipe")
	require.NoError(t, err)
	_, err = g.AddInjector("nope")
	assert.True(t, errors.IsNotFoundError(err))

	drain := rowset.NewDrain()
	require.NoError(t, g.AddListener("pipe", drain))
	require.NoError(t, g.Start(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, inj.Put(ctx, seqSchema, row.Record{"outside", int64(i)}))
	}
	inj.NotifyNoMoreRows()

	res := waitResult(t, g, 2*time.Second)
	assert.True(t, res.Success)
	assert.Equal(t, 5, drain.Len())
}

func TestGraph_ResultRows(t *testing.T) {
	collect := WorkerFunc(func(ctx context.Context, s *Step) (Outcome, error) {
		r, ok, err := s.GetRow(ctx)
		if err != nil || !ok {
			return NoMoreRows, err
		}
		s.AddResultRow(r)
		return MoreRows, nil
	})
	prev := result.New()
	prev.Rows = []row.Row{{Schema: seqSchema, Record: row.Record{"before", int64(0)}}}

	meta := &Meta{
		Name:  "collect",
		Steps: []StepMeta{step("spring", &spring{limit: 4}), step("collect", collect)},
		Hops:  []Hop{{From: "spring", To: "collect"}},
	}
	g := newTestGraph(t, meta, Options{PreviousResult: prev})
	res := run(t, g)

	require.True(t, res.Success)
	assert.Len(t, res.Rows, 4)
	assert.Equal(t, int64(4), res.LinesWritten)
	assert.Len(t, g.PreviousResult().Rows, 1)
}

func TestGraph_Hooks(t *testing.T) {
	ctx := context.Background()
	meta := func() *Meta {
		return &Meta{
			Name:  "hooked",
			Steps: []StepMeta{step("spring", &spring{limit: 3}), step("sink", &drainWorker{})},
			Hops:  []Hop{{From: "spring", To: "sink"}},
		}
	}

	t.Run("start, prepared, and finish fire once each", func(t *testing.T) {
		hooks := extension.NewDispatcher(nil)
		var seen []extension.HookID
		var finishResult *result.Result
		hooks.Register("recorder", extension.ListenerFunc(func(_ context.Context, ev extension.Event) error {
			seen = append(seen, ev.Hook)
			assert.Equal(t, Kind, ev.Subject.Kind())
			if ev.Hook == extension.GraphFinish {
				finishResult = ev.Result
			}
			return nil
		}))

		g := newTestGraph(t, meta(), Options{Hooks: hooks, ParentRunID: "job-1"})
		res := run(t, g)
		require.True(t, res.Success)
		assert.Equal(t, []extension.HookID{extension.TransPrepared, extension.GraphStart, extension.GraphFinish}, seen)
		require.NotNil(t, finishResult)
		assert.True(t, finishResult.Success)
		assert.Equal(t, "job-1", g.ParentRunID())
		assert.NotEmpty(t, g.RunID())
	})

	t.Run("a failing start listener aborts the run", func(t *testing.T) {
		hooks := extension.NewDispatcher(nil)
		var finishes atomic.Int32
		hooks.Register("gate", extension.ListenerFunc(func(context.Context, extension.Event) error {
			return errors.New("gate closed")
		}), extension.GraphStart)
		hooks.Register("counter", extension.ListenerFunc(func(context.Context, extension.Event) error {
			finishes.Add(1)
			return nil
		}), extension.GraphFinish)

		sink := &drainWorker{}
		m := meta()
		m.Steps[1] = step("sink", sink)
		g := newTestGraph(t, m, Options{Hooks: hooks})
		require.NoError(t, g.Prepare(ctx))
		err := g.Start(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gate closed")

		res := waitResult(t, g, time.Second)
		assert.False(t, res.Success)
		assert.Equal(t, int64(1), res.NrErrors)
		assert.Zero(t, sink.count.Load())
		assert.Equal(t, int32(1), finishes.Load())
	})

	t.Run("a failing finish listener is counted", func(t *testing.T) {
		hooks := extension.NewDispatcher(nil)
		hooks.Register("grumpy", extension.ListenerFunc(func(context.Context, extension.Event) error {
			return errors.New("disk full")
		}), extension.GraphFinish)

		res := run(t, newTestGraph(t, meta(), Options{Hooks: hooks}))
		assert.False(t, res.Success)
		assert.Equal(t, int64(1), res.NrErrors)
	})
}

func TestGraph_StopBeforeStart(t *testing.T) {
	gauge := &lifecycleGauge{}
	g := newTestGraph(t, &Meta{Name: "early", Steps: []StepMeta{step("gauge", gauge)}}, Options{})
	ctx := context.Background()
	require.NoError(t, g.Prepare(ctx))
	g.Stop()
	require.NoError(t, g.Start(ctx))

	res := waitResult(t, g, time.Second)
	assert.True(t, res.Stopped)
	assert.Zero(t, gauge.processed.Load())
	assert.Equal(t, int32(1), gauge.disposed.Load())
}
