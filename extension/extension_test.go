package extension

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/result"
)

// ============================================================================
// Town Crier Test Universe
// ============================================================================
//
// Characters:
//   - Crier: announces events in the square (the Dispatcher)
//   - Baker, Smith, Scribe: townsfolk who listen for particular announcements
//
// Theme: the crier reads each announcement aloud to the townsfolk who asked to
// hear it, one after another, and waits for each to nod before moving on.
// ============================================================================

type square struct{ name string }

func (s square) Kind() string        { return "trans" }
func (s square) Name() string        { return s.name }
func (s square) RunID() string       { return "run-" + s.name }
func (s square) ParentRunID() string { return "" }

type townsperson struct {
	mu    sync.Mutex
	heard []HookID
	fail  error
}

func (p *townsperson) Notify(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heard = append(p.heard, ev.Hook)
	return p.fail
}

func TestDispatcher_TownCrier(t *testing.T) {
	ctx := context.Background()
	market := square{name: "market"}

	t.Run("townsfolk hear only what they asked for", func(t *testing.T) {
		crier := NewDispatcher(zaptest.NewLogger(t).Sugar())
		baker := &townsperson{}
		scribe := &townsperson{}
		crier.Register("baker", baker, GraphStart)
		crier.Register("scribe", scribe)

		require.NoError(t, crier.Call(ctx, Event{Hook: GraphStart, Subject: market}))
		require.NoError(t, crier.Call(ctx, Event{Hook: GraphFinish, Subject: market}))

		assert.Equal(t, []HookID{GraphStart}, baker.heard)
		assert.Equal(t, []HookID{GraphStart, GraphFinish}, scribe.heard)
		assert.Equal(t, []string{"baker", "scribe"}, crier.Names())
	})

	t.Run("announcements are read in registration order", func(t *testing.T) {
		crier := NewDispatcher(nil)
		var order []string
		for _, name := range []string{"first", "second", "third"} {
			name := name
			crier.Register(name, ListenerFunc(func(context.Context, Event) error {
				order = append(order, name)
				return nil
			}))
		}
		require.NoError(t, crier.Call(ctx, Event{Hook: GraphFinish, Subject: market}))
		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("one grumpy listener does not silence the rest", func(t *testing.T) {
		crier := NewDispatcher(zaptest.NewLogger(t).Sugar())
		smith := &townsperson{fail: errors.New("hammer broke")}
		scribe := &townsperson{}
		crier.Register("smith", smith)
		crier.Register("scribe", scribe)

		err := crier.Call(ctx, Event{Hook: GraphFinish, Subject: market})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hammer broke")
		assert.Contains(t, err.Error(), "listener smith on GraphFinish")
		assert.Len(t, scribe.heard, 1)
	})

	t.Run("a panicking listener becomes an error", func(t *testing.T) {
		crier := NewDispatcher(nil)
		crier.Register("jester", ListenerFunc(func(context.Context, Event) error {
			panic("juggling accident")
		}))
		err := crier.Call(ctx, Event{Hook: GraphStart, Subject: market})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "juggling accident")
	})

	t.Run("duplicate names are rejected", func(t *testing.T) {
		crier := NewDispatcher(nil)
		crier.Register("baker", &townsperson{})
		assert.Panics(t, func() { crier.Register("baker", &townsperson{}) })
	})

	t.Run("only known announcements can be awaited", func(t *testing.T) {
		crier := NewDispatcher(nil)
		assert.Panics(t, func() { crier.Register("gossip", &townsperson{}, GraphStart, HookID("HarvestFestival")) })
		assert.Empty(t, crier.Names())
		crier.Register("mayor", &townsperson{}, AllHooks...)
		assert.Equal(t, []string{"mayor"}, crier.Names())
	})

	t.Run("a town without a crier stays quiet", func(t *testing.T) {
		var crier *Dispatcher
		assert.NoError(t, crier.Call(ctx, Event{Hook: GraphStart, Subject: market}))
		assert.Nil(t, crier.Names())
	})

	t.Run("events carry time and results", func(t *testing.T) {
		crier := NewDispatcher(nil)
		var got Event
		crier.Register("scribe", ListenerFunc(func(_ context.Context, ev Event) error {
			got = ev
			return nil
		}))
		require.NoError(t, crier.Call(ctx, Event{Hook: GraphFinish, Subject: market, Result: result.Failed(2)}))
		assert.False(t, got.Time.IsZero())
		assert.Equal(t, "market", got.Subject.Name())
		assert.Equal(t, int64(2), got.Result.NrErrors)
	})
}
