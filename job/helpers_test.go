package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/result"
)

// signal is an entry that succeeds or fails on command and counts its runs.
type signal struct {
	ok   bool
	err  error
	runs atomic.Int32
	seen []*result.Result
	mu   sync.Mutex
}

func (s *signal) Execute(_ context.Context, _ Parent, prev *result.Result, _ int) (*result.Result, error) {
	s.runs.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, prev)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.ok {
		return result.New(), nil
	}
	return result.Failed(1), nil
}

func green() *signal { return &signal{ok: true} }
func red() *signal   { return &signal{} }

func entry(name string, e Entry) EntryMeta {
	return EntryMeta{Name: name, Type: "test", Entry: e}
}

func newTestJob(t *testing.T, meta *Meta, opts Options) *Job {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t).Sugar()
	}
	return New(meta, nil, opts)
}

// hookLog records hook ids in the order they fire.
type hookLog struct {
	mu     sync.Mutex
	events []extension.Event
}

func (h *hookLog) Notify(_ context.Context, ev extension.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *hookLog) hooks() []extension.HookID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]extension.HookID, len(h.events))
	for i, ev := range h.events {
		ids[i] = ev.Hook
	}
	return ids
}

func (h *hookLog) count(id extension.HookID) int {
	n := 0
	for _, got := range h.hooks() {
		if got == id {
			n++
		}
	}
	return n
}

// fakeNested is a scripted nested run.
type fakeNested struct {
	name    string
	execute func(ctx context.Context) (*result.Result, error)
	stopped atomic.Bool
	stopCh  chan struct{}
	once    sync.Once
}

func newFakeNested(name string, fn func(ctx context.Context) (*result.Result, error)) *fakeNested {
	return &fakeNested{name: name, execute: fn, stopCh: make(chan struct{})}
}

func (f *fakeNested) Kind() string        { return "trans" }
func (f *fakeNested) Name() string        { return f.name }
func (f *fakeNested) RunID() string       { return "run-" + f.name }
func (f *fakeNested) ParentRunID() string { return "parent" }

func (f *fakeNested) Execute(ctx context.Context) (*result.Result, error) {
	return f.execute(ctx)
}

func (f *fakeNested) Stop() {
	f.stopped.Store(true)
	f.once.Do(func() { close(f.stopCh) })
}

var errBoom = errors.New("boom")
