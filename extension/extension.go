// Package extension lets callers observe graph lifecycle transitions.
//
// Hooks run synchronously on the goroutine that reaches the transition, in
// registration order. A listener that blocks delays the graph.
package extension

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
)

// HookID names a lifecycle transition.
type HookID string

const (
	// GraphStart fires before a transformation or job begins executing.
	// A listener error aborts the run.
	GraphStart HookID = "GraphStart"
	// GraphFinish fires after a run reached its terminal result.
	// Listener errors are logged and counted against the run.
	GraphFinish HookID = "GraphFinish"
	// TransPrepared fires once every step of a transformation initialised.
	TransPrepared HookID = "TransPrepared"
	// EntryBeforeExecution fires before a job entry executes.
	EntryBeforeExecution HookID = "EntryBeforeExecution"
	// EntryAfterExecution fires after a job entry produced its result.
	EntryAfterExecution HookID = "EntryAfterExecution"
)

// AllHooks lists every hook id in lifecycle order.
var AllHooks = []HookID{GraphStart, TransPrepared, EntryBeforeExecution, EntryAfterExecution, GraphFinish}

// Subject is the graph a hook fires for.
type Subject interface {
	Kind() string
	Name() string
	RunID() string
	ParentRunID() string
}

// Event is what a listener receives.
type Event struct {
	Hook    HookID
	Subject Subject
	Time    time.Time

	// Entry and EntryNr are set for entry hooks.
	Entry   string
	EntryNr int

	// Result is a private copy. GraphFinish and EntryAfterExecution carry the
	// outcome; GraphStart of a nested run carries the result it starts from.
	Result *result.Result
}

// Listener receives hook events.
type Listener interface {
	Notify(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type registration struct {
	name     string
	listener Listener
	hooks    map[HookID]bool // nil means every hook
}

// Dispatcher holds the listeners of one engine instance. Nested runs share
// their parent's dispatcher. A nil *Dispatcher is valid and does nothing.
type Dispatcher struct {
	mu   sync.RWMutex
	regs []registration
	log  *zap.SugaredLogger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{log: logger.AddHookSymbol(log).Named("extension")}
}

// Register adds a listener for the given hooks, or for every hook when none are given.
// Panics if a listener is already registered with that name or a hook id is
// not one of AllHooks.
func (d *Dispatcher) Register(name string, l Listener, hooks ...HookID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.regs {
		if r.name == name {
			panic("extension listener already registered: " + name)
		}
	}
	reg := registration{name: name, listener: l}
	if len(hooks) > 0 {
		reg.hooks = make(map[HookID]bool, len(hooks))
		for _, h := range hooks {
			if !slices.Contains(AllHooks, h) {
				panic("extension listener " + name + " registered for unknown hook: " + string(h))
			}
			reg.hooks[h] = true
		}
	}
	d.regs = append(d.regs, reg)
}

// Names returns the registered listener names in registration order.
func (d *Dispatcher) Names() []string {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.regs))
	for i, r := range d.regs {
		names[i] = r.name
	}
	return names
}

// Call notifies every listener of ev.Hook in registration order. All listeners
// run even when one fails; the returned error joins every failure. A panicking
// listener is reported as an error.
func (d *Dispatcher) Call(ctx context.Context, ev Event) error {
	if d == nil {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	d.mu.RLock()
	regs := append([]registration(nil), d.regs...)
	d.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if r.hooks != nil && !r.hooks[ev.Hook] {
			continue
		}
		if err := d.notify(ctx, r, ev); err != nil {
			d.log.Warnw("Extension listener failed",
				logger.FieldHook, ev.Hook,
				logger.FieldListener, r.name,
				logger.FieldError, err,
			)
			errs = append(errs, errors.Wrapf(err, "listener %s on %s", r.name, ev.Hook))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) notify(ctx context.Context, r registration, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.FromPanic(p)
		}
	}()
	d.log.Debugw("Calling extension listener", logger.FieldHook, ev.Hook, logger.FieldListener, r.name)
	return r.listener.Notify(ctx, ev)
}
