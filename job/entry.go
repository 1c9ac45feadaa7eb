// Package job walks job graphs: control-flow entries connected by edges that
// fire on success, on failure, or unconditionally.
//
// A walk starts at the start entry, executes one entry at a time on the
// walking goroutine, and follows the first matching edge until none matches.
// Entries that embed a transformation or another job drive it through a
// Runner, which reports the nested outcome as the entry's result.
package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weir/extension"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/trans"
)

// Config decodes an entry's settings. It is the same contract steps use.
type Config = trans.Config

// Entry is one unit of control flow.
//
// Execute runs once per traversal of the entry; nr counts earlier traversals
// in the same walk. prev is the previous entry's result and belongs to the
// entry only for the duration of the call. A returned error marks the result
// failed and is counted; the walk then follows the failure edges.
type Entry interface {
	Execute(ctx context.Context, p Parent, prev *result.Result, nr int) (*result.Result, error)
}

// EntryFunc adapts a function to Entry.
type EntryFunc func(ctx context.Context, p Parent, prev *result.Result, nr int) (*result.Result, error)

func (f EntryFunc) Execute(ctx context.Context, p Parent, prev *result.Result, nr int) (*result.Result, error) {
	return f(ctx, p, prev, nr)
}

// Stoppable is a nested run a job stops when it is stopped itself.
type Stoppable interface {
	Stop()
}

// Parent is the running job as seen by its entries.
type Parent interface {
	extension.Subject

	// IsStopped reports whether the job was asked to stop. Long running
	// entries check it, or wait on Stopping.
	IsStopped() bool
	Stopping() <-chan struct{}

	Logger() *zap.SugaredLogger
	Hooks() *extension.Dispatcher

	// Depth is 0 for a top-level job and grows by one per nesting level.
	Depth() int

	// Track registers a nested run to stop together with the job. The
	// returned function unregisters it.
	Track(s Stoppable) (untrack func())
}

// Repeater is implemented by start entries that schedule the job again.
// Next returns when the next walk should begin, or false when the job should
// not repeat.
type Repeater interface {
	Next(after time.Time) (time.Time, bool)
}
