package trans

import (
	"context"
)

// Outcome is what a worker reports after one ProcessRow call.
type Outcome int

const (
	// MoreRows asks the step to call ProcessRow again.
	MoreRows Outcome = iota
	// NoMoreRows ends the step: its outputs are marked done and it finishes.
	NoMoreRows
	// Failed ends the step with an error. Returning a non-nil error implies Failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case MoreRows:
		return "more_rows"
	case NoMoreRows:
		return "no_more_rows"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Worker is the pluggable processing logic of a step.
//
// Init runs once, concurrently with the Init of every other step, before any
// row moves. ProcessRow is called repeatedly on the step's own goroutine and
// usually reads one row with Step.GetRow and writes zero or more with
// Step.PutRow. Dispose runs once on the step's goroutine after the last
// ProcessRow, whatever the outcome. StopRunning may be called from any
// goroutine while ProcessRow is in progress and must not block.
type Worker interface {
	Init(ctx context.Context, s *Step) error
	ProcessRow(ctx context.Context, s *Step) (Outcome, error)
	Dispose(s *Step)
	StopRunning(s *Step)
}

// BaseWorker provides no-op Init, Dispose, and StopRunning for embedding.
type BaseWorker struct{}

func (BaseWorker) Init(context.Context, *Step) error { return nil }
func (BaseWorker) Dispose(*Step)                     {}
func (BaseWorker) StopRunning(*Step)                 {}

// WorkerFunc turns a ProcessRow function into a Worker.
type WorkerFunc func(ctx context.Context, s *Step) (Outcome, error)

func (f WorkerFunc) Init(context.Context, *Step) error { return nil }
func (f WorkerFunc) Dispose(*Step)                     {}
func (f WorkerFunc) StopRunning(*Step)                 {}

func (f WorkerFunc) ProcessRow(ctx context.Context, s *Step) (Outcome, error) {
	return f(ctx, s)
}

// Config decodes a step's settings into a worker-specific struct.
type Config interface {
	Decode(v any) error
}

// NoConfig is the Config of a step without settings.
type NoConfig struct{}

func (NoConfig) Decode(any) error { return nil }

// ConfigFunc adapts a decode function to Config.
type ConfigFunc func(v any) error

func (f ConfigFunc) Decode(v any) error { return f(v) }
