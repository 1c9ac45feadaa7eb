// Package errors provides error handling for weir.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marking errors with engine error kinds
//
// Usage:
//
//	// Wrap with context
//	if err := worker.Init(ctx, step); err != nil {
//	    return errors.Wrapf(err, "init step %s", step.Name())
//	}
//
//	// Classify without losing the cause
//	return errors.Mark(err, errors.ErrWorkerProcessingFailed)
//
//	// Check errors
//	if errors.Is(err, errors.ErrChannelClosed) {
//	    // graph was stopped
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Marks attach an error kind to an arbitrary error so Is() matches the kind
// while Error() still reports the original cause.
var (
	Mark = crdb.Mark
	Join = crdb.Join
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Common sentinel errors.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// Engine error kinds. Components mark their failures with one of these so
// callers can classify an error without parsing messages.
var (
	// ErrChannelClosed is returned by a blocked Put or Get when the channel
	// was closed by cancellation.
	ErrChannelClosed = New("row channel closed")

	// ErrChannelTimeout is returned by Put when no space became available
	// within the configured timeout.
	ErrChannelTimeout = Wrap(ErrTimeout, "row channel put")

	// ErrWorkerInitFailed marks a worker whose Init failed. The graph does not start.
	ErrWorkerInitFailed = New("worker init failed")

	// ErrWorkerProcessingFailed marks a worker that returned an error or panicked
	// while processing rows.
	ErrWorkerProcessingFailed = New("worker processing failed")

	// ErrEntryExecutionFailed marks a job entry that returned an error or panicked.
	ErrEntryExecutionFailed = New("entry execution failed")

	// ErrNestedRunFailed marks a failure raised while running a nested graph.
	ErrNestedRunFailed = New("nested run failed")

	// ErrInvalidTopology marks a graph definition that cannot be executed.
	ErrInvalidTopology = Wrap(ErrInvalidRequest, "invalid topology")

	// ErrStopped is returned when an operation is refused because the graph
	// was stopped.
	ErrStopped = New("stopped")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidTopologyError creates an invalid-topology error with a formatted message
func NewInvalidTopologyError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidTopology, Newf(format, args...).Error())
}

// FromPanic converts a recovered panic value into an error carrying a stack trace.
func FromPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return WithStack(Wrap(err, "panic"))
	}
	return WithStack(Newf("panic: %s", fmt.Sprint(r)))
}
