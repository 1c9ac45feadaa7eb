// Package result holds the terminal outcome of a transformation run, a job
// run, or a single job entry.
package result

import (
	"fmt"
	"time"

	"github.com/teranos/weir/row"
)

// Result is the outcome handed from one entry to the next and from a nested
// run back to its parent. Values cross goroutine boundaries by Clone, never by
// sharing a pointer.
type Result struct {
	Success    bool
	ExitStatus int
	NrErrors   int64

	LinesRead     int64
	LinesWritten  int64
	LinesInput    int64
	LinesOutput   int64
	LinesRejected int64

	// Rows are records produced for the next entry, for example by a
	// rows_to_result step.
	Rows []row.Row

	Stopped bool
	EntryNr int
	Elapsed time.Duration
}

// New returns an empty successful result, the input of every job start.
func New() *Result {
	return &Result{Success: true}
}

// Failed returns a result carrying n errors. n is raised to 1.
func Failed(n int64) *Result {
	r := New()
	r.MarkFailed(n)
	return r
}

// MarkFailed records a failure: Success becomes false, at least n errors are
// counted, and ExitStatus becomes non-zero.
func (r *Result) MarkFailed(n int64) {
	if n < 1 {
		n = 1
	}
	r.Success = false
	if r.NrErrors < n {
		r.NrErrors = n
	}
	if r.ExitStatus == 0 {
		r.ExitStatus = 1
	}
}

// MarkStopped records that the run was stopped before it completed.
func (r *Result) MarkStopped() {
	r.Stopped = true
	r.Success = false
}

// Clone returns a deep copy. Row records are copied; schemas are shared.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Rows != nil {
		c.Rows = make([]row.Row, len(r.Rows))
		for i, rw := range r.Rows {
			c.Rows[i] = rw.Clone()
		}
	}
	return &c
}

// Add accumulates the counters and rows of other into r. Success is not
// touched; callers decide how outcomes combine.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.NrErrors += other.NrErrors
	r.LinesRead += other.LinesRead
	r.LinesWritten += other.LinesWritten
	r.LinesInput += other.LinesInput
	r.LinesOutput += other.LinesOutput
	r.LinesRejected += other.LinesRejected
	r.Rows = append(r.Rows, other.Rows...)
}

func (r *Result) String() string {
	return fmt.Sprintf("success=%t errors=%d exit=%d read=%d written=%d rejected=%d rows=%d stopped=%t",
		r.Success, r.NrErrors, r.ExitStatus, r.LinesRead, r.LinesWritten, r.LinesRejected, len(r.Rows), r.Stopped)
}
