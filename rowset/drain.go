package rowset

import (
	"sync"

	"github.com/teranos/weir/row"
)

// Listener observes rows passing through a step. Calls happen synchronously on
// the step's goroutine, so implementations must be fast and must not block.
type Listener interface {
	RowRead(step string, r row.Row)
	RowWritten(step string, r row.Row)
}

// Drain is a Listener that collects or forwards the rows a step writes.
type Drain struct {
	mu    sync.Mutex
	rows  []row.Row
	fn    func(row.Row)
	limit int
}

// NewDrain creates a drain that keeps every written row.
func NewDrain() *Drain {
	return &Drain{}
}

// NewDrainFunc creates a drain that hands each written row to fn instead of keeping it.
func NewDrainFunc(fn func(row.Row)) *Drain {
	return &Drain{fn: fn}
}

// WithLimit keeps at most n rows; later rows are counted but dropped.
func (d *Drain) WithLimit(n int) *Drain {
	d.limit = n
	return d
}

func (d *Drain) RowRead(string, row.Row) {}

func (d *Drain) RowWritten(_ string, r row.Row) {
	if d.fn != nil {
		d.fn(r)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limit > 0 && len(d.rows) >= d.limit {
		return
	}
	d.rows = append(d.rows, r.Clone())
}

// Rows returns a snapshot of the collected rows in arrival order.
func (d *Drain) Rows() []row.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]row.Row(nil), d.rows...)
}

// Len returns the number of collected rows.
func (d *Drain) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Read    func(step string, r row.Row)
	Written func(step string, r row.Row)
}

func (l ListenerFuncs) RowRead(step string, r row.Row) {
	if l.Read != nil {
		l.Read(step, r)
	}
}

func (l ListenerFuncs) RowWritten(step string, r row.Row) {
	if l.Written != nil {
		l.Written(step, r)
	}
}
