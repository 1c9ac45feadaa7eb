// Package rowset connects transformation steps with ordered row channels.
//
// A Channel has exactly one producer and one consumer. The producer calls
// Put until it has nothing left and then SetDone; the consumer calls Get
// until it reports end of stream. Close is reserved for cancellation: it wakes
// every blocked call with errors.ErrChannelClosed.
package rowset

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
)

// DefaultCapacity is used when a hop does not set its own buffer size.
const DefaultCapacity = 10000

// Channel is an ordered row queue between one producer and one consumer.
type Channel interface {
	// Name identifies the hop, usually "from -> to".
	Name() string

	// Put appends a row, blocking while the channel is full. It fails with
	// ErrChannelTimeout once the channel's put timeout elapses and with
	// ErrChannelClosed if the channel is closed while waiting.
	Put(ctx context.Context, r row.Row) error

	// PutWait is Put with an explicit timeout. Zero waits forever.
	PutWait(ctx context.Context, r row.Row, timeout time.Duration) error

	// TryPut appends without blocking. It returns false when the channel is saturated.
	TryPut(r row.Row) (bool, error)

	// Get returns the next row. ok is false once the producer is done and
	// every buffered row was consumed.
	Get(ctx context.Context) (r row.Row, ok bool, err error)

	// TryGet is Get without waiting. got is false when no row is buffered;
	// ended is true once the producer is done and the buffer is drained.
	TryGet() (r row.Row, got, ended bool, err error)

	// Watch registers a wake channel signalled without blocking after every
	// Put, SetDone and Close. A consumer reading several channels watches them
	// all with one capacity-1 channel and sleeps on it between TryGet scans.
	Watch(wake chan<- struct{})

	// SetDone marks the end of the stream. Idempotent; buffered rows stay readable.
	SetDone()
	IsDone() bool

	// Close cancels the channel. Idempotent.
	Close()
	IsClosed() bool

	// Size is the number of buffered rows.
	Size() int
	// Capacity is the buffer size, or -1 for unbounded channels.
	Capacity() int

	// Schema returns the descriptor fixed by the first published row.
	Schema() *row.Schema
}

// Options configure a channel.
type Options struct {
	// Capacity bounds the buffer. Negative means unbounded, zero means DefaultCapacity.
	Capacity int
	// PutTimeout bounds how long Put waits for space. Zero waits forever.
	PutTimeout time.Duration
}

// New creates a channel for the named hop.
func New(name string, opts Options) Channel {
	if opts.Capacity < 0 {
		return NewQueueChannel(name)
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return NewBlockingChannel(name, capacity, opts.PutTimeout)
}

// NewSingleRowChannel creates a channel that holds at most one row, which makes
// the producer wait for the consumer on every row.
func NewSingleRowChannel(name string) Channel {
	return NewBlockingChannel(name, 1, 0)
}

// lifecycle holds the done and closed signals shared by channel implementations.
type lifecycle struct {
	done      chan struct{}
	doneOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	schemaMu sync.Mutex
	schema   *row.Schema

	wakeMu sync.Mutex
	wakers []chan<- struct{}
}

func newLifecycle() lifecycle {
	return lifecycle{
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (l *lifecycle) SetDone() {
	l.doneOnce.Do(func() { close(l.done) })
	l.wake()
}

func (l *lifecycle) IsDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *lifecycle) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
	l.wake()
}

func (l *lifecycle) Watch(wake chan<- struct{}) {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	l.wakers = append(l.wakers, wake)
}

// wake signals every watcher. A watcher that already holds a signal keeps it.
func (l *lifecycle) wake() {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	for _, w := range l.wakers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (l *lifecycle) IsClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *lifecycle) Schema() *row.Schema {
	l.schemaMu.Lock()
	defer l.schemaMu.Unlock()
	return l.schema
}

// admit validates r against the channel state and the fixed schema.
func (l *lifecycle) admit(name string, r row.Row) error {
	if l.IsClosed() {
		return errors.Wrapf(errors.ErrChannelClosed, "put on %s", name)
	}
	if l.IsDone() {
		return errors.Newf("put on %s after the producer signalled done", name)
	}
	if r.Schema == nil {
		return errors.Newf("put on %s: row has no schema", name)
	}
	if err := r.Schema.Check(r.Record); err != nil {
		return errors.Wrapf(err, "put on %s", name)
	}

	l.schemaMu.Lock()
	defer l.schemaMu.Unlock()
	switch {
	case l.schema == nil:
		l.schema = r.Schema
	case l.schema != r.Schema && !l.schema.Equal(r.Schema):
		return errors.Newf("put on %s: schema %s differs from stream schema %s",
			name, r.Schema, l.schema)
	}
	return nil
}

// BlockingChannel is a bounded FIFO backed by a buffered Go channel.
type BlockingChannel struct {
	lifecycle
	name       string
	buf        chan row.Row
	putTimeout time.Duration
}

// NewBlockingChannel creates a bounded channel. capacity must be positive.
func NewBlockingChannel(name string, capacity int, putTimeout time.Duration) *BlockingChannel {
	if capacity <= 0 {
		capacity = 1
	}
	return &BlockingChannel{
		lifecycle:  newLifecycle(),
		name:       name,
		buf:        make(chan row.Row, capacity),
		putTimeout: putTimeout,
	}
}

func (c *BlockingChannel) Name() string  { return c.name }
func (c *BlockingChannel) Size() int     { return len(c.buf) }
func (c *BlockingChannel) Capacity() int { return cap(c.buf) }

func (c *BlockingChannel) Put(ctx context.Context, r row.Row) error {
	return c.PutWait(ctx, r, c.putTimeout)
}

func (c *BlockingChannel) PutWait(ctx context.Context, r row.Row, timeout time.Duration) error {
	if err := c.admit(c.name, r); err != nil {
		return err
	}

	// Fast path: space available.
	select {
	case c.buf <- r:
		c.wake()
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case c.buf <- r:
		c.wake()
		return nil
	case <-c.closed:
		return errors.Wrapf(errors.ErrChannelClosed, "put on %s", c.name)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "put on %s", c.name)
	case <-expired:
		return errors.Wrapf(errors.ErrChannelTimeout, "put on %s after %s", c.name, timeout)
	}
}

func (c *BlockingChannel) TryPut(r row.Row) (bool, error) {
	if err := c.admit(c.name, r); err != nil {
		return false, err
	}
	select {
	case c.buf <- r:
		c.wake()
		return true, nil
	default:
		return false, nil
	}
}

func (c *BlockingChannel) TryGet() (row.Row, bool, bool, error) {
	if c.IsClosed() {
		return row.Row{}, false, false, errors.Wrapf(errors.ErrChannelClosed, "get on %s", c.name)
	}
	select {
	case r := <-c.buf:
		return r, true, false, nil
	default:
	}
	if !c.IsDone() {
		return row.Row{}, false, false, nil
	}
	// Done was observed after the empty read; a row put just before SetDone is still here.
	select {
	case r := <-c.buf:
		return r, true, false, nil
	default:
		return row.Row{}, false, true, nil
	}
}

func (c *BlockingChannel) Get(ctx context.Context) (row.Row, bool, error) {
	if c.IsClosed() {
		return row.Row{}, false, errors.Wrapf(errors.ErrChannelClosed, "get on %s", c.name)
	}

	select {
	case r := <-c.buf:
		return r, true, nil
	default:
	}

	select {
	case r := <-c.buf:
		return r, true, nil
	case <-c.done:
		// Every Put happened before SetDone, so the buffer holds the rest of the stream.
		select {
		case r := <-c.buf:
			return r, true, nil
		default:
			return row.Row{}, false, nil
		}
	case <-c.closed:
		return row.Row{}, false, errors.Wrapf(errors.ErrChannelClosed, "get on %s", c.name)
	case <-ctx.Done():
		return row.Row{}, false, errors.Wrapf(ctx.Err(), "get on %s", c.name)
	}
}
