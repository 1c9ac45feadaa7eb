package rowset

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
)

// QueueChannel is an unbounded FIFO. Put never blocks, so it must only be used
// where the producer is known to be finite, such as replaying result rows.
type QueueChannel struct {
	lifecycle
	name string

	mu     sync.Mutex
	rows   []row.Row
	notify chan struct{}
}

// NewQueueChannel creates an unbounded channel.
func NewQueueChannel(name string) *QueueChannel {
	return &QueueChannel{
		lifecycle: newLifecycle(),
		name:      name,
		notify:    make(chan struct{}, 1),
	}
}

func (q *QueueChannel) Name() string  { return q.name }
func (q *QueueChannel) Capacity() int { return -1 }

func (q *QueueChannel) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

func (q *QueueChannel) Put(_ context.Context, r row.Row) error {
	if err := q.admit(q.name, r); err != nil {
		return err
	}
	q.mu.Lock()
	q.rows = append(q.rows, r)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.wake()
	return nil
}

func (q *QueueChannel) PutWait(ctx context.Context, r row.Row, _ time.Duration) error {
	return q.Put(ctx, r)
}

func (q *QueueChannel) TryPut(r row.Row) (bool, error) {
	if err := q.Put(context.Background(), r); err != nil {
		return false, err
	}
	return true, nil
}

func (q *QueueChannel) pop() (row.Row, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.rows) == 0 {
		return row.Row{}, false
	}
	r := q.rows[0]
	q.rows[0] = row.Row{}
	q.rows = q.rows[1:]
	return r, true
}

func (q *QueueChannel) TryGet() (row.Row, bool, bool, error) {
	if q.IsClosed() {
		return row.Row{}, false, false, errors.Wrapf(errors.ErrChannelClosed, "get on %s", q.name)
	}
	if r, ok := q.pop(); ok {
		return r, true, false, nil
	}
	if !q.IsDone() {
		return row.Row{}, false, false, nil
	}
	if r, ok := q.pop(); ok {
		return r, true, false, nil
	}
	return row.Row{}, false, true, nil
}

func (q *QueueChannel) Get(ctx context.Context) (row.Row, bool, error) {
	for {
		if q.IsClosed() {
			return row.Row{}, false, errors.Wrapf(errors.ErrChannelClosed, "get on %s", q.name)
		}
		if r, ok := q.pop(); ok {
			return r, true, nil
		}
		if q.IsDone() {
			// A Put may have landed between pop and the done check.
			if r, ok := q.pop(); ok {
				return r, true, nil
			}
			return row.Row{}, false, nil
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-q.closed:
		case <-ctx.Done():
			return row.Row{}, false, errors.Wrapf(ctx.Err(), "get on %s", q.name)
		}
	}
}
