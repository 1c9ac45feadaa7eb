package rowset

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
)

// Injector lets code outside the graph feed rows into a step's input channel.
// It owns the producer side of exactly one channel.
type Injector struct {
	ch      Channel
	step    string
	limiter *rate.Limiter
}

// InjectorOption configures an Injector.
type InjectorOption func(*Injector)

// WithRateLimit caps how fast rows are injected. Burst is the number of rows
// accepted back to back before the limit applies.
func WithRateLimit(rowsPerSecond float64, burst int) InjectorOption {
	return func(i *Injector) {
		if rowsPerSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(rowsPerSecond), burst)
	}
}

// NewInjector wraps ch as the input of the named step.
func NewInjector(ch Channel, step string, opts ...InjectorOption) *Injector {
	i := &Injector{ch: ch, step: step}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Step is the name of the step receiving the rows.
func (i *Injector) Step() string { return i.step }

// Channel exposes the underlying channel.
func (i *Injector) Channel() Channel { return i.ch }

// Put blocks until the row is accepted, using the channel's put timeout.
func (i *Injector) Put(ctx context.Context, schema *row.Schema, values row.Record) error {
	if err := i.wait(ctx); err != nil {
		return err
	}
	return i.ch.Put(ctx, row.Row{Schema: schema, Record: values})
}

// PutWait blocks for at most timeout, including time spent waiting on the rate limit.
func (i *Injector) PutWait(ctx context.Context, schema *row.Schema, values row.Record, timeout time.Duration) error {
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The limiter refuses early when a wait would overrun the deadline, so a
	// limiter failure while the caller's own context is live counts as a timeout.
	if err := i.wait(ctx); err != nil {
		if timeout > 0 && parent.Err() == nil {
			return errors.Wrapf(errors.ErrChannelTimeout, "inject into %s", i.step)
		}
		return err
	}
	err := i.ch.PutWait(ctx, row.Row{Schema: schema, Record: values}, timeout)
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return errors.Wrapf(errors.ErrChannelTimeout, "inject into %s", i.step)
	}
	return err
}

// TryPut never blocks. It returns false when the channel is full or the rate
// limit is exhausted; the caller decides whether to retry or drop.
func (i *Injector) TryPut(schema *row.Schema, values row.Record) (bool, error) {
	if i.limiter != nil && !i.limiter.Allow() {
		return false, nil
	}
	return i.ch.TryPut(row.Row{Schema: schema, Record: values})
}

// NotifyNoMoreRows ends the injected stream.
func (i *Injector) NotifyNoMoreRows() {
	i.ch.SetDone()
}

func (i *Injector) wait(ctx context.Context) error {
	if i.limiter == nil {
		return nil
	}
	if err := i.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "inject into %s", i.step)
	}
	return nil
}
