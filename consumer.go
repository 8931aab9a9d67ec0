package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// BatchHandler processes one drained batch. A non-nil error is recorded and
// returned, joined with every other handler error, by [Consumer.Close].
type BatchHandler[K any, H comparable] func(ctx context.Context, b Batch[K, H]) error

// Consumer drains a [BatchQueue] into a handler on a dedicated goroutine.
// Batches are handled strictly one at a time, in queue order. The loop stops
// when the queue is closed, the context is cancelled, or [Consumer.Close]
// is called.
//
// Panics in the handler are captured as [*PanicError] and recorded like
// ordinary handler errors; the drain loop keeps running.
type Consumer[K any, H comparable] struct {
	queue  *BatchQueue[K, H]
	handle BatchHandler[K, H]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	errMu sync.Mutex
	errs  []error

	// Observability counters.
	handled atomic.Int64
	errored atomic.Int64
}

// ConsumerStats is a point-in-time snapshot of consumer activity.
type ConsumerStats struct {
	Handled int64 // batches passed to the handler
	Errored int64 // batches whose handler returned an error or panicked
	Pending int   // entries still queued (not batches)
}

// ConsumerOption configures a [Consumer].
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	onMetrics       func(ConsumerStats)
	metricsInterval time.Duration
}

// WithConsumerMetrics registers a periodic metrics callback that fires every
// interval with a snapshot of consumer counters.
//
// Panics if interval <= 0 or fn is nil.
func WithConsumerMetrics(interval time.Duration, fn func(ConsumerStats)) ConsumerOption {
	if interval <= 0 {
		panic("handoff: WithConsumerMetrics requires interval > 0")
	}
	if fn == nil {
		panic("handoff: WithConsumerMetrics requires a non-nil callback")
	}
	return func(c *consumerConfig) {
		c.onMetrics = fn
		c.metricsInterval = interval
	}
}

// NewConsumer starts draining q into handle. The drain loop runs until q is
// closed, ctx is cancelled, or [Consumer.Close] is called.
// Panics if q or handle is nil.
func NewConsumer[K any, H comparable](
	ctx context.Context,
	q *BatchQueue[K, H],
	handle BatchHandler[K, H],
	opts ...ConsumerOption,
) *Consumer[K, H] {
	if q == nil {
		panic("handoff: NewConsumer requires a non-nil queue")
	}
	if handle == nil {
		panic("handoff: NewConsumer requires a non-nil handler")
	}

	cfg := consumerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Consumer[K, H]{
		queue:  q,
		handle: handle,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.run()

	if cfg.onMetrics != nil {
		go func() {
			ticker := time.NewTicker(cfg.metricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					cfg.onMetrics(c.Stats())
				case <-c.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return c
}

func (c *Consumer[K, H]) run() {
	defer close(c.done)
	for {
		b, ok := c.queue.Next(c.ctx)
		if !ok {
			return
		}
		c.runBatch(b)
	}
}

func (c *Consumer[K, H]) runBatch(b Batch[K, H]) {
	c.handled.Add(1)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = newPanicError(r)
			}
		}()
		err = c.handle(c.ctx, b)
	}()
	if err != nil {
		c.errored.Add(1)
		c.errMu.Lock()
		c.errs = append(c.errs, err)
		c.errMu.Unlock()
	}
}

// Stats returns a point-in-time snapshot of consumer activity.
// Safe to call concurrently.
func (c *Consumer[K, H]) Stats() ConsumerStats {
	return ConsumerStats{
		Handled: c.handled.Load(),
		Errored: c.errored.Load(),
		Pending: c.queue.Len(),
	}
}

// Done returns a channel that is closed when the drain loop has stopped.
func (c *Consumer[K, H]) Done() <-chan struct{} {
	return c.done
}

// Close stops the drain loop, waits for an in-flight handler to finish, and
// returns the joined errors from every failed batch. Entries still queued
// are left in the queue. Safe to call multiple times; subsequent calls
// return the same result.
func (c *Consumer[K, H]) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
	}
	<-c.done

	c.errMu.Lock()
	defer c.errMu.Unlock()
	return errors.Join(c.errs...)
}
