package handoff

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// ErrStreamCompleted is returned by [Pushable.Push] once the stream has
// reached a terminal state via [Pushable.End], [Pushable.Fail], or
// [Pushable.Stop].
var ErrStreamCompleted = errors.New("handoff: push on completed stream")

// pushResult is one settled consumer step: a value, io.EOF for a clean end,
// or the stream's failure error.
type pushResult[T any] struct {
	val T
	err error
}

// pushWaiter is a pending Next call. resolved is the one-shot guard,
// read and written only under Pushable.mu.
type pushWaiter[T any] struct {
	ch       chan pushResult[T]
	resolved bool
}

// Pushable is a single-consumer, single-iteration stream fed imperatively by
// a producer. Values pushed before the consumer is ready are buffered; a
// consumer waiting on [Pushable.Next] receives pushed values directly.
//
// The stream moves from active to exactly one terminal state: ended (via
// [Pushable.End] or [Pushable.Stop]) or failed (via [Pushable.Fail]).
// Terminal states are sinks; whichever terminal call happens first wins and
// later ones are no-ops. Pushing after either terminal state returns
// [ErrStreamCompleted].
//
// A waiting consumer and a non-empty buffer are mutually exclusive by
// construction: Next drains the buffer before it ever registers a wait, and
// a push delivers directly only when a waiter is registered.
type Pushable[T any] struct {
	mu      sync.Mutex
	buf     []T
	waiters []*pushWaiter[T]
	done    bool
	err     error // non-nil only when the stream failed
	errSent bool  // the failure has been delivered to a Next call
	stopped bool  // Stop discarded the buffer; late deliveries drop too
	ranged  bool  // All has been called
}

// NewPushable creates an active, empty stream.
func NewPushable[T any]() *Pushable[T] {
	return &Pushable[T]{}
}

// Push feeds one value to the stream. If a consumer is waiting, the value is
// delivered directly to the longest-waiting one; otherwise it is buffered.
// Push never blocks.
//
// Returns [ErrStreamCompleted] if the stream has ended or failed.
func (p *Pushable[T]) Push(v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrStreamCompleted
	}
	if w := p.takeWaiter(); w != nil {
		w.ch <- pushResult[T]{val: v}
		return nil
	}
	p.buf = append(p.buf, v)
	return nil
}

// End marks the stream as cleanly ended. Any waiting consumer's Next returns
// [io.EOF]. End after [Pushable.Fail] is a no-op: the stream stays failed.
func (p *Pushable[T]) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLocked()
}

func (p *Pushable[T]) endLocked() {
	if p.done {
		return
	}
	p.done = true
	for {
		w := p.takeWaiter()
		if w == nil {
			return
		}
		w.ch <- pushResult[T]{err: io.EOF}
	}
}

// Fail marks the stream as failed with err. A waiting consumer's Next call
// returns err; otherwise the next Next call does. The failure is delivered
// exactly once; Next calls after that return [io.EOF].
//
// Fail after [Pushable.End] is a no-op: the stream stays cleanly ended and
// [Pushable.Failed] remains false. Panics if err is nil.
func (p *Pushable[T]) Fail(err error) {
	if err == nil {
		panic("handoff: Pushable.Fail requires a non-nil error")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.err = err
	for {
		w := p.takeWaiter()
		if w == nil {
			return
		}
		p.errSent = true
		w.ch <- pushResult[T]{err: err}
	}
}

// Stop is the consumer's early return: it ends the stream as if
// [Pushable.End] had been called, releasing any pending Next with [io.EOF].
// Buffered values are discarded. Stop after a terminal state is a no-op.
//
// A break out of a [Pushable.All] loop calls Stop automatically.
func (p *Pushable[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
	p.stopped = true
	p.endLocked()
}

// takeWaiter pops the longest-waiting pending Next call and resolves it.
// Called with mu held; returns nil when no waiter is pending. The waiter
// channel has capacity 1, so the subsequent send never blocks.
func (p *Pushable[T]) takeWaiter() *pushWaiter[T] {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.resolved {
			continue
		}
		w.resolved = true
		return w
	}
	return nil
}

// Next returns the next value. Buffered values are returned immediately in
// push order; otherwise Next blocks until a push, a terminal call, or ctx
// cancellation.
//
// Next returns [io.EOF] once the stream has cleanly ended and the buffer is
// drained, the failure error (exactly once) when the stream failed, or
// ctx.Err() on cancellation. A value delivered in the same instant as a
// cancellation is re-buffered, not lost.
func (p *Pushable[T]) Next(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if len(p.buf) > 0 {
		v := p.buf[0]
		p.buf = p.buf[1:]
		p.mu.Unlock()
		return v, nil
	}
	if p.done {
		err := p.terminalErrLocked()
		p.mu.Unlock()
		return zero, err
	}
	w := &pushWaiter[T]{ch: make(chan pushResult[T], 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case r := <-w.ch:
		return r.val, r.err
	case <-ctx.Done():
		p.mu.Lock()
		if !w.resolved {
			w.resolved = true
			p.removeWaiter(w)
			p.mu.Unlock()
			return zero, ctx.Err()
		}
		p.mu.Unlock()
		// The delivery raced ahead of the cancellation. A delivered
		// value is not lost: it goes to the next pending waiter, or
		// back to the head of the buffer. A Stop that raced in already
		// discarded the buffer, so the value is dropped with it.
		// Terminal results need no replay; they remain observable on
		// the stream itself.
		r := <-w.ch
		if r.err == nil {
			p.mu.Lock()
			if !p.stopped {
				if nw := p.takeWaiter(); nw != nil {
					nw.ch <- r
				} else {
					p.buf = append([]T{r.val}, p.buf...)
				}
			}
			p.mu.Unlock()
		} else if r.err != io.EOF {
			p.mu.Lock()
			p.errSent = false
			p.mu.Unlock()
		}
		return zero, ctx.Err()
	}
}

// terminalErrLocked reports how an exhausted stream settles a Next call.
// Called with mu held and the stream in a terminal state.
func (p *Pushable[T]) terminalErrLocked() error {
	if p.err != nil && !p.errSent {
		p.errSent = true
		return p.err
	}
	return io.EOF
}

// removeWaiter deletes w from the waiter list by identity. Called with mu held.
func (p *Pushable[T]) removeWaiter(w *pushWaiter[T]) {
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// All returns the stream as a range-over-func sequence. Iteration yields
// every value in push order and finishes with a final (zero, err) pair when
// the stream fails; a clean end just terminates the loop. Breaking out of
// the loop calls [Pushable.Stop], so producers observe the early return.
//
// The stream can only be iterated once; a second All call panics. Use
// [Pushable.Next] directly for manual pull-style consumption.
func (p *Pushable[T]) All(ctx context.Context) iter.Seq2[T, error] {
	p.mu.Lock()
	if p.ranged {
		p.mu.Unlock()
		panic("handoff: Pushable can only be iterated once")
	}
	p.ranged = true
	p.mu.Unlock()

	return func(yield func(T, error) bool) {
		for {
			v, err := p.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				p.Stop()
				return
			}
		}
	}
}

// Done reports whether the stream has reached a terminal state.
func (p *Pushable[T]) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Failed reports whether the stream terminated with an error.
func (p *Pushable[T]) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

// Err returns the stream's failure error, or nil if it is active or cleanly
// ended.
func (p *Pushable[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Buffered returns the number of values pushed but not yet consumed.
// The value may be stale in concurrent contexts.
func (p *Pushable[T]) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Waiting returns the number of Next calls currently blocked.
// The value may be stale in concurrent contexts.
func (p *Pushable[T]) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.waiters {
		if !w.resolved {
			n++
		}
	}
	return n
}
