package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LockTimeoutError is returned by [Lock.Acquire] and [RunExclusive] when a
// positive timeout elapses before the lock is granted. Use [IsLockTimeout]
// or [errors.As] to detect it.
type LockTimeoutError struct {
	// Name is the lock's diagnostic name set via [WithLockName], or "" if unset.
	Name string

	// Timeout is the acquisition timeout that elapsed.
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("handoff: lock %q: acquire timed out after %s", e.Name, e.Timeout)
	}
	return fmt.Sprintf("handoff: lock acquire timed out after %s", e.Timeout)
}

// IsLockTimeout reports whether err (or any error in its chain) is a
// [*LockTimeoutError].
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	var lte *LockTimeoutError
	return errors.As(err, &lte)
}

// lockWaiter is one pending acquisition. The resolved flag is the one-shot
// guard: whichever of {grant, timeout, cancellation} flips it first wins,
// and the others become no-ops. It is only read or written under Lock.mu.
type lockWaiter struct {
	ready    chan struct{} // closed on grant
	expired  chan struct{} // closed on timeout
	resolved bool
	timer    *time.Timer
}

// Lock is a mutual-exclusion lock with a FIFO waiter queue and optional
// per-acquisition timeout.
//
// Unlike [sync.Mutex], waiters are granted the lock in strict acquisition
// order, a waiter can give up via context cancellation or timeout, and an
// unmatched [Lock.Release] panics instead of silently corrupting state.
//
// The zero value is not usable; create one via [NewLock].
type Lock struct {
	mu      sync.Mutex
	permits int
	waiters []*lockWaiter
	name    string
}

// LockOption configures a [Lock].
type LockOption func(*Lock)

// WithLockName sets a diagnostic name that appears in [LockTimeoutError]
// messages. Useful when several locks guard different resources.
func WithLockName(name string) LockOption {
	if name == "" {
		panic("handoff: WithLockName requires a non-empty name")
	}
	return func(l *Lock) {
		l.name = name
	}
}

// NewLock creates an unlocked Lock.
func NewLock(opts ...LockOption) *Lock {
	l := &Lock{permits: 1}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the lock is granted, the timeout elapses, or ctx is
// cancelled. A timeout <= 0 means wait indefinitely; only a positive timeout
// arms a timer.
//
// Returns nil when the lock is held, [*LockTimeoutError] on timeout, or
// ctx.Err() on cancellation. When the lock is free, Acquire grants it
// synchronously without suspending.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	if l.permits > 0 {
		l.permits--
		l.mu.Unlock()
		return nil
	}

	w := &lockWaiter{
		ready:   make(chan struct{}),
		expired: make(chan struct{}),
	}
	l.waiters = append(l.waiters, w)
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() { l.expire(w) })
	}
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-w.expired:
		return &LockTimeoutError{Name: l.name, Timeout: timeout}
	case <-ctx.Done():
		if l.abandon(w) {
			return ctx.Err()
		}
		// A racing resolution beat the cancellation: either a Release
		// granted us the lock, or the timer expired. A grant must win
		// exactly once, so hand the permit straight back; an expired
		// waiter owns nothing.
		select {
		case <-w.ready:
			l.Release()
		case <-w.expired:
		}
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was acquired.
func (l *Lock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.permits > 0 {
		l.permits--
		return true
	}
	return false
}

// Release releases the lock. If waiters are queued, the permit is handed
// directly to the head of the queue without transiently becoming available.
// Panics if the lock is not held.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.permits > 0 && len(l.waiters) > 0 {
		panic("handoff: Lock has a free permit while waiters are queued")
	}

	if len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		if w.resolved {
			// expire/abandon remove a waiter from the queue in the same
			// critical section that resolves it, so a resolved waiter
			// still queued means the queue is corrupted.
			panic("handoff: Lock waiter queue corrupted (resolved waiter still queued)")
		}
		w.resolved = true
		if w.timer != nil {
			w.timer.Stop()
		}
		close(w.ready)
		return
	}

	if l.permits >= 1 {
		panic("handoff: Lock.Release called without matching Acquire")
	}
	l.permits++
}

// expire fires when a waiter's timeout elapses. The waiter is removed from
// the queue by identity before the timeout is reported, so a grant racing
// in at the same instant settles the waiter exactly once.
func (l *Lock) expire(w *lockWaiter) {
	l.mu.Lock()
	if w.resolved {
		l.mu.Unlock()
		return
	}
	w.resolved = true
	l.remove(w)
	l.mu.Unlock()
	close(w.expired)
}

// abandon removes a waiter after context cancellation. Returns false if the
// waiter was already granted or expired, in which case the caller owns
// whatever that resolution delivered.
func (l *Lock) abandon(w *lockWaiter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.resolved {
		return false
	}
	w.resolved = true
	if w.timer != nil {
		w.timer.Stop()
	}
	l.remove(w)
	return true
}

// remove deletes w from the waiter queue by identity. Called with mu held.
func (l *Lock) remove(w *lockWaiter) {
	for i, cand := range l.waiters {
		if cand == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	// A free permit alongside queued waiters means Release handed a permit
	// back instead of to the queue head.
	if l.permits > 0 && len(l.waiters) > 0 {
		panic("handoff: Lock has a free permit while waiters are queued")
	}
}

// Held reports whether the lock is currently held.
// The value may be stale in concurrent contexts.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permits == 0
}

// Waiters returns the number of acquisitions currently queued.
// The value may be stale in concurrent contexts.
func (l *Lock) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// RunExclusive acquires l, runs fn, and releases l before returning fn's
// result. The lock is released even if fn returns an error or panics.
// A timeout <= 0 waits indefinitely for the lock.
//
// Note: This is a function and not a method because Go does not support
// generic methods on non-generic types.
func RunExclusive[R any](
	ctx context.Context,
	l *Lock,
	timeout time.Duration,
	fn func(ctx context.Context) (R, error),
) (R, error) {
	var zero R
	if fn == nil {
		panic("handoff: RunExclusive requires a non-nil fn")
	}
	if err := l.Acquire(ctx, timeout); err != nil {
		return zero, err
	}
	defer l.Release()
	return fn(ctx)
}
