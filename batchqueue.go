package handoff

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by the push operations of [BatchQueue] after
// [BatchQueue.Close] has been called.
var ErrQueueClosed = errors.New("handoff: push on closed queue")

// Batch is a contiguous run of same-key messages drained from a [BatchQueue]
// in a single step.
type Batch[K any, H comparable] struct {
	// Message is every batched message joined with newlines, in insertion order.
	Message string

	// Key is the partition key of the first entry in the batch.
	Key K

	// Hash is the comparable projection of Key that defined the batch boundary.
	Hash H

	// Isolated reports whether the batch came from [BatchQueue.PushIsolateAndClear].
	// Isolated batches always contain exactly one message.
	Isolated bool
}

type batchEntry[K any, H comparable] struct {
	msg      string
	key      K
	hash     H
	isolated bool
}

// queueWaiter is the single pending consumer. ch carries true when an insert
// made entries available and false when the queue was closed, reset, or the
// consumer's context fired. resolved is the one-shot guard; it is only read
// or written under BatchQueue.mu.
type queueWaiter struct {
	ch       chan bool
	resolved bool
}

// QueueStats is a point-in-time snapshot of [BatchQueue] activity.
type QueueStats struct {
	Pushed  int64 // entries accepted by any push operation
	Batches int64 // batches drained via Next
	Cleared int64 // entries dropped by PushIsolateAndClear or Reset
}

// BatchQueue is an ordered queue of (message, key) entries partitioned by a
// caller-supplied key hash. A single consumer drains it batch by batch: each
// [BatchQueue.Next] call removes the longest contiguous run of entries from
// the head that share the head's key hash, joined into one [Batch].
//
// K is the caller's partition key and need not be comparable; H is a
// comparable projection of K produced by the hash function. Two entries may
// batch together only when their hashes are equal.
//
// BatchQueue is single-consumer: at most one Next call may be outstanding at
// a time. A second concurrent Next panics. Producers never block; the queue
// is unbounded.
type BatchQueue[K any, H comparable] struct {
	mu      sync.Mutex
	hash    func(K) H
	entries []batchEntry[K, H]
	waiter  *queueWaiter
	closed  bool

	onMessage func(message string, key K)

	// Observability counters.
	pushed  atomic.Int64
	batches atomic.Int64
	cleared atomic.Int64
}

// BatchQueueOption configures a [BatchQueue].
type BatchQueueOption[K any] func(*batchQueueConfig[K])

type batchQueueConfig[K any] struct {
	onMessage func(message string, key K)
}

// WithOnMessage registers an observer invoked synchronously for every
// accepted push operation, independent of batching. The observer runs on the
// producer's goroutine after the entry is enqueued; it must not block.
//
// Panics if fn is nil.
func WithOnMessage[K any](fn func(message string, key K)) BatchQueueOption[K] {
	if fn == nil {
		panic("handoff: WithOnMessage requires a non-nil observer")
	}
	return func(c *batchQueueConfig[K]) {
		c.onMessage = fn
	}
}

// NewBatchQueue creates an open queue. hash must be a total function mapping
// a key to its comparable projection; panics if hash is nil.
func NewBatchQueue[K any, H comparable](hash func(K) H, opts ...BatchQueueOption[K]) *BatchQueue[K, H] {
	if hash == nil {
		panic("handoff: NewBatchQueue requires a non-nil hash function")
	}
	cfg := batchQueueConfig[K]{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &BatchQueue[K, H]{
		hash:      hash,
		onMessage: cfg.onMessage,
	}
}

// Push appends a message to the tail of the queue.
// Returns [ErrQueueClosed] if the queue has been closed.
func (q *BatchQueue[K, H]) Push(message string, key K) error {
	return q.insert(message, key, false, tail)
}

// PushImmediate appends a message to the tail of the queue. It is an alias
// of [BatchQueue.Push] kept for call-site clarity; the two are deliberately
// identical, including batching behavior.
func (q *BatchQueue[K, H]) PushImmediate(message string, key K) error {
	return q.insert(message, key, false, tail)
}

// PushIsolateAndClear atomically clears every queued entry, then appends the
// message as an isolated entry. Isolated entries always drain as a
// single-message [Batch] regardless of what is queued behind them.
// Returns [ErrQueueClosed] if the queue has been closed.
func (q *BatchQueue[K, H]) PushIsolateAndClear(message string, key K) error {
	return q.insert(message, key, true, tail)
}

// PushFront prepends a message to the head of the queue, ahead of every
// queued entry. Returns [ErrQueueClosed] if the queue has been closed.
func (q *BatchQueue[K, H]) PushFront(message string, key K) error {
	return q.insert(message, key, false, head)
}

type insertPos int

const (
	tail insertPos = iota
	head
)

func (q *BatchQueue[K, H]) insert(message string, key K, isolate bool, pos insertPos) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	entry := batchEntry[K, H]{
		msg:      message,
		key:      key,
		hash:     q.hash(key),
		isolated: isolate,
	}

	switch {
	case isolate:
		q.cleared.Add(int64(len(q.entries)))
		q.entries = append(q.entries[:0], entry)
	case pos == head:
		q.entries = append([]batchEntry[K, H]{entry}, q.entries...)
	default:
		q.entries = append(q.entries, entry)
	}
	q.pushed.Add(1)
	q.wakeWaiter(true)
	q.mu.Unlock()

	// The observer runs outside the mutex so it may safely call back into
	// the queue.
	if q.onMessage != nil {
		q.onMessage(message, key)
	}
	return nil
}

// wakeWaiter resolves the pending consumer, if any. Called with mu held.
// The waiter channel has capacity 1 and the resolved flag guarantees a
// single send, so this never blocks.
func (q *BatchQueue[K, H]) wakeWaiter(ok bool) {
	if q.waiter == nil {
		return
	}
	w := q.waiter
	q.waiter = nil
	if w.resolved {
		panic("handoff: BatchQueue waiter resolved while still registered")
	}
	w.resolved = true
	w.ch <- ok
}

// Next returns the next batch, blocking until entries are available, the
// queue is closed or reset, or ctx is cancelled. The second return value is
// false when no batch will be delivered (closed, reset, or cancelled).
//
// When entries are already queued, Next drains a batch synchronously without
// suspending. The empty-check and waiter registration happen in a single
// critical section with every insert, so a message pushed while Next is
// setting up its wait is never lost.
//
// Next panics if another Next call is already waiting.
func (q *BatchQueue[K, H]) Next(ctx context.Context) (Batch[K, H], bool) {
	var zero Batch[K, H]

	q.mu.Lock()
	if len(q.entries) > 0 {
		b := q.collectLocked()
		q.mu.Unlock()
		return b, true
	}
	if q.closed || ctx.Err() != nil {
		q.mu.Unlock()
		return zero, false
	}
	if q.waiter != nil {
		q.mu.Unlock()
		panic("handoff: BatchQueue is single-consumer; concurrent Next calls are not allowed")
	}
	w := &queueWaiter{ch: make(chan bool, 1)}
	q.waiter = w
	q.mu.Unlock()

	select {
	case ok := <-w.ch:
		if !ok {
			return zero, false
		}
		q.mu.Lock()
		if len(q.entries) == 0 {
			// A Reset raced in between the wake-up and this collection
			// and cleared the queue.
			q.mu.Unlock()
			return zero, false
		}
		b := q.collectLocked()
		q.mu.Unlock()
		return b, true
	case <-ctx.Done():
		q.mu.Lock()
		if !w.resolved {
			w.resolved = true
			q.waiter = nil
		}
		// If an insert resolved the waiter first, its entry stays queued
		// and the next Next call collects it; nothing is lost.
		q.mu.Unlock()
		return zero, false
	}
}

// collectLocked drains one batch from the head. Called with mu held and a
// non-empty queue.
func (q *BatchQueue[K, H]) collectLocked() Batch[K, H] {
	h := q.entries[0]
	if h.isolated {
		q.entries = q.entries[1:]
		q.batches.Add(1)
		return Batch[K, H]{Message: h.msg, Key: h.key, Hash: h.hash, Isolated: true}
	}

	n := 1
	for n < len(q.entries) && !q.entries[n].isolated && q.entries[n].hash == h.hash {
		n++
	}

	var sb strings.Builder
	for i := range n {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(q.entries[i].msg)
	}
	q.entries = q.entries[n:]
	q.batches.Add(1)
	return Batch[K, H]{Message: sb.String(), Key: h.key, Hash: h.hash}
}

// Close closes the queue: pending and future Next calls return false, and
// every push operation fails with [ErrQueueClosed]. Queued entries are
// discarded. Close is idempotent.
func (q *BatchQueue[K, H]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cleared.Add(int64(len(q.entries)))
	q.entries = nil
	q.wakeWaiter(false)
}

// Reset clears every queued entry, reopens a closed queue, and wakes a
// pending Next with no batch. Unlike [BatchQueue.Close], the queue remains
// usable afterwards.
func (q *BatchQueue[K, H]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
	q.cleared.Add(int64(len(q.entries)))
	q.entries = nil
	q.wakeWaiter(false)
}

// Len returns the number of queued entries (not batches).
// The value may be stale in concurrent contexts.
func (q *BatchQueue[K, H]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Closed reports whether the queue has been closed.
func (q *BatchQueue[K, H]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a point-in-time snapshot of queue activity.
// Safe to call concurrently.
func (q *BatchQueue[K, H]) Stats() QueueStats {
	return QueueStats{
		Pushed:  q.pushed.Load(),
		Batches: q.batches.Load(),
		Cleared: q.cleared.Load(),
	}
}
