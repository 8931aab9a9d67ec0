// Package handoff provides in-process primitives for handing values between
// asynchronous producers and consumers without losing events, settling a
// pending operation twice, or deadlocking when cancellation lands mid-flight.
//
// The package contains three independent, leaf-level primitives. None of
// them depends on the others or on any external service; each instance owns
// its state exclusively and is safe for concurrent use through its
// documented operations only.
//
// # Lock
//
// [Lock] is a mutual-exclusion lock with a strict FIFO waiter queue and
// optional per-acquisition timeout:
//
//	l := handoff.NewLock(handoff.WithLockName("index"))
//	v, err := handoff.RunExclusive(ctx, l, 50*time.Millisecond,
//	    func(ctx context.Context) (int, error) {
//	        return rebuild(ctx)
//	    })
//	if handoff.IsLockTimeout(err) {
//	    // lock was held too long; retry or abandon
//	}
//
// A free lock is granted synchronously. Queued waiters are granted in
// acquisition order; a timed-out or cancelled waiter is removed from the
// queue exactly once, so a grant racing a timeout can never run the critical
// section after the timeout was reported. [RunExclusive] releases the lock
// on every exit path, including handler errors and panics.
//
// # BatchQueue
//
// [BatchQueue] is an ordered queue of (message, key) entries that a single
// consumer drains batch by batch. Each [BatchQueue.Next] call removes the
// longest contiguous run of head entries sharing the head's key hash and
// joins their messages with newlines:
//
//	q := handoff.NewBatchQueue(func(k string) string { return k })
//	q.Push("build started", "ci")
//	q.Push("build passed", "ci")
//	q.Push("disk low", "ops")
//
//	b, _ := q.Next(ctx) // "build started\nbuild passed" for key "ci"
//	b, _ = q.Next(ctx)  // "disk low" for key "ops"
//
// [BatchQueue.PushIsolateAndClear] wipes the queue and enqueues a single
// entry that always drains alone; [BatchQueue.PushFront] jumps the line.
// The empty-check and waiter registration inside Next share one critical
// section with every insert, so a message pushed while the consumer is
// setting up its wait is delivered, not dropped. [Consumer] wraps the drain
// loop with a handler, panic capture, and stats.
//
// # Pushable
//
// [Pushable] is a single-consumer, single-iteration stream fed imperatively
// with [Pushable.Push], [Pushable.End], and [Pushable.Fail], and consumed
// with [Pushable.Next] or a range loop over [Pushable.All]:
//
//	p := handoff.NewPushable[string]()
//	go func() {
//	    p.Push("a")
//	    p.Push("b")
//	    p.End()
//	}()
//	for v, err := range p.All(ctx) {
//	    ...
//	}
//
// Values pushed before the consumer arrives are buffered; a waiting consumer
// receives pushes directly. The first terminal call wins: End after Fail
// keeps the failure, Fail after End keeps the clean end. Breaking out of an
// All loop stops the stream so producers observe the early return.
//
// # Errors
//
// Expected failures are returned as errors: [*LockTimeoutError] for lock
// timeouts, [ErrQueueClosed] for pushes on a closed queue,
// [ErrStreamCompleted] for pushes on a finished stream. Programmer misuse
// (unmatched [Lock.Release], a second concurrent [BatchQueue.Next], a second
// [Pushable.All] iteration, nil callbacks) panics with a "handoff:" message.
package handoff
