package handoff_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/baxromumarov/handoff"
)

// BenchmarkLockUncontended measures the synchronous fast path.
func BenchmarkLockUncontended(b *testing.B) {
	l := handoff.NewLock()
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := l.Acquire(ctx, 0); err != nil {
			b.Fatal(err)
		}
		l.Release()
	}
}

// BenchmarkLockContended measures FIFO hand-off under contention.
func BenchmarkLockContended(b *testing.B) {
	l := handoff.NewLock()
	ctx := context.Background()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := l.Acquire(ctx, 0); err != nil {
				b.Fatal(err)
			}
			l.Release()
		}
	})
}

// BenchmarkQueuePushDrain measures push plus synchronous batch collection
// for varying batch sizes.
func BenchmarkQueuePushDrain(b *testing.B) {
	for _, size := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("batch-%d", size), func(b *testing.B) {
			q := handoff.NewBatchQueue(func(k string) string { return k })
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				for range size {
					if err := q.Push("message", "key"); err != nil {
						b.Fatal(err)
					}
				}
				if _, ok := q.Next(ctx); !ok {
					b.Fatal("no batch")
				}
			}
		})
	}
}

// BenchmarkPushableBuffered measures producer-first delivery.
func BenchmarkPushableBuffered(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p := handoff.NewPushable[int]()
		for v := range 10 {
			if err := p.Push(v); err != nil {
				b.Fatal(err)
			}
		}
		p.End()
		for {
			if _, err := p.Next(ctx); err != nil {
				break
			}
		}
	}
}

// BenchmarkPushableHandoff measures consumer-first direct delivery.
func BenchmarkPushableHandoff(b *testing.B) {
	p := handoff.NewPushable[int]()
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := p.Next(ctx); err != nil {
				return
			}
		}
	}()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := p.Push(i); err != nil {
			b.Fatal(err)
		}
	}
	p.End()
	<-done
}
