package handoff

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestPushableCancellationConservation pulls with aggressively short
// per-call deadlines while a producer pushes. A delivery racing a
// cancellation is re-buffered, so every value must arrive exactly once and
// in order despite the constant cancellations.
func TestPushableCancellationConservation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const n = 500
	p := NewPushable[int]()

	var g errgroup.Group
	g.Go(func() error {
		for i := range n {
			if err := p.Push(i); err != nil {
				return err
			}
			if i%50 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		p.End()
		return nil
	})

	var got []int
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Microsecond)
		v, err := p.Next(ctx)
		cancel()
		if err == io.EOF {
			break
		}
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		require.NoError(t, err)
		got = append(got, v)
	}

	require.NoError(t, g.Wait())
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v, "value %d out of order or lost", i)
	}
}

// TestPushableProducerConsumerHandsOff alternates between buffered and
// direct delivery and verifies order is identical either way.
func TestPushableProducerConsumerHandsOff(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const n = 2000
	p := NewPushable[int]()
	ctx := context.Background()

	var g errgroup.Group
	g.Go(func() error {
		for i := range n {
			if err := p.Push(i); err != nil {
				return err
			}
			if i%7 == 0 {
				time.Sleep(50 * time.Microsecond) // let the consumer catch up and block
			}
		}
		p.End()
		return nil
	})

	var got []int
	for v, err := range p.All(ctx) {
		require.NoError(t, err)
		got = append(got, v)
	}

	require.NoError(t, g.Wait())
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v, "value %d out of order", i)
	}
}

func TestPushableEndIdempotent(t *testing.T) {
	p := NewPushable[int]()
	p.End()
	p.End()
	p.Stop()
	assert.True(t, p.Done())
	assert.False(t, p.Failed())
}

func TestPushableFailNilPanics(t *testing.T) {
	p := NewPushable[int]()
	assert.Panics(t, func() { p.Fail(nil) })
}

func TestPushableBufferedValuesSurviveEnd(t *testing.T) {
	// End marks the stream terminal but already-buffered values must still
	// drain before io.EOF is reported.
	p := NewPushable[int]()
	require.NoError(t, p.Push(1))
	require.NoError(t, p.Push(2))
	p.End()

	ctx := context.Background()
	v, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = p.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestPushableObservability(t *testing.T) {
	p := NewPushable[int]()

	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, 0, p.Waiting())
	assert.False(t, p.Done())

	require.NoError(t, p.Push(1))
	require.NoError(t, p.Push(2))
	assert.Equal(t, 2, p.Buffered())

	_, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Buffered())

	boom := errors.New("boom")
	p.Fail(boom)
	assert.True(t, p.Done())
	assert.True(t, p.Failed())
	assert.Equal(t, boom, p.Err())
}
