package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, New(2).Interval())
	assert.Equal(t, 100*time.Millisecond, New(10).Interval())
	assert.Equal(t, DefaultInterval, New(0).Interval())
	assert.Equal(t, DefaultInterval, NewWithInterval(-time.Second).Interval())
}

func TestWaitIfNeededSequential(t *testing.T) {
	if testing.Short() {
		t.Skip("wall-clock test")
	}

	l := New(2)
	ctx := context.Background()

	start := time.Now()
	slots := make([]time.Time, 0, 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.WaitIfNeeded(ctx))
		slots = append(slots, l.Last())
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 4500*time.Millisecond)
	for i := 1; i < len(slots); i++ {
		// Token arithmetic is floating point; allow for sub-millisecond rounding.
		assert.GreaterOrEqual(t, slots[i].Sub(slots[i-1]), l.Interval()-time.Millisecond, "gap %d", i)
	}
}

func TestWaitIfNeededConcurrent(t *testing.T) {
	l := NewWithInterval(20 * time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.WaitIfNeeded(ctx))
		}()
	}
	wg.Wait()

	// Eight callers sharing one limiter occupy seven full intervals.
	assert.GreaterOrEqual(t, time.Since(start), 7*l.Interval())
	assert.False(t, l.Last().Before(start.Add(7*l.Interval()-time.Millisecond)))
}

func TestWaitIfNeededCanceled(t *testing.T) {
	l := NewWithInterval(time.Hour)
	require.NoError(t, l.WaitIfNeeded(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.WaitIfNeeded(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitIfNeededCancelReleasesSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("wall-clock test")
	}

	l := NewWithInterval(200 * time.Millisecond)
	start := time.Now()
	require.NoError(t, l.WaitIfNeeded(context.Background()))
	first := l.Last()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitIfNeeded(ctx), context.DeadlineExceeded)
	assert.True(t, first.Equal(l.Last()), "abandoned slot must not be recorded")

	// The next caller takes the slot the cancelled one gave up, one interval
	// after the first request rather than two.
	require.NoError(t, l.WaitIfNeeded(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 350*time.Millisecond)
	assert.GreaterOrEqual(t, l.Last().Sub(first), l.Interval()-time.Millisecond)
}
