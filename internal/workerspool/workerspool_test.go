package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitToStartBoundsParallelism(t *testing.T) {
	const limit = 3
	pool := NewWithParallelism(limit)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			running.Add(-1)
		})
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestWaitToStartInlineWhenDisabled(t *testing.T) {
	pool := NewWithParallelism(0)
	require.False(t, pool.IsEnabled())
	ran := false
	pool.WaitToStart(func() { ran = true })
	// Inline execution: already done when WaitToStart returns.
	require.True(t, ran)
}

func TestParallelFor(t *testing.T) {
	pool := New()
	const n = 3*minChunkPerWorker + 17
	covered := make([]int32, n)
	pool.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&covered[i], 1)
		}
	})
	for i, c := range covered {
		if c != 1 {
			t.Fatalf("index %d covered %d times, want exactly once", i, c)
		}
	}

	// Small ranges run inline as one chunk.
	var calls atomic.Int32
	pool.ParallelFor(10, func(start, end int) {
		calls.Add(1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, int32(1), calls.Load())

	pool.ParallelFor(0, func(start, end int) { t.Fatal("empty range must not call fn") })
}
