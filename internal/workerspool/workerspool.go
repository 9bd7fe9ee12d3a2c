// Package workerspool implements a bounded pool of worker goroutines used to
// split large element-wise operations across CPUs.
//
// The pool bounds concurrent tasks, not goroutine creation: tasks are short
// lived and a fresh goroutine is started per task while the count stays under
// the limit.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits how many tasks run concurrently.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning decreases.
	numRunning     int
}

// New returns a Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// NewWithParallelism returns a Pool targeting the given parallelism.
// 0 disables parallelism (tasks run inline), < 0 means unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	p := New()
	p.maxParallelism = maxParallelism
	return p
}

// IsEnabled returns whether parallelism is enabled (MaxParallelism != 0).
func (p *Pool) IsEnabled() bool { return p.maxParallelism != 0 }

// MaxParallelism is the limit of concurrently running tasks.
// 0 disables parallelism, < 0 means unlimited.
func (p *Pool) MaxParallelism() int { return p.maxParallelism }

func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// WaitToStart blocks until a worker slot is free, then runs task in its own
// goroutine. If parallelism is disabled the task runs inline.
func (p *Pool) WaitToStart(task func()) {
	if p.maxParallelism == 0 {
		task()
		return
	}
	if p.maxParallelism < 0 {
		go task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedStartTask(task)
}

func (p *Pool) lockedStartTask(task func()) {
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// minChunkPerWorker is the smallest element range worth handing to a worker:
// below this the goroutine overhead dominates.
const minChunkPerWorker = 4096

// ParallelFor runs fn over the sub-ranges of [0, n), splitting them across
// the pool's workers, and returns only after every sub-range completed.
// Small ranges (or a disabled pool) run inline as a single chunk.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := p.maxParallelism
	if workers < 0 {
		workers = runtime.NumCPU()
	}
	if workers <= 1 || n < 2*minChunkPerWorker {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	if chunk < minChunkPerWorker {
		chunk = minChunkPerWorker
	}
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		p.WaitToStart(func() {
			defer wg.Done()
			fn(start, end)
		})
	}
	wg.Wait()
}
