// Package performance provides concurrency primitives shared by the
// monitoring and execution components: a bounded worker pool, a counting
// gate for rate-limited collaborators, and a token-bucket rate limiter.
package performance

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerPool manages a pool of workers for concurrent task execution.
// One monitoring unit per instrument runs on it each cycle. A stopped
// pool can be started again; each run gets its own queue and workers.
type WorkerPool struct {
	workers    int
	wg         sync.WaitGroup
	running    atomic.Bool
	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64

	mu        sync.Mutex
	taskQueue chan func()
	cancel    context.CancelFunc
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0, it defaults to runtime.NumCPU().
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{workers: workers}
}

// Start starts the worker pool. Starting an already-running pool is a no-op.
func (p *WorkerPool) Start() {
	if p.running.Swap(true) {
		return // Already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan func(), p.workers*16)

	p.mu.Lock()
	p.taskQueue = queue
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, queue)
	}
}

func (p *WorkerPool) worker(ctx context.Context, queue chan func()) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-queue:
			task()
			p.tasksDone.Add(1)
		}
	}
}

// Submit submits a task to the worker pool.
// Returns false if the pool is not running or the queue is full.
func (p *WorkerPool) Submit(task func()) bool {
	if !p.running.Load() {
		return false
	}

	p.mu.Lock()
	queue := p.taskQueue
	p.mu.Unlock()
	if queue == nil {
		return false
	}

	select {
	case queue <- task:
		p.tasksTotal.Add(1)
		return true
	default:
		return false // Queue full
	}
}

// SubmitWait submits a task and waits for it to complete.
func (p *WorkerPool) SubmitWait(task func()) bool {
	done := make(chan struct{})
	wrapped := func() {
		task()
		close(done)
	}

	if !p.Submit(wrapped) {
		return false
	}

	<-done
	return true
}

// Stop stops the worker pool and waits for all workers to finish. Tasks
// already picked up run to completion; tasks still queued are dropped.
func (p *WorkerPool) Stop() {
	if !p.running.Swap(false) {
		return // Not running
	}

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	queueLen := len(p.taskQueue)
	p.mu.Unlock()

	return PoolStats{
		Workers:    p.workers,
		Running:    p.running.Load(),
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
		QueueLen:   queueLen,
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int
	Running    bool
	TasksTotal uint64
	TasksDone  uint64
	QueueLen   int
}

// Gate bounds the number of concurrent calls into an expensive collaborator.
// Predictor calls are gated separately from the instrument worker pool, with
// its own limit.
type Gate struct {
	slots chan struct{}
}

// NewGate creates a gate allowing at most n concurrent holders.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
		// Release without Acquire; nothing to free.
	}
}

// InUse returns the number of currently held slots.
func (g *Gate) InUse() int {
	return len(g.slots)
}

// RateLimiter implements a token bucket rate limiter for exchange REST calls.
type RateLimiter struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow checks if a request is allowed under the rate limit.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * r.rate
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Wait waits until a request is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.Allow() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * 10):
			// Try again
		}
	}
}
