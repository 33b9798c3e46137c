package x10

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Worker pool defaults.
const (
	defaultWorkers   = 2
	defaultQueueSize = 32
)

// Job is one validated command waiting for execution.
type Job struct {
	HouseCode HouseCode
	Command   Command
	Received  time.Time
}

// WorkerPool executes jobs on a fixed number of goroutines behind bounded
// queues, so a slow heyu call never blocks the MQTT callback that submitted it.
//
// Each worker owns its own queue and a housecode always maps to the same
// worker, so commands for one unit run (and publish) in the order received.
// Different units may run concurrently.
type WorkerPool struct {
	workers int
	queues  []chan Job
	handle  func(ctx context.Context, job Job)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewWorkerPool creates a pool. Zero values select the defaults. queueSize
// is the total capacity, split evenly across workers (at least one slot each).
func NewWorkerPool(workers, queueSize int, handle func(ctx context.Context, job Job)) *WorkerPool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	perWorker := (queueSize + workers - 1) / workers

	queues := make([]chan Job, workers)
	for i := range queues {
		queues[i] = make(chan Job, perWorker)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers: workers,
		queues:  queues,
		handle:  handle,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Jobs run with a context that is independent of
// the caller's so that shutdown can drain the queue; Stop cancels it only if
// draining takes too long.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for _, q := range p.queues {
		p.wg.Add(1)
		go p.run(q)
	}
}

func (p *WorkerPool) run(jobs <-chan Job) {
	defer p.wg.Done()
	for job := range jobs {
		if p.ctx.Err() != nil {
			continue
		}
		p.handle(p.ctx, job)
	}
}

// shard returns the queue index for a housecode.
func (p *WorkerPool) shard(hc HouseCode) int {
	if p.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(hc)) //nolint:errcheck // hash.Hash never returns an error
	return int(h.Sum32() % uint32(p.workers))
}

// Submit enqueues a job on its housecode's queue without blocking.
//
// Returns:
//   - ErrQueueFull if that queue is at capacity
//   - ErrPoolStopped after Stop
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}

	select {
	case p.queues[p.shard(job.HouseCode)] <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *WorkerPool) QueueDepth() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Stop closes the queues and waits for queued jobs to finish. If ctx expires
// first, in-flight jobs are cancelled and the rest are discarded.
// Safe to call multiple times.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.queues {
			close(q)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
