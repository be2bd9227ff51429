// Package concurrency runs best-effort side effects (rewards, notifications)
// on a bounded pool of workers so they never block the request or the
// transaction that produced them.
package concurrency

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of post-commit work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher is a fixed-size worker pool fed by a bounded queue.
type Dispatcher struct {
	workers int
	timeout time.Duration
	logger  *slog.Logger
	queue   chan Job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a Dispatcher. Each job gets its own timeout-bound
// context independent of the submitting request.
func NewDispatcher(workers, queueSize int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		workers: workers,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan Job, queueSize),
	}
}

// Start launches the workers. It returns immediately.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Submit enqueues job without blocking. It returns false when the queue is
// full or the dispatcher is stopped; the job is then dropped and logged.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.logger.Warn("dispatcher stopped, job dropped", "job", job.Name)
		return false
	}
	select {
	case d.queue <- job:
		return true
	default:
		d.logger.Warn("dispatcher queue full, job dropped", "job", job.Name)
		return false
	}
}

// Stop refuses new jobs, drains the queue and waits for the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("dispatcher worker started", "worker_id", id)
	defer d.logger.Debug("dispatcher worker stopped", "worker_id", id)

	for job := range d.queue {
		d.run(id, job)
	}
}

// run executes one job, isolating panics so a bad job cannot kill a worker.
func (d *Dispatcher) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher job panicked", "job", job.Name, "worker_id", id, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		d.logger.Warn("dispatcher job failed", "job", job.Name, "err", err, "took", time.Since(start))
		return
	}
	d.logger.Debug("dispatcher job done", "job", job.Name, "took", time.Since(start))
}
