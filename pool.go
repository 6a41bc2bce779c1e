package replicore

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// WorkerPool is a fixed-size task queue backed by a bounded number of
// long-lived worker goroutines. Submit blocks only if the queue itself is
// full, never on the task's own execution; the controller submits
// per-store slave and recycle work with the manager mutex held and
// master-push work after releasing it.
type WorkerPool struct {
	name  string
	tasks chan func()
	g     errgroup.Group
}

// NewWorkerPool starts size worker goroutines draining a queue of
// capacity queueSize, each tagged with name for logging/status purposes.
func NewWorkerPool(name string, size, queueSize int) *WorkerPool {
	assert(size > 0, "worker pool size must be positive")

	p := &WorkerPool{
		name:  name,
		tasks: make(chan func(), queueSize),
	}
	for i := 0; i < size; i++ {
		p.g.Go(func() error {
			for task := range p.tasks {
				task()
			}
			return nil
		})
	}
	return p
}

// Name returns the pool's name, e.g. "full-push".
func (p *WorkerPool) Name() string { return p.name }

// Submit enqueues task for execution by one of the pool's workers. It
// blocks if the queue is full.
func (p *WorkerPool) Submit(task func()) {
	workerPoolOccupancyGaugeVec.WithLabelValues(p.name).Inc()
	p.tasks <- func() {
		defer workerPoolOccupancyGaugeVec.WithLabelValues(p.name).Dec()
		task()
	}
}

// Close stops accepting new work and blocks until every queued and
// in-flight task has completed, so no worker goroutine is destroyed
// mid-execution.
func (p *WorkerPool) Close() error {
	close(p.tasks)
	if err := p.g.Wait(); err != nil {
		return fmt.Errorf("worker pool %q: %w", p.name, err)
	}
	return nil
}
