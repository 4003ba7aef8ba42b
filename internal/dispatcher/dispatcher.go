// Package dispatcher manages worker fan-out over the in-process queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/worker"
)

// Queue is the in-process queue shared by the dispatcher and its workers.
type Queue interface {
	worker.Queue
	Enqueue(ctx context.Context, task jobs.Task) error
	Close()
}

// Dispatcher fans out queue work to a pool of workers. It implements
// jobs.Enqueuer.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool creates a Dispatcher with n identical workers.
func NewPool(n int, queue Queue, p worker.Processor, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, worker.New(i+1, queue, p, cfg, logger))
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until ctx finishes. On shutdown the queue
// stops accepting tasks and already queued ones are drained before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(workCtx)
		}(w)
	}
	<-ctx.Done()
	d.queue.Close()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task jobs.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
