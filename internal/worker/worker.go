// Package worker consumes tasks from the in-process queue.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/jobs"
)

// Queue is the consuming side of the in-process queue.
type Queue interface {
	Dequeue(ctx context.Context) (jobs.Task, error)
	Done(task jobs.Task)
}

// Processor runs one delivery of a task.
type Processor interface {
	Process(ctx context.Context, task jobs.Task, lastAttempt bool) error
}

// Config controls Worker behavior.
type Config struct {
	// MaxRetry is the number of extra attempts after a failed one.
	MaxRetry int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

// Worker consumes queue items and hands them to the processor.
type Worker struct {
	id        int
	queue     Queue
	processor Processor
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue Queue, processor Processor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the queue closes or ctx finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("worker stopping", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued task", zap.String("type", task.Type), zap.String("job_id", task.Payload.JobID))
		w.process(ctx, task)
		w.queue.Done(task)
	}
}

func (w *Worker) process(ctx context.Context, task jobs.Task) {
	backoff := w.cfg.Backoff
	for attempt := 0; ; attempt++ {
		last := attempt >= w.cfg.MaxRetry
		err := w.processor.Process(ctx, task, last)
		if err == nil {
			return
		}
		if last || !errors.Is(err, jobs.ErrRetry) {
			w.logger.Error("task failed",
				zap.String("type", task.Type),
				zap.String("job_id", task.Payload.JobID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return
		}
		w.logger.Warn("task attempt failed, retrying",
			zap.String("job_id", task.Payload.JobID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
