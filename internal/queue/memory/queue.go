// Package memory provides the in-process task queue used when no Redis is
// configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/portal"
)

// ErrClosed is returned once the queue stops accepting or handing out tasks.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A job id
// stays reserved from Enqueue until Done so duplicate submissions are refused.
type Queue struct {
	ch chan jobs.Task

	mu       sync.RWMutex
	closed   bool
	inFlight map[string]struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:       make(chan jobs.Task, capacity),
		inFlight: make(map[string]struct{}),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task jobs.Task) error {
	id := task.Payload.JobID
	if err := q.reserve(id); err != nil {
		return err
	}
	if err := q.send(ctx, task); err != nil {
		q.release(id)
		return err
	}
	return nil
}

func (q *Queue) send(ctx context.Context, task jobs.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Tasks queued
// before Close are still handed out.
func (q *Queue) Dequeue(ctx context.Context) (jobs.Task, error) {
	select {
	case <-ctx.Done():
		return jobs.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return jobs.Task{}, ErrClosed
		}
		return task, nil
	}
}

// Done releases the job id of a processed task.
func (q *Queue) Done(task jobs.Task) {
	q.release(task.Payload.JobID)
}

// Len reports the number of waiting tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

func (q *Queue) reserve(id string) error {
	if id == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.inFlight[id]; dup {
		return fmt.Errorf("task %s: %w", id, portal.ErrConflict)
	}
	q.inFlight[id] = struct{}{}
	return nil
}

func (q *Queue) release(id string) {
	if id == "" {
		return
	}
	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
}
