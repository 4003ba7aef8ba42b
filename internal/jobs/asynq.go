package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/config"
	"github.com/fleetinfo/portal/internal/portal"
)

// RedisOpt converts configuration into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// AsynqEnqueuer pushes tasks to Redis. The job id is the task id, so a
// second enqueue of the same job is rejected by the broker.
type AsynqEnqueuer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

// NewAsynqEnqueuer connects a client to Redis.
func NewAsynqEnqueuer(opt asynq.RedisConnOpt, cfg config.JobsConfig) *AsynqEnqueuer {
	return &AsynqEnqueuer{
		client:   asynq.NewClient(opt),
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
		timeout:  cfg.Timeout,
	}
}

// Enqueue implements Enqueuer.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, task Task) error {
	t, opts, err := e.build(task)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, t, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("task %s: %w", task.Payload.JobID, portal.ErrConflict)
		}
		return fmt.Errorf("asynq enqueue: %w", err)
	}
	return nil
}

func (e *AsynqEnqueuer) build(task Task) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(task.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(e.queue),
		asynq.MaxRetry(e.maxRetry),
	}
	if e.timeout > 0 {
		// slack over the handler timeout so the lifecycle wrapper can record failure
		opts = append(opts, asynq.Timeout(e.timeout+30*time.Second))
	}
	if task.Payload.JobID != "" {
		opts = append(opts, asynq.TaskID(task.Payload.JobID))
	}
	return asynq.NewTask(task.Type, b), opts, nil
}

// Close releases the Redis connection.
func (e *AsynqEnqueuer) Close() error {
	return e.client.Close()
}

// NewServeMux routes every registered task type to the processor.
func NewServeMux(p *Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, taskType := range p.Types() {
		mux.HandleFunc(taskType, asynqHandler(p))
	}
	return mux
}

func asynqHandler(p *Processor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var pl Payload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &pl); err != nil {
				return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
			}
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		return p.Process(ctx, Task{Type: t.Type(), Payload: pl}, retried >= maxRetry)
	}
}

// AsynqWorker consumes tasks from Redis.
type AsynqWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewAsynqWorker builds a worker server for the configured queue.
func NewAsynqWorker(opt asynq.RedisConnOpt, cfg config.JobsConfig, p *Processor, logger *zap.Logger) *AsynqWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("task returned error", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	return &AsynqWorker{server: srv, mux: NewServeMux(p), logger: logger}
}

// Run processes tasks until ctx is canceled, then waits for in-flight tasks.
func (w *AsynqWorker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	w.logger.Info("asynq worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("asynq worker stopped")
	return nil
}
