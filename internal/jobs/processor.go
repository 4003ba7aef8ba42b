package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/progress"
)

// LogHub buffers job log lines. progress.Hub implements it.
type LogHub interface {
	progress.Emitter
	Flush(ctx context.Context) error
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Store     portal.JobStore
	Hub       LogHub
	Publisher portal.Publisher
	Topic     string
	Clock     portal.Clock
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Processor wraps handlers with the job lifecycle. Handler errors and panics
// end as a failed job plus a log line; they never propagate to callers.
type Processor struct {
	cfg      ProcessorConfig
	handlers map[string]Handler
	fanouts  map[string]FanoutHandler
}

// NewProcessor builds an empty Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, handlers: map[string]Handler{}, fanouts: map[string]FanoutHandler{}}
}

// Register binds a job handler to a task type.
func (p *Processor) Register(taskType string, h Handler) {
	p.handlers[taskType] = h
}

// RegisterFanout binds a row-less handler to a task type.
func (p *Processor) RegisterFanout(taskType string, h FanoutHandler) {
	p.fanouts[taskType] = h
}

// Types lists every registered task type.
func (p *Processor) Types() []string {
	out := make([]string, 0, len(p.handlers)+len(p.fanouts))
	for t := range p.handlers {
		out = append(out, t)
	}
	for t := range p.fanouts {
		out = append(out, t)
	}
	return out
}

// ErrRetry is returned by Process when a failed attempt will be redelivered.
var ErrRetry = errors.New("job attempt failed, retry scheduled")

// Process runs one delivery of task. lastAttempt is false when the queue will
// redeliver on error; the job then returns to pending instead of failed.
func (p *Processor) Process(ctx context.Context, task Task, lastAttempt bool) error {
	if fan, ok := p.fanouts[task.Type]; ok {
		if err := fan(ctx); err != nil {
			p.cfg.Logger.Error("fanout task failed", zap.String("type", task.Type), zap.Error(err))
			return err
		}
		return nil
	}
	handler, ok := p.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler for task type %q: %w", task.Type, portal.ErrInvalid)
	}
	pl := task.Payload
	logger := p.cfg.Logger.With(zap.String("job_id", pl.JobID), zap.String("type", task.Type))

	job, err := p.cfg.Store.GetJob(ctx, pl.Kind, pl.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		logger.Info("skipping redelivered job", zap.String("status", string(job.Status)))
		return nil
	}
	if err := p.cfg.Store.UpdateJobStatus(ctx, pl.Kind, pl.JobID, portal.JobStatusRunning, ""); err != nil {
		logger.Error("mark job running failed", zap.Error(err))
		return fmt.Errorf("mark running: %w", err)
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jl := progress.NewJobLog(p.cfg.Hub, pl.Kind, pl.JobID, p.now)
	jl.Milestone(progress.StageJobStart, portal.LogInfo, 0, "job started")
	start := time.Now()

	runErr := p.run(ctx, handler, pl, jl)
	dur := time.Since(start)

	status := portal.JobStatusCompleted
	errText := ""
	switch {
	case runErr == nil:
		jl.Milestone(progress.StageJobDone, portal.LogInfo, dur, "job completed")
	case !lastAttempt:
		status = portal.JobStatusPending
		errText = runErr.Error()
		jl.Milestone(progress.StageJobError, portal.LogWarn, dur, "attempt failed, retrying: "+errText)
	default:
		status = portal.JobStatusFailed
		errText = runErr.Error()
		jl.Milestone(progress.StageJobError, portal.LogError, dur, "job failed: "+errText)
	}

	// log lines must land before pollers can observe the terminal status
	if err := p.flush(ctx); err != nil {
		logger.Warn("flush job logs failed", zap.Error(err))
	}
	if err := p.cfg.Store.UpdateJobStatus(context.WithoutCancel(ctx), pl.Kind, pl.JobID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return fmt.Errorf("final status: %w", err)
	}
	if status == portal.JobStatusPending {
		return fmt.Errorf("%w: %v", ErrRetry, runErr)
	}

	metrics.ObserveJob(string(pl.Kind), string(status), dur)
	logger.Info("job finished", zap.String("status", string(status)), zap.Duration("dur", dur))
	p.publish(ctx, task, status, errText, dur, logger)
	return nil
}

func (p *Processor) run(ctx context.Context, h Handler, pl Payload, log portal.JobLogger) (err error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error("job handler panicked",
				zap.String("job_id", pl.JobID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, pl, log)
}

func (p *Processor) flush(ctx context.Context) error {
	if p.cfg.Hub == nil {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return p.cfg.Hub.Flush(flushCtx)
}

func (p *Processor) publish(ctx context.Context, task Task, status portal.JobStatus, errText string, dur time.Duration, logger *zap.Logger) {
	if p.cfg.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	evt := Event{
		JobID:          task.Payload.JobID,
		Kind:           task.Payload.Kind,
		Type:           task.Type,
		Status:         status,
		RuleID:         task.Payload.RuleID,
		SubscriptionID: task.Payload.SubscriptionID,
		Error:          errText,
		DurationMS:     dur.Milliseconds(),
	}
	if _, err := p.cfg.Publisher.Publish(context.WithoutCancel(ctx), p.cfg.Topic, evt); err != nil {
		logger.Warn("publish job event failed", zap.Error(err))
	}
}

func (p *Processor) now() time.Time {
	if p.cfg.Clock == nil {
		return time.Now().UTC()
	}
	return p.cfg.Clock.Now()
}
