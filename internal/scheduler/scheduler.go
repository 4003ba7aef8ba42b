// Package scheduler triggers the daily run over all active subscriptions.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/jobs"
)

// FanoutSubmitter enqueues row-less tasks. jobs.Service implements it.
type FanoutSubmitter interface {
	SubmitFanout(ctx context.Context, taskType string) error
}

// Runner is a scheduler that blocks until ctx ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Cron runs the schedule in process with robfig/cron. Use it with the
// in-process queue; several replicas would each fire.
type Cron struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewCron registers the daily subscription run at the cron expression expr in loc.
func NewCron(expr string, loc *time.Location, svc FanoutSubmitter, logger *zap.Logger) (*Cron, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := svc.SubmitFanout(ctx, jobs.TypeSubscriptionsAll); err != nil {
			logger.Error("scheduled subscription run failed", zap.Error(err))
			return
		}
		logger.Info("scheduled subscription run queued")
	})
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return &Cron{cron: c, logger: logger}, nil
}

// Next reports when the run fires next.
func (c *Cron) Next() time.Time {
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	// entries only carry Next once started; compute from the schedule instead
	return entries[0].Schedule.Next(time.Now())
}

// Run starts the cron loop and waits for running jobs on shutdown.
func (c *Cron) Run(ctx context.Context) error {
	c.cron.Start()
	c.logger.Info("cron scheduler started", zap.Time("next_run", c.Next()))
	<-ctx.Done()
	<-c.cron.Stop().Done()
	c.logger.Info("cron scheduler stopped")
	return nil
}

// Asynq registers the schedule in Redis so exactly one scheduler process
// enqueues the fanout task.
type Asynq struct {
	scheduler *asynq.Scheduler
	entryID   string
	logger    *zap.Logger
}

// NewAsynq registers the daily subscription run with an asynq scheduler.
func NewAsynq(opt asynq.RedisConnOpt, expr string, loc *time.Location, queue string, logger *zap.Logger) (*Asynq, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: loc,
		Logger:   logger.Sugar(),
		EnqueueErrorHandler: func(task *asynq.Task, _ []asynq.Option, err error) {
			logger.Error("scheduled enqueue failed", zap.String("type", task.Type()), zap.Error(err))
		},
	})
	id, err := s.Register(expr, asynq.NewTask(jobs.TypeSubscriptionsAll, nil), asynq.Queue(queue), asynq.MaxRetry(0))
	if err != nil {
		return nil, fmt.Errorf("register cron expression %q: %w", expr, err)
	}
	return &Asynq{scheduler: s, entryID: id, logger: logger}, nil
}

// Run starts the scheduler and stops it when ctx ends.
func (a *Asynq) Run(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	a.logger.Info("asynq scheduler started", zap.String("entry_id", a.entryID))
	<-ctx.Done()
	a.scheduler.Shutdown()
	a.logger.Info("asynq scheduler stopped")
	return nil
}
