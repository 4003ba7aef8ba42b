package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/portal"
)

// Service creates job rows and enqueues their tasks.
type Service struct {
	store    portal.JobStore
	enqueuer Enqueuer
	ids      portal.IDGenerator
	clock    portal.Clock
	logger   *zap.Logger
}

// NewService wires a Service.
func NewService(store portal.JobStore, enqueuer Enqueuer, ids portal.IDGenerator, clock portal.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, enqueuer: enqueuer, ids: ids, clock: clock, logger: logger}
}

// Submit inserts a pending job for taskType and enqueues it. The returned job
// is pending; the caller never waits for the work itself.
func (s *Service) Submit(ctx context.Context, taskType string, ruleID int64, subscriptionID *int64) (portal.Job, error) {
	return s.SubmitPayload(ctx, taskType, Payload{RuleID: ruleID, SubscriptionID: subscriptionID})
}

// SubmitPayload is Submit with extra payload fields. JobID and Kind are
// assigned here.
func (s *Service) SubmitPayload(ctx context.Context, taskType string, pl Payload) (portal.Job, error) {
	ruleID, subscriptionID := pl.RuleID, pl.SubscriptionID
	kind, err := KindFor(taskType)
	if err != nil {
		return portal.Job{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return portal.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := portal.Job{
		ID:             id,
		Kind:           kind,
		Status:         portal.JobStatusPending,
		RuleID:         ruleID,
		SubscriptionID: subscriptionID,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return portal.Job{}, fmt.Errorf("create job: %w", err)
	}

	pl.JobID = job.ID
	pl.Kind = kind
	task := Task{Type: taskType, Payload: pl}
	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", job.ID), zap.String("type", taskType), zap.Error(err))
		msg := "enqueue failed: " + err.Error()
		if uerr := s.store.UpdateJobStatus(ctx, kind, job.ID, portal.JobStatusFailed, msg); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return portal.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job queued", zap.String("job_id", job.ID), zap.String("type", taskType), zap.Int64("rule_id", ruleID))
	return job, nil
}

// SubmitFanout enqueues a task that owns no job row.
func (s *Service) SubmitFanout(ctx context.Context, taskType string) error {
	if err := s.enqueuer.Enqueue(ctx, Task{Type: taskType}); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
