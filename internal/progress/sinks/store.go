package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/progress"
)

// LogAppender is the subset of portal.JobStore the sink needs.
type LogAppender interface {
	AppendLogs(ctx context.Context, kind portal.JobKind, logs []portal.JobLog) error
}

// StoreSink persists job log lines, one multi-row insert per job kind.
type StoreSink struct {
	repo   LogAppender
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo LogAppender, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume groups the batch by kind, keeping emit order within each kind.
// Milestones without a message are not persisted.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	byKind := make(map[portal.JobKind][]portal.JobLog)
	var order []portal.JobKind
	for _, evt := range batch {
		if evt.Message == "" {
			continue
		}
		if _, seen := byKind[evt.Kind]; !seen {
			order = append(order, evt.Kind)
		}
		byKind[evt.Kind] = append(byKind[evt.Kind], evt.LogLine())
	}
	for _, kind := range order {
		if err := s.repo.AppendLogs(ctx, kind, byKind[kind]); err != nil {
			return fmt.Errorf("append %s job logs: %w", kind, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
