// Package jobs runs background work under the job lifecycle
// pending → running → completed | failed.
package jobs

import (
	"context"
	"fmt"

	"github.com/fleetinfo/portal/internal/portal"
)

// Task type names. They double as asynq task types.
const (
	TypeAIExecute        = "portal:ai_execute"
	TypeScrape           = "portal:scrape"
	TypeSubscription     = "portal:subscription"
	TypeSubscriptionsAll = "portal:subscriptions_all"
)

// KindFor returns the job table used by a task type.
func KindFor(taskType string) (portal.JobKind, error) {
	switch taskType {
	case TypeAIExecute, TypeSubscription:
		return portal.JobKindAI, nil
	case TypeScrape:
		return portal.JobKindScraping, nil
	default:
		return "", fmt.Errorf("task type %q has no job table: %w", taskType, portal.ErrInvalid)
	}
}

// Payload is the serialized body of a task.
type Payload struct {
	JobID          string         `json:"job_id,omitempty"`
	Kind           portal.JobKind `json:"kind,omitempty"`
	RuleID         int64          `json:"rule_id,omitempty"`
	SubscriptionID *int64         `json:"subscription_id,omitempty"`
	// Ad-hoc executions may target a region with keywords and caller input.
	RegionID *int64   `json:"region_id,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Input    string   `json:"input,omitempty"`
}

// Task is one unit handed to a queue.
type Task struct {
	Type    string
	Payload Payload
}

// Enqueuer hands tasks to a queue. Enqueuing a task whose job id is already
// queued returns an error wrapping portal.ErrConflict.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Handler executes the work of one job.
type Handler func(ctx context.Context, p Payload, log portal.JobLogger) error

// FanoutHandler runs tasks that spawn other jobs and own no job row.
type FanoutHandler func(ctx context.Context) error

// Event is published when a job reaches a terminal state.
type Event struct {
	JobID          string           `json:"job_id"`
	Kind           portal.JobKind   `json:"kind"`
	Type           string           `json:"type"`
	Status         portal.JobStatus `json:"status"`
	RuleID         int64            `json:"rule_id,omitempty"`
	SubscriptionID *int64           `json:"subscription_id,omitempty"`
	Error          string           `json:"error,omitempty"`
	DurationMS     int64            `json:"duration_ms"`
}
