package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/storage/memory"
)

type recordingEnqueuer struct {
	tasks []Task
	err   error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, task Task) error {
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, task)
	return nil
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "job-" + string(rune('0'+s.n)), nil
}

func TestSubmitCreatesPendingJobAndEnqueues(t *testing.T) {
	store := memory.NewJobStore()
	enq := &recordingEnqueuer{}
	svc := NewService(store, enq, &seqIDs{}, fixedClock{t: time.Unix(100, 0)}, nil)
	sub := int64(4)

	job, err := svc.Submit(context.Background(), TypeSubscription, 9, &sub)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, portal.JobKindAI, job.Kind)
	assert.Equal(t, portal.JobStatusPending, job.Status)

	stored, err := store.GetJob(context.Background(), portal.JobKindAI, "job-1")
	require.NoError(t, err)
	assert.Equal(t, portal.JobStatusPending, stored.Status)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeSubscription, enq.tasks[0].Type)
	assert.Equal(t, Payload{JobID: "job-1", Kind: portal.JobKindAI, RuleID: 9, SubscriptionID: &sub}, enq.tasks[0].Payload)
}

func TestSubmitMarksJobFailedWhenEnqueueFails(t *testing.T) {
	store := memory.NewJobStore()
	svc := NewService(store, &recordingEnqueuer{err: errors.New("redis down")}, &seqIDs{}, fixedClock{t: time.Unix(1, 0)}, nil)

	_, err := svc.Submit(context.Background(), TypeScrape, 1, nil)
	require.Error(t, err)

	job, gerr := store.GetJob(context.Background(), portal.JobKindScraping, "job-1")
	require.NoError(t, gerr)
	assert.Equal(t, portal.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "redis down")
}

func TestSubmitRejectsRowlessTypes(t *testing.T) {
	svc := NewService(memory.NewJobStore(), &recordingEnqueuer{}, &seqIDs{}, fixedClock{}, nil)
	_, err := svc.Submit(context.Background(), TypeSubscriptionsAll, 0, nil)
	require.ErrorIs(t, err, portal.ErrInvalid)

	enq := &recordingEnqueuer{}
	svc = NewService(memory.NewJobStore(), enq, &seqIDs{}, fixedClock{}, nil)
	require.NoError(t, svc.SubmitFanout(context.Background(), TypeSubscriptionsAll))
	require.Len(t, enq.tasks, 1)
	assert.Empty(t, enq.tasks[0].Payload.JobID)
}
