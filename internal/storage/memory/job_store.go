// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetinfo/portal/internal/portal"
)

type jobKey struct {
	kind portal.JobKind
	id   string
}

// JobStore keeps jobs and logs in maps.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[jobKey]portal.Job
	logs   map[jobKey][]portal.JobLog
	nextID int64
	now    func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[jobKey]portal.Job),
		logs: make(map[jobKey][]portal.JobLog),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job portal.Job) error {
	if !job.Kind.Valid() {
		return fmt.Errorf("%w: unknown job kind %q", portal.ErrInvalid, job.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey{job.Kind, job.ID}
	if _, exists := s.jobs[key]; exists {
		return fmt.Errorf("job %s: %w", job.ID, portal.ErrConflict)
	}
	s.jobs[key] = job
	return nil
}

// UpdateJobStatus moves a job to status and stamps start/finish times.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	kind portal.JobKind,
	jobID string,
	status portal.JobStatus,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey{kind, jobID}
	job, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, portal.ErrNotFound)
	}
	job.Status = status
	job.Error = errText
	now := s.now()
	if status == portal.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.Terminal() {
		job.FinishedAt = &now
	}
	s.jobs[key] = job
	return nil
}

// GetJob fetches a job by kind and ID.
func (s *JobStore) GetJob(_ context.Context, kind portal.JobKind, jobID string) (portal.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobKey{kind, jobID}]
	if !ok {
		return portal.Job{}, fmt.Errorf("job %s: %w", jobID, portal.ErrNotFound)
	}
	return job, nil
}

// AppendLogs appends log lines, assigning sequential IDs.
func (s *JobStore) AppendLogs(_ context.Context, kind portal.JobKind, logs []portal.JobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range logs {
		s.nextID++
		l.ID = s.nextID
		key := jobKey{kind, l.JobID}
		s.logs[key] = append(s.logs[key], l)
	}
	return nil
}

// ListLogs returns a copy of a job's logs.
func (s *JobStore) ListLogs(_ context.Context, kind portal.JobKind, jobID string) ([]portal.JobLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.logs[jobKey{kind, jobID}]
	out := make([]portal.JobLog, len(logs))
	copy(out, logs)
	return out, nil
}
