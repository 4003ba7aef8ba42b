package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetinfo/portal/internal/portal"
)

// JobStore persists ai/scraping jobs and their logs.
type JobStore struct {
	db dbtx
}

func jobTables(kind portal.JobKind) (jobs, logs string, err error) {
	switch kind {
	case portal.JobKindAI:
		return "ai_jobs", "ai_logs", nil
	case portal.JobKindScraping:
		return "scraping_jobs", "scraping_logs", nil
	default:
		return "", "", fmt.Errorf("%w: unknown job kind %q", portal.ErrInvalid, kind)
	}
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job portal.Job) error {
	jobs, _, err := jobTables(job.Kind)
	if err != nil {
		return err
	}
	query := "INSERT INTO " + jobs + " (id, rule_id, subscription_id, status, created_at) VALUES ($1, $2, $3, $4, $5)"
	if _, err := s.db.Exec(ctx, query, job.ID, job.RuleID, job.SubscriptionID, string(job.Status), job.CreatedAt); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, mapError(err))
	}
	return nil
}

// UpdateJobStatus moves a job to status, stamping start and finish times.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	kind portal.JobKind,
	jobID string,
	status portal.JobStatus,
	errText string,
) error {
	jobs, _, err := jobTables(kind)
	if err != nil {
		return err
	}
	query := "UPDATE " + jobs + ` SET status = $1::text, error = $2,
	started_at = CASE WHEN $1::text = 'running' THEN COALESCE(started_at, now()) ELSE started_at END,
	finished_at = CASE WHEN $1::text IN ('completed', 'failed') THEN now() ELSE finished_at END
WHERE id = $3`
	tag, err := s.db.Exec(ctx, query, string(status), errText, jobID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, portal.ErrNotFound)
	}
	return nil
}

// GetJob loads a job row.
func (s *JobStore) GetJob(ctx context.Context, kind portal.JobKind, jobID string) (portal.Job, error) {
	jobs, _, err := jobTables(kind)
	if err != nil {
		return portal.Job{}, err
	}
	query := "SELECT id, rule_id, subscription_id, status, error, created_at, started_at, finished_at FROM " +
		jobs + " WHERE id = $1"
	job := portal.Job{Kind: kind}
	var status string
	err = s.db.QueryRow(ctx, query, jobID).Scan(&job.ID, &job.RuleID, &job.SubscriptionID, &status, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		return portal.Job{}, fmt.Errorf("get job %s: %w", jobID, mapError(err))
	}
	job.Status = portal.JobStatus(status)
	return job, nil
}

// AppendLogs inserts log lines in one statement.
func (s *JobStore) AppendLogs(ctx context.Context, kind portal.JobKind, logs []portal.JobLog) error {
	if len(logs) == 0 {
		return nil
	}
	_, table, err := jobTables(kind)
	if err != nil {
		return err
	}
	jobIDs := make([]string, len(logs))
	levels := make([]string, len(logs))
	messages := make([]string, len(logs))
	times := make([]time.Time, len(logs))
	for i, l := range logs {
		jobIDs[i], levels[i], messages[i], times[i] = l.JobID, l.Level, l.Message, l.CreatedAt
	}
	query := "INSERT INTO " + table + " (job_id, level, message, created_at) " +
		"SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[])"
	if _, err := s.db.Exec(ctx, query, jobIDs, levels, messages, times); err != nil {
		return fmt.Errorf("append %s: %w", table, mapError(err))
	}
	return nil
}

// ListLogs returns a job's log lines in insertion order.
func (s *JobStore) ListLogs(ctx context.Context, kind portal.JobKind, jobID string) ([]portal.JobLog, error) {
	_, table, err := jobTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		"SELECT id, job_id, level, message, created_at FROM "+table+" WHERE job_id = $1 ORDER BY id", jobID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, mapError(err))
	}
	defer rows.Close()
	out := make([]portal.JobLog, 0)
	for rows.Next() {
		var l portal.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
