package portal

import "time"

// JobKind selects which job/log table pair a job lives in.
type JobKind string

// Job kinds.
const (
	JobKindAI       JobKind = "ai"
	JobKindScraping JobKind = "scraping"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindAI || k == JobKindScraping
}

// JobStatus represents the lifecycle state of a background job.
type JobStatus string

// Job status values persisted in the job tables.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one asynchronous unit of work.
type Job struct {
	ID             string     `json:"id"`
	Kind           JobKind    `json:"kind"`
	Status         JobStatus  `json:"status"`
	RuleID         int64      `json:"rule_id"`
	SubscriptionID *int64     `json:"subscription_id,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Log levels for job log lines.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// JobLog is one append-only progress line of a job.
type JobLog struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
