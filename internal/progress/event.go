package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetinfo/portal/internal/portal"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageJobLog   Stage = "JOB_LOG"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
)

// Event is one log line of a job, optionally marking a lifecycle milestone.
type Event struct {
	Kind    portal.JobKind
	JobID   string
	TS      time.Time
	Stage   Stage
	Level   string
	Message string
	// Dur is the job runtime on JOB_DONE and JOB_ERROR.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", e.Kind)
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageJobLog:
		if e.Message == "" {
			return errors.New("log event requires a message")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	switch e.Level {
	case portal.LogInfo, portal.LogWarn, portal.LogError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// LogLine converts the event into the persisted job log form.
func (e Event) LogLine() portal.JobLog {
	return portal.JobLog{
		JobID:     e.JobID,
		Level:     e.Level,
		Message:   e.Message,
		CreatedAt: e.TS,
	}
}
