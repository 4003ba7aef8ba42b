package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetinfo/portal/internal/portal"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so tasks
// can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// JobLog is a portal.JobLogger bound to one job.
type JobLog struct {
	emitter Emitter
	kind    portal.JobKind
	jobID   string
	now     func() time.Time
}

// NewJobLog binds an emitter to a job.
func NewJobLog(emitter Emitter, kind portal.JobKind, jobID string, now func() time.Time) *JobLog {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &JobLog{emitter: emitter, kind: kind, jobID: jobID, now: now}
}

// Milestone emits a lifecycle event with its message.
func (l *JobLog) Milestone(stage Stage, level string, dur time.Duration, msg string) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(Event{
		Kind:    l.kind,
		JobID:   l.jobID,
		TS:      l.now(),
		Stage:   stage,
		Level:   level,
		Message: msg,
		Dur:     dur,
	})
}

func (l *JobLog) logf(level, format string, args ...any) {
	l.Milestone(StageJobLog, level, 0, fmt.Sprintf(format, args...))
}

// Infof appends an info line.
func (l *JobLog) Infof(format string, args ...any) { l.logf(portal.LogInfo, format, args...) }

// Warnf appends a warning line.
func (l *JobLog) Warnf(format string, args ...any) { l.logf(portal.LogWarn, format, args...) }

// Errorf appends an error line.
func (l *JobLog) Errorf(format string, args ...any) { l.logf(portal.LogError, format, args...) }
