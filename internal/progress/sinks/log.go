package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/progress"
)

// LogSink mirrors job log lines into the structured service log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event at the level carried by the event.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		msg := evt.Message
		if msg == "" {
			msg = string(evt.Stage)
		}
		if ce := s.logger.Check(zapLevel(evt.Level), msg); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case portal.LogWarn:
		return zapcore.WarnLevel
	case portal.LogError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
