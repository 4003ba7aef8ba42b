package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/progress"
)

func TestLogSinkUsesEventLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Kind: portal.JobKindAI, JobID: "a", Stage: progress.StageJobStart, Level: portal.LogInfo, TS: time.Now()},
		{Kind: portal.JobKindAI, JobID: "a", Stage: progress.StageJobError, Level: portal.LogError, Message: "provider timeout", TS: time.Now(), Dur: time.Second},
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, "JOB_START", entries[0].Message)
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
	require.Equal(t, "a", entries[1].ContextMap()["job_id"])
}
