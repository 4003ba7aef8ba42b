package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetinfo/portal/internal/progress"
)

// PrometheusSink exports job lifecycle metrics derived from the log stream.
type PrometheusSink struct {
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRunning   *prometheus.GaugeVec
	jobRuntime    *prometheus.HistogramVec
	logLines      *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_jobs_started_total",
			Help: "Total jobs that have started.",
		}, []string{"kind"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_jobs_completed_total",
			Help: "Total jobs completed partitioned by kind and result.",
		}, []string{"kind", "result"}),
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portal_jobs_running",
			Help: "Current number of running jobs.",
		}, []string{"kind"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind", "result"}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_job_log_events_total",
			Help: "Job log events partitioned by kind and level.",
		}, []string{"kind", "level"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.logLines,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		kind := string(evt.Kind)
		s.logLines.WithLabelValues(kind, evt.Level).Inc()
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.WithLabelValues(kind).Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.WithLabelValues(kind).Inc()
			}
		case progress.StageJobDone:
			s.finish(evt, "success")
		case progress.StageJobError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	kind := string(evt.Kind)
	s.jobsCompleted.WithLabelValues(kind, result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.WithLabelValues(kind).Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
