package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/provider-harvester/internal/progress"
)

// PrometheusSink exports run and task progress via Prometheus. It owns the
// collectors for runs started/completed/running and per-outcome task counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	tasksTotal   *prometheus.CounterVec
	taskAttempts prometheus.Histogram
	taskDuration *prometheus.HistogramVec
	tasksSkipped prometheus.Counter
	tasksPending prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Total harvest runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Total harvest runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_running",
			Help: "Current number of running harvest runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}, []string{"result"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_tasks_total",
			Help: "Harvest tasks finished partitioned by outcome.",
		}, []string{"outcome"}),
		taskAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_task_attempts",
			Help:    "Attempts consumed per finished task.",
			Buckets: []float64{0, 1, 2, 3, 5},
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_task_duration_seconds",
			Help:    "Task duration including pacing and retries, by outcome.",
			Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 120},
		}, []string{"outcome"}),
		tasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_tasks_skipped_total",
			Help: "Candidates skipped because they were already checkpointed.",
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_tasks_pending",
			Help: "Dispatched tasks that have not reported a terminal outcome.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.tasksTotal,
		s.taskAttempts,
		s.taskDuration,
		s.tasksSkipped,
		s.tasksPending,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageTaskDone, progress.StageTaskFailed:
		s.handleTaskEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		s.tasksSkipped.Add(float64(evt.Skipped))
		s.tasksPending.Add(float64(evt.Total))
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	outcome := evt.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	s.tasksTotal.WithLabelValues(outcome).Inc()
	s.taskAttempts.Observe(float64(evt.Attempts))
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	s.tasksPending.Dec()
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
