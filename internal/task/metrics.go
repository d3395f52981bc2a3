package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records task outcomes and durations.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates task metrics and registers them on reg. A nil reg
// leaves the collectors unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitebuild",
			Name:      "task_runs_total",
			Help:      "Task executions by outcome.",
		}, []string{"task", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitebuild",
			Name:      "task_duration_seconds",
			Help:      "Time spent executing a task including its dependencies.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"task"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration)
	}
	return m
}

func (m *Metrics) observe(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.runs.WithLabelValues(task, status).Inc()
	m.duration.WithLabelValues(task).Observe(d.Seconds())
}
