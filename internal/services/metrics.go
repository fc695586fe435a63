package services

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "stagehand"

// RunMetrics collects counters for one pipeline run. A nil *RunMetrics discards everything.
type RunMetrics struct {
	registry *prometheus.Registry

	tasksEmitted    *prometheus.CounterVec
	tasksReconciled *prometheus.CounterVec
	usageRecords    *prometheus.CounterVec
	lastRun         *prometheus.GaugeVec
}

// NewRunMetrics returns metrics registered on a fresh registry
func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		tasksEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_emitted_total",
				Help:      "Storage tasks written to the queue directory.",
			}, []string{"category"},
		),
		tasksReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_reconciled_total",
				Help:      "Completed task files processed by the consumer.",
			}, []string{"outcome"},
		),
		usageRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "usage_records_total",
				Help:      "Allocations visited by usage sync.",
			}, []string{"result"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run.",
			}, []string{"pipeline"},
		),
	}
	m.registry.MustRegister(m.tasksEmitted, m.tasksReconciled, m.usageRecords, m.lastRun)
	return m
}

// TaskEmitted counts a task written for category
func (m *RunMetrics) TaskEmitted(category string) {
	if m == nil {
		return
	}
	m.tasksEmitted.WithLabelValues(category).Inc()
}

// TaskReconciled counts a completion file by outcome (provisioned, unchanged, dead_letter, ...)
func (m *RunMetrics) TaskReconciled(outcome string) {
	if m == nil {
		return
	}
	m.tasksReconciled.WithLabelValues(outcome).Inc()
}

// UsageRecord counts an allocation visited by usage sync by result
func (m *RunMetrics) UsageRecord(result string) {
	if m == nil {
		return
	}
	m.usageRecords.WithLabelValues(result).Inc()
}

// RunCompleted stamps the completion time of pipeline
func (m *RunMetrics) RunCompleted(pipeline string, at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.WithLabelValues(pipeline).Set(float64(at.Unix()))
}

// Registry exposes the underlying registry
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
// An empty path does nothing.
func (m *RunMetrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
