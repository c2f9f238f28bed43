// Package metrics exposes Prometheus instrumentation for the execution
// engine, namespaced "flowcore".
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and every method is a no-op, so instrumentation can be threaded
// through unconditionally.
type Metrics struct {
	mu sync.RWMutex

	activeNodes    prometheus.Gauge
	queueDepth     prometheus.Gauge
	nodeLatencyMs  *prometheus.HistogramVec
	requeues       *prometheus.CounterVec
	skippedMaxIter *prometheus.CounterVec
	nodeErrors     *prometheus.CounterVec

	enabled bool
}

// New registers the engine's collectors against registry (pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// *prometheus.Registry for tests).
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		enabled: true,
		activeNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowcore",
			Name:      "active_nodes",
			Help:      "Number of nodes currently running across all executions.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowcore",
			Name:      "scheduler_queue_depth",
			Help:      "Number of nodes currently ready but not yet dispatched.",
		}),
		nodeLatencyMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowcore",
			Name:      "node_latency_ms",
			Help:      "Node handler dispatch latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"execution_id", "node_id", "status"}),
		requeues: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcore",
			Name:      "requeues_total",
			Help:      "Number of times a node was reconsidered while waiting for inputs.",
		}, []string{"execution_id", "node_id"}),
		skippedMaxIter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcore",
			Name:      "skipped_max_iterations_total",
			Help:      "Number of nodes permanently skipped after reaching their iteration cap.",
		}, []string{"execution_id", "node_id"}),
		nodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcore",
			Name:      "node_errors_total",
			Help:      "Number of node handler failures by error kind.",
		}, []string{"execution_id", "node_id", "kind"}),
	}
}

func (m *Metrics) RecordNodeLatency(executionID, nodeID, status string, ms float64) {
	if m == nil || !m.enabled {
		return
	}
	m.nodeLatencyMs.WithLabelValues(executionID, nodeID, status).Observe(ms)
}

func (m *Metrics) IncRequeue(executionID, nodeID string) {
	if m == nil || !m.enabled {
		return
	}
	m.requeues.WithLabelValues(executionID, nodeID).Inc()
}

func (m *Metrics) IncSkippedMaxIterations(executionID, nodeID string) {
	if m == nil || !m.enabled {
		return
	}
	m.skippedMaxIter.WithLabelValues(executionID, nodeID).Inc()
}

func (m *Metrics) IncNodeError(executionID, nodeID, kind string) {
	if m == nil || !m.enabled {
		return
	}
	m.nodeErrors.WithLabelValues(executionID, nodeID, kind).Inc()
}

func (m *Metrics) SetActiveNodes(n float64) {
	if m == nil || !m.enabled {
		return
	}
	m.activeNodes.Set(n)
}

func (m *Metrics) SetQueueDepth(n float64) {
	if m == nil || !m.enabled {
		return
	}
	m.queueDepth.Set(n)
}

// Disable turns all recording methods into no-ops without unregistering
// the collectors.
func (m *Metrics) Disable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Enable re-enables recording after Disable.
func (m *Metrics) Enable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}
