package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.SetActiveNodes(1)
	m.SetQueueDepth(3)
	m.RecordNodeLatency("exec-1", "n1", "ok", 12.5)
	m.IncRequeue("exec-1", "n1")
	m.IncSkippedMaxIterations("exec-1", "n1")
	m.IncNodeError("exec-1", "n1", "transient")
	m.Disable()
	m.Enable()
}

func TestRecordingAgainstRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetActiveNodes(2)
	m.SetQueueDepth(5)
	m.RecordNodeLatency("exec-1", "n1", "ok", 42)
	m.IncRequeue("exec-1", "n1")
	m.IncSkippedMaxIterations("exec-1", "n1")
	m.IncNodeError("exec-1", "n1", "transient")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"flowcore_active_nodes",
		"flowcore_scheduler_queue_depth",
		"flowcore_node_latency_ms",
		"flowcore_requeues_total",
		"flowcore_skipped_max_iterations_total",
		"flowcore_node_errors_total",
	} {
		if !names[want] {
			t.Errorf("expected metric family %s to be registered", want)
		}
	}
}

func TestDisableStopsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Disable()

	// Should not panic and should simply be inert while disabled.
	m.SetActiveNodes(9)
	m.IncRequeue("exec-1", "n1")

	m.Enable()
	m.IncRequeue("exec-1", "n1")
}
