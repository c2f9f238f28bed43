package core

import "testing"

func linearDiagram() *Diagram {
	return &Diagram{
		ID: "d1",
		Nodes: map[NodeID]*Node{
			"a": {ID: "a", Type: NodeStart},
			"b": {ID: "b", Type: NodeJob},
			"c": {ID: "c", Type: NodeEndpoint},
		},
		Edges: []Edge{
			{ID: "e1", From: "a", To: "b"},
			{ID: "e2", From: "b", To: "c"},
		},
	}
}

func TestDependencyTrackerInitialReady(t *testing.T) {
	tr := NewDependencyTracker(linearDiagram())
	ready := tr.InitialReady()
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("InitialReady = %v, want [a]", ready)
	}
}

func TestDependencyTrackerMarkCompletedUnblocks(t *testing.T) {
	tr := NewDependencyTracker(linearDiagram())
	unblocked := tr.MarkCompleted("a")
	if len(unblocked) != 1 || unblocked[0] != "b" {
		t.Fatalf("MarkCompleted(a) = %v, want [b]", unblocked)
	}
	// Idempotent: marking again returns nothing.
	if got := tr.MarkCompleted("a"); got != nil {
		t.Fatalf("second MarkCompleted(a) = %v, want nil", got)
	}
}

func TestDependencyTrackerSkipsConditionalEdges(t *testing.T) {
	d := &Diagram{
		ID: "d2",
		Nodes: map[NodeID]*Node{
			"start": {ID: "start", Type: NodeStart},
			"cond":  {ID: "cond", Type: NodeCondition},
			"next":  {ID: "next", Type: NodeJob},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "cond"},
			{ID: "e2", From: "cond", To: "next", IsConditional: true, Branch: "true"},
		},
	}
	tr := NewDependencyTracker(d)
	if tr.Indegree("next") != 0 {
		t.Errorf("conditional edge should not contribute to indegree; got %d", tr.Indegree("next"))
	}
}

func TestDependencyTrackerSkippableMultiSourceEdge(t *testing.T) {
	d := &Diagram{
		ID: "d3",
		Nodes: map[NodeID]*Node{
			"s1":     {ID: "s1", Type: NodeStart},
			"s2":     {ID: "s2", Type: NodeStart},
			"target": {ID: "target", Type: NodeJob},
		},
		Edges: []Edge{
			{ID: "e1", From: "s1", To: "target", Skippable: true},
			{ID: "e2", From: "s2", To: "target"},
		},
	}
	tr := NewDependencyTracker(d)
	// target has two distinct sources, so the skippable edge from s1
	// does not count toward indegree; only s2's edge does.
	if tr.Indegree("target") != 1 {
		t.Errorf("Indegree(target) = %d, want 1", tr.Indegree("target"))
	}
}

func TestDependencyTrackerPriorityDependencies(t *testing.T) {
	d := &Diagram{
		ID: "d4",
		Nodes: map[NodeID]*Node{
			"src": {ID: "src", Type: NodeCondition},
			"hi":  {ID: "hi", Type: NodeJob},
			"lo":  {ID: "lo", Type: NodeJob},
		},
		Edges: []Edge{
			{ID: "e1", From: "src", To: "hi", ExecutionPriority: 10},
			{ID: "e2", From: "src", To: "lo", ExecutionPriority: 1},
		},
	}
	tr := NewDependencyTracker(d)
	deps := tr.PriorityDependencies("lo")
	if len(deps) != 1 || deps[0] != "hi" {
		t.Fatalf("PriorityDependencies(lo) = %v, want [hi]", deps)
	}
	if len(tr.PriorityDependencies("hi")) != 0 {
		t.Errorf("PriorityDependencies(hi) should be empty, got %v", tr.PriorityDependencies("hi"))
	}
}

func TestDependencyTrackerStats(t *testing.T) {
	tr := NewDependencyTracker(linearDiagram())
	tr.MarkCompleted("a")
	stats := tr.Stats()
	if stats.TotalNodes != 3 {
		t.Errorf("TotalNodes = %d, want 3", stats.TotalNodes)
	}
	if stats.ProcessedNodes != 1 {
		t.Errorf("ProcessedNodes = %d, want 1", stats.ProcessedNodes)
	}
}
