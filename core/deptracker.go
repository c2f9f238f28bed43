package core

import "sort"

// DependencyTracker precomputes indegree, dependents, and priority
// dependencies from a resolved diagram so the Scheduler can answer
// readiness questions in constant time and propagate completions in time
// proportional to out-degree.
type DependencyTracker struct {
	indegree            map[NodeID]int
	dependents          map[NodeID][]NodeID
	priorityDependencies map[NodeID][]NodeID // target -> targets that must complete first
	processed           map[NodeID]bool
}

// NewDependencyTracker builds the tracker's fixed bookkeeping from d. It
// does not mutate d.
func NewDependencyTracker(d *Diagram) *DependencyTracker {
	t := &DependencyTracker{
		indegree:             make(map[NodeID]int, len(d.Nodes)),
		dependents:           make(map[NodeID][]NodeID),
		priorityDependencies: make(map[NodeID][]NodeID),
		processed:            make(map[NodeID]bool),
	}
	for id := range d.Nodes {
		t.indegree[id] = 0
	}

	distinctSources := make(map[NodeID]map[NodeID]bool)
	for _, e := range d.Edges {
		if distinctSources[e.To] == nil {
			distinctSources[e.To] = make(map[NodeID]bool)
		}
		distinctSources[e.To][e.From] = true
	}

	for _, e := range d.Edges {
		if e.IsConditional {
			continue
		}
		if e.Skippable && len(distinctSources[e.To]) > 1 {
			continue
		}
		t.indegree[e.To]++
		t.dependents[e.From] = append(t.dependents[e.From], e.To)
	}

	t.buildPriorityDependencies(d)
	return t
}

// buildPriorityDependencies sorts each source's outgoing edges by
// ExecutionPriority descending and records, for every pair (higher, lower),
// that lower's target cannot run before higher's target has completed.
func (t *DependencyTracker) buildPriorityDependencies(d *Diagram) {
	bySource := make(map[NodeID][]Edge)
	for _, e := range d.Edges {
		bySource[e.From] = append(bySource[e.From], e)
	}
	for _, edges := range bySource {
		if len(edges) < 2 {
			continue
		}
		sorted := append([]Edge(nil), edges...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ExecutionPriority > sorted[j].ExecutionPriority
		})
		for i := 0; i < len(sorted); i++ {
			higher := sorted[i].To
			for j := i + 1; j < len(sorted); j++ {
				lower := sorted[j].To
				if sorted[j].ExecutionPriority == sorted[i].ExecutionPriority {
					continue
				}
				if lower == higher {
					continue
				}
				t.priorityDependencies[lower] = appendUnique(t.priorityDependencies[lower], higher)
			}
		}
	}
}

func appendUnique(list []NodeID, v NodeID) []NodeID {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// InitialReady returns nodes with indegree zero, stable-sorted by NodeID for
// deterministic iteration.
func (t *DependencyTracker) InitialReady() []NodeID {
	var ready []NodeID
	for id, deg := range t.indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

// MarkCompleted decrements the indegree of every dependent of n and returns
// those that reach zero. Marking the same node twice is a no-op and returns
// an empty set the second time.
func (t *DependencyTracker) MarkCompleted(n NodeID) []NodeID {
	if t.processed[n] {
		return nil
	}
	t.processed[n] = true

	var unblocked []NodeID
	for _, dep := range t.dependents[n] {
		t.indegree[dep]--
		if t.indegree[dep] == 0 {
			unblocked = append(unblocked, dep)
		}
	}
	return unblocked
}

// Indegree returns the current (possibly decremented) indegree of n.
func (t *DependencyTracker) Indegree(n NodeID) int { return t.indegree[n] }

// Dependents returns the nodes unblocked (partially) by n's completion.
func (t *DependencyTracker) Dependents(n NodeID) []NodeID { return t.dependents[n] }

// PriorityDependencies returns the sibling targets that must complete
// before n may run, induced by shared-source edge priority.
func (t *DependencyTracker) PriorityDependencies(n NodeID) []NodeID {
	return t.priorityDependencies[n]
}

// DependencyStats summarizes tracker state for observability.
type DependencyStats struct {
	TotalNodes      int
	ReadyNodes      int
	ProcessedNodes  int
	PriorityEdges   int
}

// Stats reports aggregate counts.
func (t *DependencyTracker) Stats() DependencyStats {
	ready := 0
	for _, deg := range t.indegree {
		if deg == 0 {
			ready++
		}
	}
	priorityEdges := 0
	for _, v := range t.priorityDependencies {
		priorityEdges += len(v)
	}
	return DependencyStats{
		TotalNodes:     len(t.indegree),
		ReadyNodes:     ready,
		ProcessedNodes: len(t.processed),
		PriorityEdges:  priorityEdges,
	}
}
