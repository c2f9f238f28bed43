package core

import (
	"container/heap"
	"fmt"
)

// DefaultMaxRequeueAttempts bounds how many times a node may be
// reconsidered while waiting on inputs before the execution aborts with a
// dependency-starvation error.
const DefaultMaxRequeueAttempts = 100

// DefaultIterationCap is the fallback loop bound used when a node does not
// specify node_max_iterations.
const DefaultIterationCap = 1

// ErrDependencyStarvation is returned by the Scheduler when a node's
// requeue count exceeds the configured maximum.
type ErrDependencyStarvation struct {
	NodeID NodeID
}

func (e *ErrDependencyStarvation) Error() string {
	return fmt.Sprintf("node %s exceeded max requeue attempts waiting on dependencies", e.NodeID)
}

// readyItem is one entry in the scheduler's ready queue.
type readyItem struct {
	node     NodeID
	priority int // -execution_priority of the edge that unblocked it
	seq      int // insertion order, tie-break
}

type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler decides which nodes are ready to run next. It owns the
// per-execution bookkeeping layered on top of a DependencyTracker:
// condition results, first-only consumption, requeue counts, and iteration
// caps.
type Scheduler struct {
	diagram *Diagram
	deps    *DependencyTracker

	conditionValues    map[NodeID]bool
	conditionEvaluated map[NodeID]bool
	firstOnlyConsumed  map[NodeID]bool
	requeueCount       map[NodeID]int
	nodeMaxIterations  map[NodeID]int
	droppedEdges       map[string]bool // edge ID -> permanently invalid this execution
	maxIterSkipped     map[NodeID]bool // node ID -> already emitted its one skipped_max_iter

	maxRequeueAttempts  int
	defaultIterationCap int

	queue readyHeap
	seq   int
	queued map[NodeID]bool // membership guard against double-enqueue
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*Scheduler)

// WithMaxRequeueAttempts overrides DefaultMaxRequeueAttempts.
func WithMaxRequeueAttempts(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxRequeueAttempts = n }
}

// WithDefaultIterationCap overrides DefaultIterationCap.
func WithDefaultIterationCap(n int) SchedulerOption {
	return func(s *Scheduler) { s.defaultIterationCap = n }
}

// NewScheduler builds a Scheduler over d, deriving node_max_iterations from
// each node's configured MaxIterations (falling back to the default cap).
func NewScheduler(d *Diagram, deps *DependencyTracker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		diagram:             d,
		deps:                deps,
		conditionValues:     make(map[NodeID]bool),
		conditionEvaluated:  make(map[NodeID]bool),
		firstOnlyConsumed:   make(map[NodeID]bool),
		requeueCount:        make(map[NodeID]int),
		nodeMaxIterations:   make(map[NodeID]int),
		droppedEdges:        make(map[string]bool),
		maxIterSkipped:      make(map[NodeID]bool),
		maxRequeueAttempts:  DefaultMaxRequeueAttempts,
		defaultIterationCap: DefaultIterationCap,
		queued:              make(map[NodeID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	for id, n := range d.Nodes {
		if n.MaxIterations > 0 {
			s.nodeMaxIterations[id] = n.MaxIterations
		} else {
			s.nodeMaxIterations[id] = s.defaultIterationCap
		}
	}
	return s
}

// Seed enqueues the dependency tracker's initial ready set (Start nodes).
func (s *Scheduler) Seed() {
	for _, id := range s.deps.InitialReady() {
		s.enqueue(id, 0)
	}
}

func (s *Scheduler) enqueue(n NodeID, priority int) {
	if s.queued[n] {
		return
	}
	s.queued[n] = true
	heap.Push(&s.queue, readyItem{node: n, priority: -priority, seq: s.seq})
	s.seq++
}

// Next pops the highest-priority ready node, or ok=false if the queue is
// empty.
func (s *Scheduler) Next() (NodeID, bool) {
	if s.queue.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&s.queue).(readyItem)
	delete(s.queued, item.node)
	return item.node, true
}

// Len reports how many nodes are currently ready.
func (s *Scheduler) Len() int { return s.queue.Len() }

// MaxIterations returns n's configured iteration cap.
func (s *Scheduler) MaxIterations(n NodeID) int { return s.nodeMaxIterations[n] }

// IterationCapExceeded reports whether n has already reached its iteration
// cap, given its current exec count.
func (s *Scheduler) IterationCapExceeded(n NodeID, execCount int) bool {
	return execCount >= s.nodeMaxIterations[n]
}

// MarkMaxIterSkipped flags n as having had its skipped_max_iter emitted,
// and reports whether this is the first time. A capped node can be
// offered as a candidate repeatedly (every neighbor that completes
// re-validates it), so callers use the return value to emit
// NODE_SKIPPED and propagate its completion exactly once rather than
// cascading the two permanently-capped nodes of a loop back and forth
// forever.
func (s *Scheduler) MarkMaxIterSkipped(n NodeID) bool {
	if s.maxIterSkipped[n] {
		return false
	}
	s.maxIterSkipped[n] = true
	return true
}

func (s *Scheduler) isConditionNode(n NodeID) bool {
	node, ok := s.diagram.Nodes[n]
	return ok && node.Type == NodeCondition
}

// RecordConditionResult stores c's boolean output, to be consulted when
// validating outgoing branch edges and incoming edges of c's targets.
func (s *Scheduler) RecordConditionResult(c NodeID, result bool) {
	s.conditionValues[c] = result
	s.conditionEvaluated[c] = true
}

// edgeValid determines whether e can currently be used to satisfy its
// target's readiness, per the spec's edge validation rules. ok=false with
// pending=true means the edge might still become valid later (requeue);
// ok=false with pending=false means it is permanently dropped this
// execution (wrong branch).
func (s *Scheduler) edgeValid(e Edge, ctx *ExecutionContext) (ok bool, pending bool) {
	if s.droppedEdges[e.ID] {
		return false, false
	}

	srcNode, srcKnown := s.diagram.Nodes[e.From]
	_, hasOutput := ctx.Output(e.From)
	isStart := srcKnown && srcNode.Type == NodeStart

	if e.IsConditional || e.Branch != "" {
		evaluated := s.conditionEvaluated[e.From]
		if !evaluated {
			return false, true
		}
		want := e.Branch == "true"
		if s.conditionValues[e.From] != want {
			s.droppedEdges[e.ID] = true
			return false, false
		}
		return true, false
	}

	if e.HandleMode == HandleFirstOnly && s.firstOnlyConsumed[e.To] {
		// Seed already consumed; the edge becomes inert but does not block.
		return true, false
	}

	if hasOutput || isStart {
		return true, false
	}
	return false, true
}

// readiness is the outcome of evaluating a node's incoming edges.
type readiness struct {
	ready      bool
	validEdges []Edge
	pending    bool // at least one dependency could still resolve later
}

// Evaluate determines whether n is ready to run right now, applying (in
// order) the iteration cap, Start-node, first-only-seed, and normal
// readiness rules.
func (s *Scheduler) Evaluate(n NodeID, ctx *ExecutionContext) readiness {
	node := s.diagram.Nodes[n]
	if node == nil {
		return readiness{}
	}

	if s.IterationCapExceeded(n, ctx.ExecCount(n)) {
		return readiness{}
	}

	if node.Type == NodeStart {
		return readiness{ready: true}
	}

	in := s.diagram.InEdges(n)

	if !s.firstOnlyConsumed[n] {
		var seedEdges []Edge
		for _, e := range in {
			if e.HandleMode != HandleFirstOnly {
				continue
			}
			if _, ok := ctx.Output(e.From); ok {
				seedEdges = append(seedEdges, e)
			}
		}
		if len(seedEdges) > 0 {
			return readiness{ready: true, validEdges: seedEdges}
		}
	}

	var valid []Edge
	anyPending := false
	for _, e := range in {
		ok, pending := s.edgeValid(e, ctx)
		if ok {
			valid = append(valid, e)
			continue
		}
		if pending {
			anyPending = true
		}
	}

	// Priority dependencies: sibling targets with higher edge priority from
	// a shared source must complete (or be skipped) first.
	for _, dep := range s.deps.PriorityDependencies(n) {
		if !s.siblingSatisfied(dep, ctx) {
			return readiness{pending: true}
		}
	}

	if len(in) == 0 {
		return readiness{ready: true}
	}
	if len(valid) == len(in) || (len(valid) > 0 && !anyPending) {
		return readiness{ready: len(valid) > 0, validEdges: valid}
	}
	return readiness{pending: anyPending}
}

func (s *Scheduler) siblingSatisfied(sibling NodeID, ctx *ExecutionContext) bool {
	if ns, ok := ctx.Output(sibling); ok {
		_ = ns
		return true
	}
	return ctx.ExecCount(sibling) > 0
}

// MarkFirstOnlyConsumed flags n as having consumed its first-only seed
// inputs. Per the resolved "once ever" reading of the source's ambiguous
// reset semantics (see design notes), this is never cleared, including
// across loop re-entry.
func (s *Scheduler) MarkFirstOnlyConsumed(n NodeID) {
	s.firstOnlyConsumed[n] = true
}

// Requeue records another wait cycle for n and reports whether the
// execution must abort with dependency starvation.
func (s *Scheduler) Requeue(n NodeID) error {
	s.requeueCount[n]++
	if s.requeueCount[n] > s.maxRequeueAttempts {
		return &ErrDependencyStarvation{NodeID: n}
	}
	s.enqueue(n, 0)
	return nil
}

// ResetRequeueCount clears n's requeue counter, e.g. after it successfully
// becomes ready.
func (s *Scheduler) ResetRequeueCount(n NodeID) {
	delete(s.requeueCount, n)
}

// OnNodeCompleted computes the next ready set after n finishes, applying
// conditional-branch traversal rules and first-only-seed unlocking, and
// enqueues each at the highest execution priority among its valid in-edges.
func (s *Scheduler) OnNodeCompleted(n NodeID, ctx *ExecutionContext) []NodeID {
	out := s.diagram.OutEdges(n)
	isCondition := s.isConditionNode(n)

	// The candidate set is built by directly re-evaluating every edge
	// traversed from n, not by relying solely on DependencyTracker's
	// indegree-reached-zero transition. Two reasons:
	//
	//  - Branch-labeled edges never contributed to indegree/dependents at
	//    construction (DependencyTracker skips them — "if e.IsConditional
	//    continue"), so MarkCompleted never reports a branch-matched
	//    target at all.
	//  - Even a plain edge's indegree-zero transition only ever fires
	//    once per edge, which is correct for a DAG but not for a node
	//    inside a cycle: once n's target has already been unblocked on an
	//    earlier loop iteration, MarkCompleted has nothing further to
	//    report for it, even though n just produced a fresh output the
	//    target needs to re-consume.
	//
	// Evaluate is the actual readiness authority (it re-checks every
	// incoming edge from scratch against current outputs/condition
	// state), so handing it every traversed target and letting it reject
	// the ones still missing other inputs is both correct and cheap.
	var candidates []NodeID
	for _, e := range out {
		if isCondition && e.Branch != "" {
			want := e.Branch == "true"
			if s.conditionValues[n] != want {
				s.droppedEdges[e.ID] = true
				continue
			}
		}
		candidates = append(candidates, e.To)
	}

	// MarkCompleted still runs for the tracker's own bookkeeping (stats,
	// and any dependent reachable only via a different already-completed
	// source); its result folds into the same candidate set.
	candidates = append(candidates, s.deps.MarkCompleted(n)...)

	var readyNow []NodeID
	seen := make(map[NodeID]bool)
	for _, cand := range candidates {
		if seen[cand] {
			continue
		}
		seen[cand] = true
		if s.IterationCapExceeded(cand, ctx.ExecCount(cand)) {
			// Evaluate would reject cand outright (cap check comes first),
			// so it would otherwise never be popped and never get its
			// skipped_max_iter emitted. Enqueue it anyway; the engine's
			// pop loop detects the cap and finalizes it via
			// MarkMaxIterSkipped, which bounds this to firing once.
			s.enqueue(cand, 0)
			readyNow = append(readyNow, cand)
			continue
		}
		r := s.Evaluate(cand, ctx)
		if r.ready {
			priority := maxPriority(r.validEdges)
			s.enqueue(cand, priority)
			s.ResetRequeueCount(cand)
			readyNow = append(readyNow, cand)
		}
	}

	return readyNow
}

func (s *Scheduler) SkipMaxIterations(n NodeID, ctx *ExecutionContext) []NodeID {
	return s.OnNodeCompleted(n, ctx)
}

func maxPriority(edges []Edge) int {
	max := 0
	for i, e := range edges {
		if i == 0 || e.ExecutionPriority > max {
			max = e.ExecutionPriority
		}
	}
	return max
}

// MarkFirstOnlyIfApplicable consumes n's first-only seed edges once its
// handler has actually run using them, given the edges it was dispatched
// with.
func (s *Scheduler) MarkFirstOnlyIfApplicable(n NodeID, usedEdges []Edge) {
	for _, e := range usedEdges {
		if e.HandleMode == HandleFirstOnly {
			s.MarkFirstOnlyConsumed(n)
			return
		}
	}
}
