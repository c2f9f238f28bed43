package core

import (
	gocontext "context"
	"sync"
	"testing"
)

// memStore is a minimal in-memory Store fake for exercising the Engine
// without pulling in core/store's cache/persistence machinery.
type memStore struct {
	mu    sync.Mutex
	state map[string]*ExecutionState
}

func newMemStore() *memStore {
	return &memStore{state: make(map[string]*ExecutionState)}
}

func (m *memStore) GetState(_ gocontext.Context, id string) (*ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *memStore) SaveState(_ gocontext.Context, state *ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[state.ExecutionID] = state
	return nil
}

func (m *memStore) UpdateNodeStatus(_ gocontext.Context, id string, node NodeID, status NodeRunStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[id]
	if !ok {
		return nil
	}
	ns, ok := s.NodeStates[node]
	if !ok {
		ns = &NodeState{}
		s.NodeStates[node] = ns
	}
	ns.Status = status
	ns.Error = errMsg
	return nil
}

func (m *memStore) UpdateNodeOutput(_ gocontext.Context, id string, node NodeID, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[id]
	if !ok {
		return nil
	}
	s.NodeOutputs[node] = env
	s.ExecCounts[node]++
	s.ExecutedNodes = append(s.ExecutedNodes, node)
	return nil
}

func (m *memStore) UpdateVariables(_ gocontext.Context, id string, vars map[string]Value) error {
	return nil
}

func (m *memStore) AddLLMUsage(_ gocontext.Context, id string, usage LLMUsage) error {
	return nil
}

func (m *memStore) ApplyEvent(_ gocontext.Context, e Event) error { return nil }

func (m *memStore) Finalize(_ gocontext.Context, id string, status ExecutionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[id]; ok {
		s.Status = status
		s.Error = errMsg
	}
	return nil
}

var _ Store = (*memStore)(nil)

func startJobEndpointDiagram() *Diagram {
	return &Diagram{
		ID: "e2e-linear",
		Nodes: map[NodeID]*Node{
			"start": {ID: "start", Type: NodeStart},
			"job":   {ID: "job", Type: NodeJob},
			"end":   {ID: "end", Type: NodeEndpoint},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "job", ContentType: ContentRawText, VariableName: "text"},
			{ID: "e2", From: "job", To: "end", ContentType: ContentRawText, VariableName: "text"},
		},
	}
}

func echoHandler() HandlerFunc {
	return func(ctx gocontext.Context, node *Node, inputs map[string]Value, snap Snapshot) (Envelope, error) {
		text := ""
		if v, ok := inputs["text"]; ok {
			text = v.Str
		}
		return Envelope{Body: EnvelopeBody{Kind: BodyText, Text: text}}, nil
	}
}

func TestEngineExecuteLinearReachesEndpoint(t *testing.T) {
	d := NewDispatcher()
	d.Register(NodeStart, echoHandler())
	d.Register(NodeJob, echoHandler())
	d.Register(NodeEndpoint, echoHandler())

	eng := New(d, newMemStore(), nil)
	state, err := eng.Execute(gocontext.Background(), "exec-1", startJobEndpointDiagram(), map[string]Value{
		"greeting": StringValue("hi"),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("Status = %v, want StatusCompleted", state.Status)
	}
	if len(state.ExecutedNodes) != 3 {
		t.Errorf("ExecutedNodes = %v, want 3 entries", state.ExecutedNodes)
	}
}

func TestEngineFailFastOnHandlerError(t *testing.T) {
	d := NewDispatcher()
	d.Register(NodeStart, echoHandler())
	d.Register(NodeJob, HandlerFunc(func(ctx gocontext.Context, node *Node, inputs map[string]Value, snap Snapshot) (Envelope, error) {
		return Envelope{}, &NodeHandlerError{NodeID: node.ID, Kind: ErrFatal, Message: "boom"}
	}))
	d.Register(NodeEndpoint, echoHandler())

	eng := New(d, newMemStore(), nil)
	state, err := eng.Execute(gocontext.Background(), "exec-2", startJobEndpointDiagram(), nil)
	if err != nil {
		t.Fatalf("Execute returned Go error, want reported state: %v", err)
	}
	if state.Status != StatusFailed {
		t.Fatalf("Status = %v, want StatusFailed", state.Status)
	}
}

func TestEngineContinueOnErrorSkipsNode(t *testing.T) {
	d := NewDispatcher()
	d.Register(NodeStart, echoHandler())
	d.Register(NodeJob, HandlerFunc(func(ctx gocontext.Context, node *Node, inputs map[string]Value, snap Snapshot) (Envelope, error) {
		return Envelope{}, &NodeHandlerError{NodeID: node.ID, Kind: ErrFatal, Message: "boom"}
	}))
	d.Register(NodeEndpoint, echoHandler())

	diagram := startJobEndpointDiagram()
	diagram.Nodes["job"].Policy = &NodePolicy{ContinueOnError: true}

	eng := New(d, newMemStore(), nil)
	state, err := eng.Execute(gocontext.Background(), "exec-3", diagram, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// job is skipped (its only in-edge is from start, which produced
	// output, so job itself runs and errors; end never becomes ready
	// since job produced no output) so the run terminates without
	// reaching Endpoint, but without a Go error and without FAILED status.
	if state.Status == StatusFailed {
		t.Errorf("Status = %v, want non-failed with ContinueOnError set", state.Status)
	}
}

func TestEngineConditionBranchSelection(t *testing.T) {
	d := NewDispatcher()
	d.Register(NodeStart, echoHandler())
	d.Register(NodeCondition, HandlerFunc(func(ctx gocontext.Context, node *Node, inputs map[string]Value, snap Snapshot) (Envelope, error) {
		return Envelope{Body: EnvelopeBody{Kind: BodyText, Text: "true"}}, nil
	}))
	d.Register(NodeJob, echoHandler())
	d.Register(NodeEndpoint, echoHandler())

	diagram := &Diagram{
		ID: "e2e-branch",
		Nodes: map[NodeID]*Node{
			"start": {ID: "start", Type: NodeStart},
			"cond":  {ID: "cond", Type: NodeCondition},
			"yes":   {ID: "yes", Type: NodeJob},
			"no":    {ID: "no", Type: NodeJob},
			"end":   {ID: "end", Type: NodeEndpoint},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "cond"},
			{ID: "e2", From: "cond", To: "yes", IsConditional: true, Branch: "true"},
			{ID: "e3", From: "cond", To: "no", IsConditional: true, Branch: "false"},
			{ID: "e4", From: "yes", To: "end", ContentType: ContentRawText, VariableName: "text"},
			{ID: "e5", From: "no", To: "end", ContentType: ContentRawText, VariableName: "text"},
		},
	}

	eng := New(d, newMemStore(), nil)
	state, err := eng.Execute(gocontext.Background(), "exec-4", diagram, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("Status = %v, want StatusCompleted", state.Status)
	}
	for _, n := range state.ExecutedNodes {
		if n == "no" {
			t.Errorf("false branch node executed, want only true branch taken")
		}
	}
}

// recordingSink collects every emitted event for assertions, in place of a
// real Emitter (core/emit).
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(typ EventType, node NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ && e.Scope.NodeID == node {
			n++
		}
	}
	return n
}

// TestEngineLoopReentryThroughConditionRespectsIterationCap is the S4
// scenario from spec.md §8: start -> loop(max_iterations=3) -> cond, with
// cond's false branch routing back to loop. cond always evaluates false.
// Regression test for two related bugs: a Condition's matched branch
// target was never re-added to the scheduler's ready set once already
// dispatched (DependencyTracker never populates dependents/indegree for
// branch-labeled edges), and even a plain edge's indegree-zero transition
// only ever fires once, which would still have stalled re-entry on the
// second loop pass. Also exercises the iteration cap being hit exactly
// once (not oscillating between loop and cond, both capped at 3).
func TestEngineLoopReentryThroughConditionRespectsIterationCap(t *testing.T) {
	d := NewDispatcher()
	d.Register(NodeStart, echoHandler())
	d.Register(NodeJob, echoHandler())
	d.Register(NodeCondition, HandlerFunc(func(ctx gocontext.Context, node *Node, inputs map[string]Value, snap Snapshot) (Envelope, error) {
		return Envelope{Body: EnvelopeBody{Kind: BodyText, Text: "false"}}, nil
	}))

	diagram := &Diagram{
		ID: "e2e-loop",
		Nodes: map[NodeID]*Node{
			"start": {ID: "start", Type: NodeStart},
			"loop":  {ID: "loop", Type: NodeJob, MaxIterations: 3},
			"cond":  {ID: "cond", Type: NodeCondition, MaxIterations: 3},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "loop"},
			{ID: "e2", From: "loop", To: "cond"},
			{ID: "e3", From: "cond", To: "loop", IsConditional: true, Branch: "false"},
		},
	}

	sink := &recordingSink{}
	eng := New(d, newMemStore(), sink)
	state, err := eng.Execute(gocontext.Background(), "exec-6", diagram, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("Status = %v, want StatusCompleted", state.Status)
	}
	if got := state.ExecCounts["loop"]; got != 3 {
		t.Fatalf("ExecCounts[loop] = %d, want 3 (the iteration cap)", got)
	}
	if n := sink.count(EventNodeSkipped, "loop"); n != 1 {
		t.Fatalf("NODE_SKIPPED events for loop = %d, want exactly 1", n)
	}
}

func TestEngineDependencyStarvationAborts(t *testing.T) {
	d := NewDispatcher()
	d.Register(NodeStart, echoHandler())
	d.Register(NodeJob, echoHandler())

	// lo has a priority dependency on hi (both fed by start, hi at higher
	// priority). hi also waits on blocker, which never completes because
	// blocker and blocker2 form an unbreakable indegree-1 cycle, so hi
	// never runs and lo's priority dependency is never satisfied: lo sits
	// pending until its requeue budget is exhausted.
	diagram := &Diagram{
		ID: "starve",
		Nodes: map[NodeID]*Node{
			"start":    {ID: "start", Type: NodeStart},
			"blocker":  {ID: "blocker", Type: NodeJob},
			"blocker2": {ID: "blocker2", Type: NodeJob},
			"hi":       {ID: "hi", Type: NodeJob},
			"lo":       {ID: "lo", Type: NodeJob},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "hi", ExecutionPriority: 10},
			{ID: "e2", From: "start", To: "lo", ExecutionPriority: 1},
			{ID: "e3", From: "blocker", To: "hi"},
			{ID: "e4", From: "blocker", To: "blocker2"},
			{ID: "e5", From: "blocker2", To: "blocker"},
		},
	}

	eng := New(d, newMemStore(), nil, WithEngineMaxRequeueAttempts(1))
	state, err := eng.Execute(gocontext.Background(), "exec-5", diagram, nil)
	if err == nil {
		t.Fatal("expected a dependency starvation error")
	}
	if state.Status != StatusFailed {
		t.Fatalf("Status = %v, want StatusFailed on dependency starvation", state.Status)
	}
}
