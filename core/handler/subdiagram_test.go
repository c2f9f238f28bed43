package handler

import (
	gocontext "context"
	"sync"
	"testing"

	"github.com/flowcore/engine/core"
)

// fakeStore is a minimal in-memory core.Store used only to drive a nested
// Engine.Execute call from within a SubDiagram handler test.
type fakeStore struct {
	mu    sync.Mutex
	state map[string]*core.ExecutionState
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: make(map[string]*core.ExecutionState)}
}

func (s *fakeStore) GetState(_ gocontext.Context, id string) (*core.ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[id], nil
}

func (s *fakeStore) SaveState(_ gocontext.Context, state *core.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[state.ExecutionID] = state
	return nil
}

func (s *fakeStore) UpdateNodeStatus(gocontext.Context, string, core.NodeID, core.NodeRunStatus, string) error {
	return nil
}

func (s *fakeStore) UpdateNodeOutput(gocontext.Context, string, core.NodeID, core.Envelope) error {
	return nil
}

func (s *fakeStore) UpdateVariables(gocontext.Context, string, map[string]core.Value) error {
	return nil
}

func (s *fakeStore) AddLLMUsage(gocontext.Context, string, core.LLMUsage) error { return nil }

func (s *fakeStore) ApplyEvent(gocontext.Context, core.Event) error { return nil }

func (s *fakeStore) Finalize(_ gocontext.Context, id string, status core.ExecutionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[id]; ok {
		st.Status = status
		st.Error = errMsg
	}
	return nil
}

var _ core.Store = (*fakeStore)(nil)

func echoHandlerFunc() core.HandlerFunc {
	return func(_ gocontext.Context, node *core.Node, inputs map[string]core.Value, _ core.Snapshot) (core.Envelope, error) {
		text := ""
		if v, ok := inputs["text"]; ok {
			text = v.Str
		}
		return core.Envelope{Body: core.EnvelopeBody{Kind: core.BodyText, Text: text}}, nil
	}
}

func TestSubDiagramHandlerExecutesNested(t *testing.T) {
	d := core.NewDispatcher()
	d.Register(core.NodeStart, echoHandlerFunc())
	d.Register(core.NodeEndpoint, echoHandlerFunc())
	engine := core.New(d, newFakeStore(), nil)

	nested := &core.Diagram{
		ID: "nested",
		Nodes: map[core.NodeID]*core.Node{
			"start": {ID: "start", Type: core.NodeStart, Data: map[string]any{"initial_text": "child result"}},
			"end":   {ID: "end", Type: core.NodeEndpoint},
		},
		Edges: []core.Edge{
			{ID: "e1", From: "start", To: "end", ContentType: core.ContentRawText, VariableName: "text"},
		},
	}

	h := NewSubDiagramHandler(engine)
	node := &core.Node{ID: "sub1", Data: map[string]any{"diagram": nested}}

	env, err := h.Handle(gocontext.Background(), node, map[string]core.Value{}, core.Snapshot{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if env.Meta["variables"] == nil {
		t.Error("expected nested execution's variables in Meta")
	}
}

func TestSubDiagramHandlerMissingDiagramIsValidationError(t *testing.T) {
	h := NewSubDiagramHandler(nil)
	node := &core.Node{ID: "sub1", Data: map[string]any{}}
	_, err := h.Handle(gocontext.Background(), node, nil, core.Snapshot{})
	if err == nil {
		t.Fatal("expected validation error when node.Data has no diagram")
	}
}
