package handler

import (
	gocontext "context"
	"fmt"

	"github.com/flowcore/engine/core"
)

// SubDiagramHandler executes SubDiagram nodes by recursively driving a
// nested diagram through the same Engine. The nested diagram is read
// from node.Data["diagram"] (a *core.Diagram); the node's bound inputs
// seed the nested execution's initial variables.
type SubDiagramHandler struct {
	engine *core.Engine
}

func NewSubDiagramHandler(engine *core.Engine) *SubDiagramHandler {
	return &SubDiagramHandler{engine: engine}
}

func (h *SubDiagramHandler) Handle(ctx gocontext.Context, node *core.Node, inputs map[string]core.Value, _ core.Snapshot) (core.Envelope, error) {
	nested, ok := node.Data["diagram"].(*core.Diagram)
	if !ok || nested == nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "sub_diagram node requires a diagram in its data"}
	}

	childExecutionID := fmt.Sprintf("%s/%s", nested.ID, node.ID)
	state, err := h.engine.Execute(ctx, childExecutionID, nested, inputs)
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrFatal, Message: "nested diagram execution failed", Cause: err}
	}
	if state.Status == core.StatusFailed {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrFatal, Message: "nested diagram failed: " + state.Error}
	}

	result := core.MapValue(state.Variables).Any()

	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentVariableInObject,
		Body:        core.EnvelopeBody{Kind: core.BodyText},
		Meta:        map[string]any{"variables": result, "usage": state.LLMUsage},
		LLMUsage:    &state.LLMUsage,
	}, nil
}
