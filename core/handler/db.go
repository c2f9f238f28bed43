package handler

import (
	gocontext "context"
	"encoding/json"
	"os"

	"github.com/flowcore/engine/core"
)

// HandleDB is the handler for DB nodes. It supports two sub-types via
// node.Data["sub_type"]: "read" loads a JSON document from
// node.Data["path"] into the output envelope's JSON body; "write"
// serializes one bound input to that path (which one is not defined
// when several are bound). Both operations carry
// no LLM cost.
func HandleDB(_ gocontext.Context, node *core.Node, inputs map[string]core.Value, _ core.Snapshot) (core.Envelope, error) {
	path := dataString(node.Data, "path")
	subType := dataString(node.Data, "sub_type")
	if subType == "" {
		subType = "read"
	}

	switch subType {
	case "write":
		return handleDBWrite(node, path, inputs)
	default:
		return handleDBRead(node, path)
	}
}

func handleDBRead(node *core.Node, path string) (core.Envelope, error) {
	if path == "" {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "db node requires a path"}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrFatal, Message: "read db source", Cause: err}
	}
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentVariableInObject,
		Body:        core.EnvelopeBody{Kind: core.BodyJSON, JSON: json.RawMessage(raw)},
	}, nil
}

func handleDBWrite(node *core.Node, path string, inputs map[string]core.Value) (core.Envelope, error) {
	if path == "" {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "db node requires a path"}
	}
	var payload any
	for _, v := range inputs {
		payload = v.Any()
		break
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrFatal, Message: "marshal db payload", Cause: err}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrFatal, Message: "write db target", Cause: err}
	}
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentVariableInObject,
		Body:        core.EnvelopeBody{Kind: core.BodyJSON, JSON: json.RawMessage(raw)},
	}, nil
}
