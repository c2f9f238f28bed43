package handler

import (
	gocontext "context"
	"fmt"

	"github.com/flowcore/engine/core"
)

// HandleEndpoint is the handler for Endpoint nodes. It is terminal: the
// Engine stops the execution after an Endpoint completes. The handler
// simply forwards one bound input as the execution's final output (which
// one is not defined when several are bound).
func HandleEndpoint(_ gocontext.Context, node *core.Node, inputs map[string]core.Value, _ core.Snapshot) (core.Envelope, error) {
	for _, v := range inputs {
		return core.Envelope{
			ProducedBy:  node.ID,
			ContentType: core.ContentVariableInObject,
			Body:        core.EnvelopeBody{Kind: core.BodyText, Text: valueText(v)},
		}, nil
	}
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentRawText,
		Body:        core.EnvelopeBody{Kind: core.BodyText},
	}, nil
}

func valueText(v core.Value) string {
	if v.Kind == core.ValueString {
		return v.Str
	}
	if a := v.Any(); a != nil {
		if s, ok := a.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", a)
	}
	return ""
}
