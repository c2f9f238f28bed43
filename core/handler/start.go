package handler

import (
	gocontext "context"

	"github.com/flowcore/engine/core"
)

// HandleStart is the handler for Start nodes. A Start node has no real
// inputs; it seeds downstream edges with either its configured
// "initial_text" data field or an empty text body.
func HandleStart(_ gocontext.Context, node *core.Node, _ map[string]core.Value, _ core.Snapshot) (core.Envelope, error) {
	text := dataString(node.Data, "initial_text")
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentRawText,
		Body:        core.EnvelopeBody{Kind: core.BodyText, Text: text},
	}, nil
}
