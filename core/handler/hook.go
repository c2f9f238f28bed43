package handler

import (
	"bytes"
	gocontext "context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/flowcore/engine/core"
)

// HandleHook is the handler for Hook nodes: a callback to an external
// URL carrying the node's bound inputs as a JSON body. If
// node.Data["fire_and_forget"] is true, a transport error is swallowed
// and the node still succeeds with an empty body — useful for
// notification-only hooks that should never block the diagram.
func HandleHook(ctx gocontext.Context, node *core.Node, inputs map[string]core.Value, _ core.Snapshot) (core.Envelope, error) {
	url := dataString(node.Data, "url")
	if url == "" {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "hook node requires a url"}
	}
	fireAndForget, _ := node.Data["fire_and_forget"].(bool)

	payload := make(map[string]any, len(inputs))
	for k, v := range inputs {
		payload[k] = v.Any()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrFatal, Message: "marshal hook payload", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "build hook request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if fireAndForget {
			return emptyEnvelope(node), nil
		}
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrTransient, Message: "hook request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 && !fireAndForget {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrTransient, Message: "hook returned status " + resp.Status}
	}
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentRawText,
		Body:        core.EnvelopeBody{Kind: core.BodyText, Text: string(respBody)},
	}, nil
}

func emptyEnvelope(node *core.Node) core.Envelope {
	return core.Envelope{ProducedBy: node.ID, ContentType: core.ContentRawText, Body: core.EnvelopeBody{Kind: core.BodyText}}
}
