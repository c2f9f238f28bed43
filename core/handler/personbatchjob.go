package handler

import (
	gocontext "context"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// PersonBatchJobHandler executes PersonBatchJob nodes: the same prompt is
// run once per item of a bound list input, each call independent (no
// memory carried between items), and the replies collected as a list in
// the output envelope's Meta["results"]; the envelope body is empty text.
type PersonBatchJobHandler struct {
	providers Providers
}

func NewPersonBatchJobHandler(providers Providers) *PersonBatchJobHandler {
	return &PersonBatchJobHandler{providers: providers}
}

func (h *PersonBatchJobHandler) Handle(ctx gocontext.Context, node *core.Node, inputs map[string]core.Value, snap core.Snapshot) (core.Envelope, error) {
	service := dataString(node.Data, "service")
	if service == "" {
		service = "anthropic"
	}
	provider, ok := h.providers.lookup(service)
	if !ok {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "no llm provider configured for service " + service}
	}

	items := batchItems(inputs)
	promptTemplate := dataString(node.Data, "prompt")
	systemPrompt := dataString(node.Data, "system_prompt")

	results := make([]core.Value, 0, len(items))
	var total core.LLMUsage
	for _, item := range items {
		itemInputs := map[string]core.Value{"item": item}
		for k, v := range inputs {
			itemInputs[k] = v
		}
		conversation := make([]core.ConversationMessage, 0, 2)
		if systemPrompt != "" {
			conversation = append(conversation, core.ConversationMessage{Role: llm.RoleSystem, Content: systemPrompt})
		}
		conversation = append(conversation, core.ConversationMessage{Role: llm.RoleUser, Content: renderTemplate(promptTemplate, snap.Variables, itemInputs)})

		completion, err := provider.Complete(ctx, conversation, nil)
		if err != nil {
			return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrTransient, Message: "person_batch_job llm call failed", Cause: err}
		}
		results = append(results, core.StringValue(completion.Text))
		total = total.Add(completion.Usage)
	}

	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentVariableInObject,
		Body:        core.EnvelopeBody{Kind: core.BodyText},
		LLMUsage:    &total,
		Meta:        map[string]any{"results": core.ListValue(results).Any()},
	}, nil
}

func batchItems(inputs map[string]core.Value) []core.Value {
	if v, ok := inputs["items"]; ok && v.Kind == core.ValueList {
		return v.List
	}
	for _, v := range inputs {
		if v.Kind == core.ValueList {
			return v.List
		}
	}
	return nil
}
