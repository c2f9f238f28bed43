package handler

import (
	gocontext "context"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// PersonJobHandler executes PersonJob nodes: an LLM agent interaction
// that carries conversation memory forward. A conversation_state input
// (if bound) seeds the thread; the node's rendered prompt is appended as
// the newest user turn, and the provider's reply is appended in turn.
type PersonJobHandler struct {
	providers Providers
}

func NewPersonJobHandler(providers Providers) *PersonJobHandler {
	return &PersonJobHandler{providers: providers}
}

func (h *PersonJobHandler) Handle(ctx gocontext.Context, node *core.Node, inputs map[string]core.Value, snap core.Snapshot) (core.Envelope, error) {
	service := dataString(node.Data, "service")
	if service == "" {
		service = "anthropic"
	}
	provider, ok := h.providers.lookup(service)
	if !ok {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "no llm provider configured for service " + service}
	}

	conversation := conversationFromInputs(node, inputs)
	if system := dataString(node.Data, "system_prompt"); system != "" && !hasSystemTurn(conversation) {
		conversation = append([]core.ConversationMessage{{Role: llm.RoleSystem, Content: system}}, conversation...)
	}

	prompt := renderTemplate(dataString(node.Data, "prompt"), snap.Variables, inputs)
	if prompt != "" {
		conversation = append(conversation, core.ConversationMessage{Role: llm.RoleUser, Content: prompt})
	}

	completion, err := provider.Complete(ctx, conversation, nil)
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrTransient, Message: "personjob llm call failed", Cause: err}
	}
	conversation = append(conversation, core.ConversationMessage{Role: llm.RoleAssistant, Content: completion.Text})

	usage := completion.Usage
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentConversationState,
		Body:        core.EnvelopeBody{Kind: core.BodyConversation, Conversation: conversation, Text: completion.Text},
		LLMUsage:    &usage,
	}, nil
}

func conversationFromInputs(node *core.Node, inputs map[string]core.Value) []core.ConversationMessage {
	name := node.ID
	_ = name
	for _, v := range inputs {
		if v.Kind == core.ValueList {
			msgs := make([]core.ConversationMessage, 0, len(v.List))
			for _, item := range v.List {
				if item.Kind != core.ValueMap {
					continue
				}
				role, _ := item.Map["role"]
				content, _ := item.Map["content"]
				msgs = append(msgs, core.ConversationMessage{Role: role.Str, Content: content.Str})
			}
			if len(msgs) > 0 {
				return msgs
			}
		}
	}
	return nil
}

func hasSystemTurn(conversation []core.ConversationMessage) bool {
	for _, m := range conversation {
		if m.Role == llm.RoleSystem {
			return true
		}
	}
	return false
}
