package handler

import (
	gocontext "context"
	"strings"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// JobHandler executes Job nodes: a stateless, memory-free LLM call
// driven by a prompt template, with no conversation carried across
// invocations. A Job node with no configured prompt is a passthrough
// that forwards one of its inputs as text (which one is not defined when
// several are bound).
type JobHandler struct {
	providers Providers
}

func NewJobHandler(providers Providers) *JobHandler {
	return &JobHandler{providers: providers}
}

func (h *JobHandler) Handle(ctx gocontext.Context, node *core.Node, inputs map[string]core.Value, snap core.Snapshot) (core.Envelope, error) {
	prompt := dataString(node.Data, "prompt")
	if prompt == "" {
		return passthroughEnvelope(node, inputs), nil
	}

	service := dataString(node.Data, "service")
	if service == "" {
		service = "openai"
	}
	provider, ok := h.providers.lookup(service)
	if !ok {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrValidation, Message: "no llm provider configured for service " + service}
	}

	rendered := renderTemplate(prompt, snap.Variables, inputs)
	completion, err := provider.Complete(ctx, []core.ConversationMessage{{Role: llm.RoleUser, Content: rendered}}, nil)
	if err != nil {
		return core.Envelope{}, &core.NodeHandlerError{NodeID: node.ID, Kind: core.ErrTransient, Message: "job llm call failed", Cause: err}
	}

	usage := completion.Usage
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentRawText,
		Body:        core.EnvelopeBody{Kind: core.BodyText, Text: completion.Text},
		LLMUsage:    &usage,
	}, nil
}

func passthroughEnvelope(node *core.Node, inputs map[string]core.Value) core.Envelope {
	for _, v := range inputs {
		return core.Envelope{
			ProducedBy:  node.ID,
			ContentType: core.ContentRawText,
			Body:        core.EnvelopeBody{Kind: core.BodyText, Text: valueText(v)},
		}
	}
	return core.Envelope{ProducedBy: node.ID, ContentType: core.ContentRawText, Body: core.EnvelopeBody{Kind: core.BodyText}}
}

// renderTemplate does "{{name}}" substitution against variables, falling
// back to inputs, leaving unresolved placeholders untouched.
func renderTemplate(tmpl string, vars map[string]core.Value, inputs map[string]core.Value) string {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		start += i
		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		end += start
		b.WriteString(tmpl[i:start])
		name := strings.TrimSpace(tmpl[start+2 : end])
		if v, ok := vars[name]; ok {
			b.WriteString(valueText(v))
		} else if v, ok := inputs[name]; ok {
			b.WriteString(valueText(v))
		} else {
			b.WriteString(tmpl[start : end+2])
		}
		i = end + 2
	}
	return b.String()
}
