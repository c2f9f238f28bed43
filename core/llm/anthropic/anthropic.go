// Package anthropic adapts Anthropic's Claude API to the llm.Provider
// interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// Provider implements llm.Provider for Claude models.
type Provider struct {
	modelName string
	client    anthropicsdk.Client
	costs     *llm.CostTracker
}

// Option configures a Provider at construction.
type Option func(*Provider)

// WithCostTracker attributes every completion's token usage to tracker
// under this provider's model name.
func WithCostTracker(tracker *llm.CostTracker) Option {
	return func(p *Provider) { p.costs = tracker }
}

// New returns a Provider for modelName ("" selects a current default).
// apiKey is read by the SDK from ANTHROPIC_API_KEY if empty.
func New(apiKey, modelName string, opts ...Option) *Provider {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	var reqOpts []option.RequestOption
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	p := &Provider{
		modelName: modelName,
		client:    anthropicsdk.NewClient(reqOpts...),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Complete(ctx context.Context, conversation []core.ConversationMessage, tools []llm.ToolSpec) (llm.Completion, error) {
	if ctx.Err() != nil {
		return llm.Completion{}, ctx.Err()
	}

	systemPrompt, turns := extractSystem(conversation)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.modelName),
		Messages:  convertMessages(turns),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Completion{}, translateError(err)
	}

	out := convertResponse(resp)
	p.costs.RecordLLMCall(p.modelName, out.Usage.Input, out.Usage.Output, "")
	return out, nil
}

func extractSystem(conversation []core.ConversationMessage) (string, []core.ConversationMessage) {
	var system string
	var turns []core.ConversationMessage
	for _, m := range conversation {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}

func convertMessages(turns []core.ConversationMessage) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(turns))
	for i, m := range turns {
		switch m.Role {
		case llm.RoleAssistant:
			out[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content))
		default:
			out[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content))
		}
	}
	return out
}

func convertTools(tools []llm.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := t.Schema["required"].([]string); ok {
				required = req
			}
		}
		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}
	}
	return out
}

func convertResponse(resp *anthropicsdk.Message) llm.Completion {
	var out llm.Completion
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name:  b.Name,
				Input: toInputMap(b.Input),
			})
		}
	}
	out.Usage = core.LLMUsage{
		Input:  int(resp.Usage.InputTokens),
		Output: int(resp.Usage.OutputTokens),
		Cached: int(resp.Usage.CacheReadInputTokens),
		Total:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out
}

func toInputMap(input any) map[string]any {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	return map[string]any{"_raw": input}
}

func translateError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{
			Provider: "anthropic",
			Category: classify(apiErr.StatusCode),
			Message:  apiErr.Error(),
			Cause:    err,
		}
	}
	return &llm.ProviderError{Provider: "anthropic", Category: "unknown", Message: fmt.Sprintf("%v", err), Cause: err}
}

func classify(status int) string {
	switch {
	case status == 401 || status == 403:
		return "auth"
	case status == 429:
		return "rate_limit"
	case status == 529:
		return "overloaded"
	case status >= 400 && status < 500:
		return "invalid_request"
	default:
		return "unknown"
	}
}
