// Package openai adapts the OpenAI chat completions API to the
// llm.Provider interface, with retry on transient failures.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// Provider implements llm.Provider for OpenAI chat models.
type Provider struct {
	modelName  string
	client     openaisdk.Client
	maxRetries int
	retryDelay time.Duration
	costs      *llm.CostTracker
}

// Option configures a Provider at construction.
type Option func(*Provider)

// WithCostTracker attributes every completion's token usage to tracker
// under this provider's model name.
func WithCostTracker(tracker *llm.CostTracker) Option {
	return func(p *Provider) { p.costs = tracker }
}

// New returns a Provider for modelName ("" selects a current default).
// apiKey is read by the SDK from OPENAI_API_KEY if empty.
func New(apiKey, modelName string, opts ...Option) *Provider {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	var reqOpts []option.RequestOption
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	p := &Provider{
		modelName:  modelName,
		client:     openaisdk.NewClient(reqOpts...),
		maxRetries: 3,
		retryDelay: time.Second,
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

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		out, err := p.complete(ctx, conversation, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransient(err) {
			return llm.Completion{}, err
		}
		if attempt >= p.maxRetries {
			break
		}

		delay := p.retryDelay
		if isRateLimit(err) {
			delay = p.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.Completion{}, ctx.Err()
		}
	}
	return llm.Completion{}, fmt.Errorf("openai: failed after %d retries: %w", p.maxRetries, lastErr)
}

func (p *Provider) complete(ctx context.Context, conversation []core.ConversationMessage, tools []llm.ToolSpec) (llm.Completion, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(p.modelName),
		Messages: convertMessages(conversation),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Completion{}, translateError(err)
	}
	out := convertResponse(resp)
	p.costs.RecordLLMCall(p.modelName, out.Usage.Input, out.Usage.Output, "")
	return out, nil
}

func convertMessages(conversation []core.ConversationMessage) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(conversation))
	for i, m := range conversation {
		switch m.Role {
		case llm.RoleSystem:
			out[i] = openaisdk.SystemMessage(m.Content)
		case llm.RoleAssistant:
			out[i] = openaisdk.AssistantMessage(m.Content)
		default:
			out[i] = openaisdk.UserMessage(m.Content)
		}
	}
	return out
}

func convertTools(tools []llm.ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return out
}

func convertResponse(resp *openaisdk.ChatCompletion) llm.Completion {
	var out llm.Completion
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]llm.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = llm.ToolCall{
				Name:  tc.Function.Name,
				Input: parseToolArguments(tc.Function.Arguments),
			}
		}
	}
	out.Usage = core.LLMUsage{
		Input:  int(resp.Usage.PromptTokens),
		Output: int(resp.Usage.CompletionTokens),
		Cached: int(resp.Usage.PromptTokensDetails.CachedTokens),
		Total:  int(resp.Usage.TotalTokens),
	}
	return out
}

func parseToolArguments(jsonStr string) map[string]any {
	if jsonStr == "" {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]any{"_raw": jsonStr}
	}
	return result
}

func translateError(err error) error {
	return &llm.ProviderError{
		Provider: "openai",
		Category: classify(err),
		Message:  err.Error(),
		Cause:    err,
	}
}

func classify(err error) string {
	if isRateLimit(err) {
		return "rate_limit"
	}
	if isTransient(err) {
		return "overloaded"
	}
	return "invalid_request"
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return true
		}
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "503", "502", "500"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func isRateLimit(err error) bool {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}
