// Package google adapts Google's Gemini API to the llm.Provider
// interface.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// Provider implements llm.Provider for Gemini models.
type Provider struct {
	apiKey    string
	modelName string
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
func New(apiKey, modelName string, opts ...Option) *Provider {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	p := &Provider{apiKey: apiKey, modelName: modelName}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Complete(ctx context.Context, conversation []core.ConversationMessage, tools []llm.ToolSpec) (llm.Completion, error) {
	if ctx.Err() != nil {
		return llm.Completion{}, ctx.Err()
	}
	if p.apiKey == "" {
		return llm.Completion{}, errors.New("google: API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return llm.Completion{}, fmt.Errorf("google: create client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(p.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertTools(tools)
	}

	system, parts := convertMessages(conversation)
	if system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return llm.Completion{}, translateError(err)
	}
	out := convertResponse(resp)
	p.costs.RecordLLMCall(p.modelName, out.Usage.Input, out.Usage.Output, "")
	return out, nil
}

func convertMessages(conversation []core.ConversationMessage) (string, []genai.Part) {
	var system string
	var parts []genai.Part
	for _, m := range conversation {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		if m.Content != "" {
			parts = append(parts, genai.Text(m.Content))
		}
	}
	return system, parts
}

func convertTools(tools []llm.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]any)
			if !ok {
				continue
			}
			propSchema := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				propSchema.Type = schemaType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				propSchema.Description = desc
			}
			properties[key] = propSchema
		}
		result.Properties = properties
	}
	if required, ok := schema["required"].([]string); ok {
		result.Required = required
	}
	return result
}

func schemaType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) llm.Completion {
	var out llm.Completion
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = core.LLMUsage{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
			Cached: int(resp.UsageMetadata.CachedContentTokenCount),
			Total:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

// BlockedError reports content blocked by Gemini's safety filters.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return "google: content blocked: " + e.Reason }

func translateError(err error) error {
	return &llm.ProviderError{Provider: "google", Category: "unknown", Message: err.Error(), Cause: err}
}
