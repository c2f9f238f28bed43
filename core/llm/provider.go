// Package llm abstracts the chat-completion providers that PersonJob and
// PersonBatchJob node handlers call into.
package llm

import (
	"context"

	"github.com/flowcore/engine/core"
)

// Provider is the common interface implemented by each LLM backend
// adapter (anthropic, openai, google). It mirrors the provider's own
// wire format as little as possible: callers pass a threaded
// conversation and get back text plus token accounting.
type Provider interface {
	// Complete sends conversation (oldest message first; a leading
	// RoleSystem message is treated as a system prompt where the
	// provider supports one) and returns the assistant's reply text
	// plus usage. tools may be nil.
	Complete(ctx context.Context, conversation []core.ConversationMessage, tools []ToolSpec) (Completion, error)
}

// Standard role names, shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool an LLM may invoke.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// Completion is a provider's response to Complete.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     core.LLMUsage
}

// ProviderError wraps a provider-specific failure with a common
// category so handler retry policy can classify it without importing
// each provider's SDK error types.
type ProviderError struct {
	Provider string
	Category string // "auth", "rate_limit", "overloaded", "invalid_request", "unknown"
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + " " + e.Category + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + " " + e.Category + ": " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }
