package handler

import (
	"context"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// fakeProvider is a deterministic llm.Provider test double: it echoes the
// conversation's last user message with a fixed prefix and reports a
// constant usage.
type fakeProvider struct {
	reply string
	err   error
	calls []llm.Completion
	seen  [][]core.ConversationMessage
}

func (f *fakeProvider) Complete(_ context.Context, conversation []core.ConversationMessage, _ []llm.ToolSpec) (llm.Completion, error) {
	f.seen = append(f.seen, conversation)
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	reply := f.reply
	if reply == "" {
		reply = "reply"
	}
	c := llm.Completion{Text: reply, Usage: core.LLMUsage{Input: 1, Output: 1, Total: 2}}
	f.calls = append(f.calls, c)
	return c, nil
}

var _ llm.Provider = (*fakeProvider)(nil)
