package core

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	usage := LLMUsage{Input: 10, Output: 5, Cached: 2, Total: 15}
	original := Envelope{
		ProducedBy:  "node-1",
		ContentType: ContentConversationState,
		Body: EnvelopeBody{
			Kind: BodyConversation,
			Conversation: []ConversationMessage{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			},
		},
		Meta:     map[string]any{"k": "v"},
		LLMUsage: &usage,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.ProducedBy != original.ProducedBy {
		t.Errorf("ProducedBy = %q, want %q", decoded.ProducedBy, original.ProducedBy)
	}
	if decoded.ContentType != original.ContentType {
		t.Errorf("ContentType = %q, want %q", decoded.ContentType, original.ContentType)
	}
	if len(decoded.Body.Conversation) != 2 {
		t.Fatalf("Conversation len = %d, want 2", len(decoded.Body.Conversation))
	}
	if decoded.Body.Conversation[1].Content != "hello" {
		t.Errorf("Conversation[1].Content = %q, want hello", decoded.Body.Conversation[1].Content)
	}
	if decoded.LLMUsage == nil || decoded.LLMUsage.Total != 15 {
		t.Errorf("LLMUsage not preserved: %+v", decoded.LLMUsage)
	}
}

func TestValueFromAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "widget",
		"count": float64(3),
		"tags":  []any{"a", "b"},
		"ok":    true,
		"meta":  nil,
	}
	v := ValueFromAny(in)
	if v.Kind != ValueMap {
		t.Fatalf("Kind = %v, want ValueMap", v.Kind)
	}
	out, ok := v.Any().(map[string]any)
	if !ok {
		t.Fatalf("Any() did not return a map: %T", v.Any())
	}
	if out["name"] != "widget" {
		t.Errorf("name = %v", out["name"])
	}
	if out["count"] != float64(3) {
		t.Errorf("count = %v", out["count"])
	}
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("tags = %v", out["tags"])
	}
}

func TestLLMUsageAdd(t *testing.T) {
	a := LLMUsage{Input: 1, Output: 2, Cached: 1, Total: 3}
	b := LLMUsage{Input: 4, Output: 5, Cached: 0, Total: 9}
	sum := a.Add(b)
	if sum.Input != 5 || sum.Output != 7 || sum.Cached != 1 || sum.Total != 12 {
		t.Errorf("Add = %+v", sum)
	}
}

func TestBindName(t *testing.T) {
	e := Edge{VariableName: "x"}
	if e.BindName() != "x" {
		t.Errorf("BindName = %q, want x", e.BindName())
	}
	e2 := Edge{Label: "y"}
	if e2.BindName() != "y" {
		t.Errorf("BindName = %q, want y", e2.BindName())
	}
}

func TestExecutionStateClone(t *testing.T) {
	st := NewExecutionState("exec-1", "diag-1")
	st.Variables["x"] = StringValue("orig")
	st.ExecCounts["n1"] = 1

	clone := st.Clone()
	clone.Variables["x"] = StringValue("mutated")
	clone.ExecCounts["n1"] = 99

	if st.Variables["x"].Str != "orig" {
		t.Errorf("mutation leaked into original: %+v", st.Variables["x"])
	}
	if st.ExecCounts["n1"] != 1 {
		t.Errorf("exec count mutation leaked into original: %d", st.ExecCounts["n1"])
	}
}
