package handler

import (
	gocontext "context"
	"testing"

	"github.com/flowcore/engine/core"
)

func TestHandleConditionNumericComparison(t *testing.T) {
	node := &core.Node{ID: "c1", Data: map[string]any{"condition": "score >= 10"}}
	inputs := map[string]core.Value{"score": core.NumberValue(12)}
	snap := core.Snapshot{Variables: map[string]core.Value{}}

	env, err := HandleCondition(gocontext.Background(), node, inputs, snap)
	if err != nil {
		t.Fatalf("HandleCondition: %v", err)
	}
	if env.Body.Text != "true" {
		t.Errorf("Body.Text = %q, want true", env.Body.Text)
	}
}

func TestHandleConditionStringEquality(t *testing.T) {
	node := &core.Node{ID: "c1", Data: map[string]any{"condition": `status == "done"`}}
	inputs := map[string]core.Value{"status": core.StringValue("done")}
	snap := core.Snapshot{Variables: map[string]core.Value{}}

	env, _ := HandleCondition(gocontext.Background(), node, inputs, snap)
	if env.Body.Text != "true" {
		t.Errorf("Body.Text = %q, want true", env.Body.Text)
	}
}

func TestHandleConditionVariableFallback(t *testing.T) {
	node := &core.Node{ID: "c1", Data: map[string]any{"condition": "retries < 3"}}
	inputs := map[string]core.Value{}
	snap := core.Snapshot{Variables: map[string]core.Value{"retries": core.NumberValue(1)}}

	env, _ := HandleCondition(gocontext.Background(), node, inputs, snap)
	if env.Body.Text != "true" {
		t.Errorf("Body.Text = %q, want true (variable fallback)", env.Body.Text)
	}
}

func TestHandleConditionBareTruthiness(t *testing.T) {
	node := &core.Node{ID: "c1", Data: map[string]any{"condition": "flag"}}
	inputs := map[string]core.Value{"flag": core.BoolValue(false)}
	snap := core.Snapshot{Variables: map[string]core.Value{}}

	env, _ := HandleCondition(gocontext.Background(), node, inputs, snap)
	if env.Body.Text != "false" {
		t.Errorf("Body.Text = %q, want false", env.Body.Text)
	}
}

func TestHandleConditionEmptyExpressionIsFalse(t *testing.T) {
	node := &core.Node{ID: "c1", Data: map[string]any{}}
	env, _ := HandleCondition(gocontext.Background(), node, nil, core.Snapshot{})
	if env.Body.Text != "false" {
		t.Errorf("Body.Text = %q, want false for empty condition", env.Body.Text)
	}
}

func TestResolveOperandQuotedStringLiteral(t *testing.T) {
	v := resolveOperand(`"hello"`, nil, nil)
	if v.Kind != core.ValueString || v.Str != "hello" {
		t.Errorf("resolveOperand = %+v, want unquoted string hello", v)
	}
}

func TestResolveOperandBooleanLiteral(t *testing.T) {
	v := resolveOperand("true", nil, nil)
	if v.Kind != core.ValueBool || !v.Bool {
		t.Errorf("resolveOperand(true) = %+v", v)
	}
}
