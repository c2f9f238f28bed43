package core

import "testing"

func TestExecutionContextOutputIsLatestValue(t *testing.T) {
	ctx := NewExecutionContext()
	ctx.SetOutput("n1", Envelope{Body: EnvelopeBody{Kind: BodyText, Text: "first"}})
	ctx.SetOutput("n1", Envelope{Body: EnvelopeBody{Kind: BodyText, Text: "second"}})

	out, ok := ctx.Output("n1")
	if !ok {
		t.Fatal("expected output to be present")
	}
	if out.Body.Text != "second" {
		t.Errorf("Output = %q, want second (rolling latest value)", out.Body.Text)
	}
}

func TestExecutionContextExecCount(t *testing.T) {
	ctx := NewExecutionContext()
	if ctx.ExecCount("n1") != 0 {
		t.Errorf("initial ExecCount = %d, want 0", ctx.ExecCount("n1"))
	}
	if got := ctx.IncrementExecCount("n1"); got != 1 {
		t.Errorf("IncrementExecCount = %d, want 1", got)
	}
	if got := ctx.IncrementExecCount("n1"); got != 2 {
		t.Errorf("IncrementExecCount = %d, want 2", got)
	}
}

func TestExecutionContextSnapshotIsCopySafe(t *testing.T) {
	ctx := NewExecutionContext()
	ctx.SetVariable("x", StringValue("orig"))

	snap := ctx.Snapshot(LLMUsage{Total: 5})
	snap.Variables["x"] = StringValue("mutated")

	v, _ := ctx.Variable("x")
	if v.Str != "orig" {
		t.Errorf("mutating snapshot leaked into context: %+v", v)
	}
	if snap.LLMUsage.Total != 5 {
		t.Errorf("Snapshot LLMUsage = %+v, want Total 5", snap.LLMUsage)
	}
}

func TestExecutionContextAppendExecuted(t *testing.T) {
	ctx := NewExecutionContext()
	ctx.AppendExecuted("a")
	ctx.AppendExecuted("b")
	if len(ctx.ExecutionOrder) != 2 || ctx.ExecutionOrder[0] != "a" || ctx.ExecutionOrder[1] != "b" {
		t.Errorf("ExecutionOrder = %v", ctx.ExecutionOrder)
	}
}
