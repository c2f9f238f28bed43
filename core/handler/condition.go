package handler

import (
	gocontext "context"
	"strconv"
	"strings"

	"github.com/flowcore/engine/core"
)

// HandleCondition is the handler for Condition nodes. It evaluates a
// small comparison expression ("left op right") against bound inputs and
// the execution's variables, producing a boolean envelope that the
// Engine records via its condition_values table and uses to route
// "branch" edges.
//
// Supported operators: == != > >= < <=. A bare name with no operator is
// treated as a truthiness check. Operands are resolved, in order,
// against inputs, then variables, then parsed as a literal (number,
// "true"/"false", or quoted string).
func HandleCondition(_ gocontext.Context, node *core.Node, inputs map[string]core.Value, snap core.Snapshot) (core.Envelope, error) {
	expr := strings.TrimSpace(dataString(node.Data, "condition"))
	result := false
	if expr != "" {
		result = evalCondition(expr, inputs, snap.Variables)
	}
	return core.Envelope{
		ProducedBy:  node.ID,
		ContentType: core.ContentVariableInObject,
		Body:        core.EnvelopeBody{Kind: core.BodyText, Text: strconv.FormatBool(result)},
	}, nil
}

var conditionOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func evalCondition(expr string, inputs map[string]core.Value, vars map[string]core.Value) bool {
	for _, op := range conditionOps {
		if idx := strings.Index(expr, op); idx >= 0 {
			left := strings.TrimSpace(expr[:idx])
			right := strings.TrimSpace(expr[idx+len(op):])
			return compare(resolveOperand(left, inputs, vars), resolveOperand(right, inputs, vars), op)
		}
	}
	return truthy(resolveOperand(expr, inputs, vars))
}

func resolveOperand(token string, inputs map[string]core.Value, vars map[string]core.Value) core.Value {
	if v, ok := inputs[token]; ok {
		return v
	}
	if v, ok := vars[token]; ok {
		return v
	}
	if strings.HasPrefix(token, "\"") && strings.HasSuffix(token, "\"") && len(token) >= 2 {
		return core.StringValue(token[1 : len(token)-1])
	}
	if token == "true" || token == "false" {
		return core.BoolValue(token == "true")
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return core.NumberValue(n)
	}
	return core.StringValue(token)
}

func compare(left, right core.Value, op string) bool {
	if left.Kind == core.ValueNumber && right.Kind == core.ValueNumber {
		switch op {
		case "==":
			return left.Num == right.Num
		case "!=":
			return left.Num != right.Num
		case ">":
			return left.Num > right.Num
		case ">=":
			return left.Num >= right.Num
		case "<":
			return left.Num < right.Num
		case "<=":
			return left.Num <= right.Num
		}
	}
	ls, rs := valueText(left), valueText(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	}
	return false
}

func truthy(v core.Value) bool {
	switch v.Kind {
	case core.ValueBool:
		return v.Bool
	case core.ValueNumber:
		return v.Num != 0
	case core.ValueString:
		return v.Str != "" && v.Str != "false"
	case core.ValueNull:
		return false
	default:
		return true
	}
}
