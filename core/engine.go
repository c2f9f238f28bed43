package core

import (
	gocontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flowcore/engine/core/metrics"
)

// Options configures engine-wide defaults. Per-node NodePolicy values take
// precedence where set.
type Options struct {
	DefaultNodeTimeout  time.Duration
	MaxRequeueAttempts  int
	DefaultIterationCap int
	metrics             *metrics.Metrics
}

// Option mutates Options at construction. Accepted variadically by New,
// applied in order.
type Option func(*Options)

func WithEngineDefaultNodeTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultNodeTimeout = d }
}

func WithEngineMaxRequeueAttempts(n int) Option {
	return func(o *Options) { o.MaxRequeueAttempts = n }
}

func WithEngineDefaultIterationCap(n int) Option {
	return func(o *Options) { o.DefaultIterationCap = n }
}

// WithEngineMetrics attaches a Prometheus collector set. A nil *metrics.Metrics
// (the default) disables instrumentation without any extra branching at call
// sites, since every Metrics method is a nil-safe no-op.
func WithEngineMetrics(m *metrics.Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

// Engine drives the main execution loop: it asks the Scheduler for ready
// nodes, dispatches them to the Dispatcher's registered handlers, feeds
// outputs back into the Context and Store, and emits domain events.
//
// The core loop is single-threaded and cooperative (see the package's
// concurrency model): one Engine instance drives one execution at a time,
// but independent Engine values (or sequential Execute calls) may be driven
// concurrently by the caller, each with its own Context and Scheduler.
type Engine struct {
	dispatcher *Dispatcher
	store      Store
	sink       EventSink
	opts       Options
}

// New constructs an Engine. store and sink must be non-nil; dispatcher may
// be built up with Register calls before or after New.
func New(dispatcher *Dispatcher, store Store, sink EventSink, opts ...Option) *Engine {
	o := Options{
		DefaultNodeTimeout:  0,
		MaxRequeueAttempts:  DefaultMaxRequeueAttempts,
		DefaultIterationCap: DefaultIterationCap,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{dispatcher: dispatcher, store: store, sink: sink, opts: o}
}

type runState struct {
	seq int64
}

func (r *runState) next() int64 {
	return atomic.AddInt64(&r.seq, 1)
}

func (e *Engine) emit(rs *runState, executionID string, typ EventType, node NodeID, payload map[string]any) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(Event{
		Type:      typ,
		Scope:     EventScope{ExecutionID: executionID, NodeID: node},
		Seq:       rs.next(),
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// Execute runs diagram d to completion for a fresh execution, seeding the
// context's variables from initial. It returns the final ExecutionState
// (whose LLMUsage holds the accumulated LLM cost), or an error for fatal (validation,
// dependency-starvation) conditions. Node-level failures are reflected in
// the returned state's Status/Error rather than as a Go error, matching the
// fail-fast-but-report-terminal-status contract in the external interfaces
// design.
func (e *Engine) Execute(ctx gocontext.Context, executionID string, d *Diagram, initial map[string]Value) (*ExecutionState, error) {
	if d == nil {
		return nil, &EngineError{Code: "NO_DIAGRAM", Message: "diagram is nil"}
	}
	if e.store == nil {
		return nil, &EngineError{Code: "NO_STORE", Message: "engine has no store configured"}
	}

	deps := NewDependencyTracker(d)
	sched := NewScheduler(d, deps,
		WithMaxRequeueAttempts(e.opts.MaxRequeueAttempts),
		WithDefaultIterationCap(e.opts.DefaultIterationCap))

	ectx := NewExecutionContext()
	ectx.StartTime = time.Now()
	for k, v := range initial {
		ectx.SetVariable(k, v)
	}

	state := NewExecutionState(executionID, d.ID)
	state.Status = StatusRunning
	state.StartedAt = ectx.StartTime
	if err := e.store.SaveState(ctx, state); err != nil {
		return nil, &EngineError{Code: "STORE_ERROR", Message: "saving initial state", Cause: err}
	}

	rs := &runState{}
	m := e.opts.metrics
	e.emit(rs, executionID, EventExecutionStarted, "", nil)

	sched.Seed()
	m.SetQueueDepth(float64(sched.Len()))

	for {
		select {
		case <-ctx.Done():
			state.Status = StatusAborted
			e.finish(ctx, rs, executionID, state, "context cancelled")
			return state, nil
		default:
		}

		node, ok := sched.Next()
		if !ok {
			break
		}
		m.SetQueueDepth(float64(sched.Len()))

		n := d.Nodes[node]
		if n == nil {
			state.Status = StatusFailed
			state.Error = fmt.Sprintf("node %s: not found in diagram", node)
			e.finish(ctx, rs, executionID, state, state.Error)
			return state, &EngineError{Code: "NODE_NOT_FOUND", Message: state.Error}
		}

		r := sched.Evaluate(node, ectx)
		if !r.ready {
			if sched.IterationCapExceeded(node, ectx.ExecCount(node)) {
				// A capped node can be re-offered as a candidate by more than
				// one neighbor (each loop partner re-validates it on its own
				// completion), so only act the first time; otherwise two
				// mutually-capped nodes in a cycle would keep re-propagating
				// "completion" to each other forever.
				if sched.MarkMaxIterSkipped(node) {
					m.IncSkippedMaxIterations(executionID, string(node))
					e.emit(rs, executionID, EventNodeSkipped, node, map[string]any{"reason": "max_iterations"})
					_ = e.store.UpdateNodeStatus(ctx, executionID, node, NodeSkipped, "")
					for _, ready := range sched.SkipMaxIterations(node, ectx) {
						sched.ResetRequeueCount(ready)
					}
				}
				continue
			}
			if r.pending {
				m.IncRequeue(executionID, string(node))
				if err := sched.Requeue(node); err != nil {
					state.Status = StatusFailed
					state.Error = err.Error()
					e.finish(ctx, rs, executionID, state, state.Error)
					return state, err
				}
				continue
			}
			continue
		}

		execCount := ectx.IncrementExecCount(node)
		_ = execCount
		e.emit(rs, executionID, EventNodeStarted, node, nil)
		_ = e.store.UpdateNodeStatus(ctx, executionID, node, NodeRunning, "")

		inputs := make(map[string]Value, len(r.validEdges))
		for _, edge := range r.validEdges {
			inputs[edge.BindName()] = extractInput(edge, ectx)
		}

		snap := ectx.Snapshot(state.LLMUsage)
		handler, ok := e.dispatcher.Lookup(n.Type)
		if !ok {
			state.Status = StatusFailed
			state.Error = fmt.Sprintf("node %s: no handler registered for type %s", node, n.Type)
			e.emit(rs, executionID, EventNodeError, node, map[string]any{"message": state.Error})
			e.finish(ctx, rs, executionID, state, state.Error)
			return state, &EngineError{Code: "NODE_NOT_FOUND", Message: state.Error}
		}

		m.SetActiveNodes(1)
		dispatchStart := time.Now()
		env, err := dispatchWithTimeout(ctx, handler, n, inputs, snap, e.opts.DefaultNodeTimeout)
		m.SetActiveNodes(0)
		if err != nil {
			continueOnError := n.Policy != nil && n.Policy.ContinueOnError
			msg := err.Error()
			m.RecordNodeLatency(executionID, string(node), "error", float64(time.Since(dispatchStart).Milliseconds()))
			m.IncNodeError(executionID, string(node), errorKind(err))
			e.emit(rs, executionID, EventNodeError, node, map[string]any{"message": msg})
			_ = e.store.UpdateNodeStatus(ctx, executionID, node, NodeFailed, msg)
			ectx.SetError(node, msg)
			if !continueOnError {
				state.Status = StatusFailed
				state.Error = fmt.Sprintf("node %s: %s", node, msg)
				e.finish(ctx, rs, executionID, state, state.Error)
				return state, nil
			}
			_ = e.store.UpdateNodeStatus(ctx, executionID, node, NodeSkipped, msg)
			for _, ready := range sched.SkipMaxIterations(node, ectx) {
				sched.ResetRequeueCount(ready)
			}
			continue
		}

		m.RecordNodeLatency(executionID, string(node), "ok", float64(time.Since(dispatchStart).Milliseconds()))
		env.ProducedBy = node
		ectx.SetOutput(node, env)
		ectx.AppendExecuted(node)
		_ = e.store.UpdateNodeOutput(ctx, executionID, node, env)
		_ = e.store.UpdateNodeStatus(ctx, executionID, node, NodeCompleted, "")
		if env.LLMUsage != nil {
			state.LLMUsage = state.LLMUsage.Add(*env.LLMUsage)
			_ = e.store.AddLLMUsage(ctx, executionID, *env.LLMUsage)
		}
		e.emit(rs, executionID, EventNodeCompleted, node, map[string]any{"content_type": string(env.ContentType)})

		if n.Type == NodeCondition {
			sched.RecordConditionResult(node, conditionBoolResult(env))
		}
		sched.MarkFirstOnlyIfApplicable(node, r.validEdges)

		for _, ready := range sched.OnNodeCompleted(node, ectx) {
			sched.ResetRequeueCount(ready)
		}

		if n.Type == NodeEndpoint {
			state.Status = StatusCompleted
			e.finish(ctx, rs, executionID, state, "")
			return state, nil
		}
	}

	state.Status = StatusCompleted
	e.finish(ctx, rs, executionID, state, "")
	return state, nil
}

// errorKind extracts the NodeHandlerError's error kind for metric
// labeling, falling back to "fatal" for errors the engine itself raised.
func errorKind(err error) string {
	var hErr *NodeHandlerError
	if errors.As(err, &hErr) {
		return string(hErr.Kind)
	}
	return string(ErrFatal)
}

func (e *Engine) finish(ctx gocontext.Context, rs *runState, executionID string, state *ExecutionState, errMsg string) {
	now := time.Now()
	state.EndedAt = &now
	typ := EventExecutionCompleted
	if state.Status == StatusFailed || state.Status == StatusAborted {
		typ = EventExecutionFailed
	}
	e.emit(rs, executionID, typ, "", map[string]any{"status": string(state.Status), "error": errMsg})
	_ = e.store.Finalize(ctx, executionID, state.Status, errMsg)
}

// extractInput applies the content-type-specific extraction rule to bind
// an edge's source value into the target's inputs map.
func extractInput(e Edge, ctx *ExecutionContext) Value {
	env, ok := ctx.Output(e.From)
	if !ok {
		return Value{Kind: ValueNull}
	}
	switch e.ContentType {
	case ContentRawText:
		return StringValue(envelopeText(env))
	case ContentVariableInObject:
		return extractByPath(env, e.BindName())
	case ContentConversationState:
		msgs := env.Body.Conversation
		list := make([]Value, len(msgs))
		for i, m := range msgs {
			list[i] = MapValue(map[string]Value{
				"role":    StringValue(m.Role),
				"content": StringValue(m.Content),
			})
		}
		return ListValue(list)
	default:
		return envelopeValue(env)
	}
}

func envelopeText(env Envelope) string {
	switch env.Body.Kind {
	case BodyText:
		return env.Body.Text
	case BodyConversation:
		if len(env.Body.Conversation) == 0 {
			return ""
		}
		return env.Body.Conversation[len(env.Body.Conversation)-1].Content
	case BodyJSON:
		return string(env.Body.JSON)
	default:
		return ""
	}
}

func envelopeValue(env Envelope) Value {
	switch env.Body.Kind {
	case BodyText:
		return StringValue(env.Body.Text)
	case BodyJSON:
		var a any
		if err := json.Unmarshal(env.Body.JSON, &a); err != nil {
			return Value{Kind: ValueNull}
		}
		return ValueFromAny(a)
	default:
		return Value{Kind: ValueNull}
	}
}

func extractByPath(env Envelope, path string) Value {
	v := envelopeValue(env)
	if path == "" {
		return v
	}
	cur := v
	for _, seg := range splitPath(path) {
		if cur.Kind != ValueMap {
			return Value{Kind: ValueNull}
		}
		next, ok := cur.Map[seg]
		if !ok {
			return Value{Kind: ValueNull}
		}
		cur = next
	}
	return cur
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// conditionBoolResult extracts the boolean result a Condition node's
// envelope carries.
func conditionBoolResult(env Envelope) bool {
	switch env.Body.Kind {
	case BodyText:
		return env.Body.Text == "true"
	case BodyJSON:
		var b bool
		if err := json.Unmarshal(env.Body.JSON, &b); err == nil {
			return b
		}
		var a any
		if err := json.Unmarshal(env.Body.JSON, &a); err == nil {
			if m, ok := a.(map[string]any); ok {
				if v, ok := m["result"].(bool); ok {
					return v
				}
			}
		}
	}
	return false
}
