package core

import "time"

// ExecutionContext is the mutable per-execution working set the Engine uses
// to resolve edge inputs. It is a thin, unsynchronized mirror of the
// fields the State Store durably owns; the Engine is the only writer and
// drives it sequentially (see the concurrency model in the package docs for
// Engine).
type ExecutionContext struct {
	NodeOutputs    map[NodeID]Envelope
	ExecCounts     map[NodeID]int
	Variables      map[string]Value
	Errors         map[NodeID]string
	ExecutionOrder []NodeID
	StartTime      time.Time
}

// NewExecutionContext returns an empty context with StartTime set to now.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		NodeOutputs: make(map[NodeID]Envelope),
		ExecCounts:  make(map[NodeID]int),
		Variables:   make(map[string]Value),
		Errors:      make(map[NodeID]string),
		StartTime:   time.Now(),
	}
}

// SetOutput records n's produced envelope, overwriting any prior value.
// Cyclic re-execution means node_outputs is a rolling latest-value map, not
// an append-only log.
func (c *ExecutionContext) SetOutput(n NodeID, e Envelope) {
	c.NodeOutputs[n] = e
}

// Output returns n's last-produced envelope, if any.
func (c *ExecutionContext) Output(n NodeID) (Envelope, bool) {
	e, ok := c.NodeOutputs[n]
	return e, ok
}

// IncrementExecCount bumps n's execution count and returns the new value.
func (c *ExecutionContext) IncrementExecCount(n NodeID) int {
	c.ExecCounts[n]++
	return c.ExecCounts[n]
}

// ExecCount returns how many times n has executed so far.
func (c *ExecutionContext) ExecCount(n NodeID) int { return c.ExecCounts[n] }

// AppendExecuted records n in execution order. Callers are responsible for
// only calling this once per completion (invariant 1: a node appears in
// executed_nodes at most once per completion).
func (c *ExecutionContext) AppendExecuted(n NodeID) {
	c.ExecutionOrder = append(c.ExecutionOrder, n)
}

// SetVariable binds name to v in the execution-scoped variable map.
func (c *ExecutionContext) SetVariable(name string, v Value) {
	c.Variables[name] = v
}

// Variable looks up name in the variable map.
func (c *ExecutionContext) Variable(name string) (Value, bool) {
	v, ok := c.Variables[name]
	return v, ok
}

// SetError records a fatal error message against n.
func (c *ExecutionContext) SetError(n NodeID, msg string) {
	c.Errors[n] = msg
}

// Elapsed returns the time since the context was created.
func (c *ExecutionContext) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// Snapshot is a read-only summary handed to node handlers; it never
// exposes the live maps so a handler cannot mutate context state out of
// band.
type Snapshot struct {
	Variables map[string]Value
	LLMUsage  LLMUsage
	Elapsed   time.Duration
}

// Snapshot produces a copy-safe view of the context for handler dispatch.
func (c *ExecutionContext) Snapshot(usage LLMUsage) Snapshot {
	vars := make(map[string]Value, len(c.Variables))
	for k, v := range c.Variables {
		vars[k] = v
	}
	return Snapshot{Variables: vars, LLMUsage: usage, Elapsed: c.Elapsed()}
}
