package core

import "context"

// Store is the cache-first persistence contract the Engine drives. The
// Engine never mutates ExecutionState directly; every mutation goes
// through this API so the Store can maintain its own cache/durability
// invariants (see core/store for the concrete cache-first implementation).
type Store interface {
	// GetState returns the execution's state, hydrating from persistence if
	// it is not already cached.
	GetState(ctx context.Context, executionID string) (*ExecutionState, error)

	// SaveState upserts the full state (used at execution start and for
	// bulk catch-up writes).
	SaveState(ctx context.Context, state *ExecutionState) error

	// UpdateNodeStatus transitions a node's per-node state.
	UpdateNodeStatus(ctx context.Context, executionID string, node NodeID, status NodeRunStatus, errMsg string) error

	// UpdateNodeOutput records a node's produced envelope and bumps its
	// exec count and execution_order.
	UpdateNodeOutput(ctx context.Context, executionID string, node NodeID, env Envelope) error

	// UpdateVariables merges vars into the execution's variable map.
	UpdateVariables(ctx context.Context, executionID string, vars map[string]Value) error

	// AddLLMUsage accumulates usage into the execution's running total.
	AddLLMUsage(ctx context.Context, executionID string, usage LLMUsage) error

	// ApplyEvent idempotently applies a domain event keyed by
	// (execution_id, seq); duplicate application is a no-op.
	ApplyEvent(ctx context.Context, e Event) error

	// Finalize marks the execution terminal and writes its final
	// checkpoint.
	Finalize(ctx context.Context, executionID string, status ExecutionStatus, errMsg string) error
}
