package core

import (
	gocontext "context"
	"errors"
	"time"
)

// nodeTimeout resolves the effective timeout for a node: its own policy
// overrides the engine-wide default; an unset policy falls back to the
// default; a default of zero means unlimited.
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// dispatchWithTimeout invokes h.Handle bounded by the resolved timeout, if
// any, translating a context deadline into a timeout-kind NodeHandlerError.
func dispatchWithTimeout(ctx gocontext.Context, h Handler, node *Node, inputs map[string]Value, snap Snapshot, defaultTimeout time.Duration) (Envelope, error) {
	timeout := nodeTimeout(node.Policy, defaultTimeout)
	if timeout <= 0 {
		return h.Handle(ctx, node, inputs, snap)
	}

	runCtx, cancel := gocontext.WithTimeout(ctx, timeout)
	defer cancel()

	env, err := h.Handle(runCtx, node, inputs, snap)
	if err != nil && errors.Is(runCtx.Err(), gocontext.DeadlineExceeded) {
		return Envelope{}, &NodeHandlerError{
			NodeID:  node.ID,
			Kind:    ErrTimeout,
			Message: "node exceeded timeout",
			Cause:   err,
		}
	}
	return env, err
}
