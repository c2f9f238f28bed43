// Package emit provides pluggable event emission for the execution
// engine's domain event stream.
package emit

import (
	"context"

	"github.com/flowcore/engine/core"
)

// Emitter receives domain events produced by the Engine. Implementations
// must not block the Engine's main loop indefinitely: buffer, batch, or
// drop under backpressure rather than stall node dispatch.
type Emitter interface {
	// Emit sends a single event. Implementations should treat this as
	// best-effort and non-blocking where possible.
	Emit(e core.Event)

	// EmitBatch sends multiple events in one operation, preserving order.
	EmitBatch(ctx context.Context, events []core.Event) error

	// Flush ensures all buffered events have been sent to the backend.
	Flush(ctx context.Context) error
}

var _ core.EventSink = Emitter(nil)
