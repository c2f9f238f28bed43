package emit

import (
	"context"

	"github.com/flowcore/engine/core"
)

// NullEmitter discards every event. Useful in tests that only care about
// the returned ExecutionState.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (NullEmitter) Emit(core.Event) {}

func (NullEmitter) EmitBatch(context.Context, []core.Event) error { return nil }

func (NullEmitter) Flush(context.Context) error { return nil }
