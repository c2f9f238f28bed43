package emit

import (
	"context"
	"sync"

	"github.com/flowcore/engine/core"
)

// BufferedEmitter accumulates events and forwards them to an underlying
// Emitter in batches, either when the buffer reaches batchSize or on
// Flush. This absorbs the State Store's subscription without making the
// Engine's main loop wait on every single event.
type BufferedEmitter struct {
	mu        sync.Mutex
	buf       []core.Event
	batchSize int
	underlying Emitter
}

// NewBufferedEmitter wraps underlying, flushing automatically once buf
// reaches batchSize events.
func NewBufferedEmitter(underlying Emitter, batchSize int) *BufferedEmitter {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &BufferedEmitter{underlying: underlying, batchSize: batchSize}
}

func (b *BufferedEmitter) Emit(e core.Event) {
	b.mu.Lock()
	b.buf = append(b.buf, e)
	full := len(b.buf) >= b.batchSize
	b.mu.Unlock()
	if full {
		_ = b.Flush(context.Background())
	}
}

func (b *BufferedEmitter) EmitBatch(ctx context.Context, events []core.Event) error {
	b.mu.Lock()
	b.buf = append(b.buf, events...)
	b.mu.Unlock()
	return b.Flush(ctx)
}

// Flush sends all buffered events to the underlying emitter in a single
// call and clears the buffer.
func (b *BufferedEmitter) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	if err := b.underlying.EmitBatch(ctx, pending); err != nil {
		return err
	}
	return b.underlying.Flush(ctx)
}
