package emit

import (
	"context"
	"fmt"

	"github.com/flowcore/engine/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans, one per
// event. Events represent points in time rather than durations, so each
// span is started and ended immediately.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter wraps tracer (e.g. otel.Tracer("flowcore")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(e core.Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(e.Type))
	defer span.End()
	o.annotate(span, e)
}

func (o *OTelEmitter) annotate(span trace.Span, e core.Event) {
	span.SetAttributes(
		attribute.String("execution_id", e.Scope.ExecutionID),
		attribute.String("node_id", string(e.Scope.NodeID)),
		attribute.Int64("seq", e.Seq),
	)
	for k, v := range e.Payload {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String("payload."+k, val))
		case bool:
			span.SetAttributes(attribute.Bool("payload."+k, val))
		case int:
			span.SetAttributes(attribute.Int("payload."+k, val))
		}
	}
	if errMsg, ok := e.Payload["error"].(string); ok && errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []core.Event) error {
	for _, e := range events {
		_, span := o.tracer.Start(ctx, string(e.Type))
		o.annotate(span, e)
		span.End()
	}
	return nil
}

func (o *OTelEmitter) Flush(context.Context) error { return nil }
