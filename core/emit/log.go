package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/flowcore/engine/core"
)

// LogEmitter writes structured event output to a writer, either as
// human-readable text or as JSON Lines.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter writing to writer (os.Stdout if nil)
// in text mode, or JSON Lines mode if jsonMode is true.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

type wireEvent struct {
	Type      string         `json:"type"`
	Execution string         `json:"execution_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Seq       int64          `json:"seq"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toWire(e core.Event) wireEvent {
	return wireEvent{
		Type:      string(e.Type),
		Execution: e.Scope.ExecutionID,
		NodeID:    string(e.Scope.NodeID),
		Seq:       e.Seq,
		Payload:   e.Payload,
	}
}

func (l *LogEmitter) Emit(e core.Event) {
	if l.jsonMode {
		l.emitJSON(e)
	} else {
		l.emitText(e)
	}
}

func (l *LogEmitter) emitJSON(e core.Event) {
	data, err := json.Marshal(toWire(e))
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(e core.Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] execution=%s seq=%d", e.Type, e.Scope.ExecutionID, e.Seq)
	if e.Scope.NodeID != "" {
		_, _ = fmt.Fprintf(l.writer, " node=%s", e.Scope.NodeID)
	}
	if len(e.Payload) > 0 {
		if data, err := json.Marshal(e.Payload); err == nil {
			_, _ = fmt.Fprintf(l.writer, " payload=%s", data)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []core.Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

func (l *LogEmitter) Flush(_ context.Context) error { return nil }
