package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as key=value text lines
// or as JSONL. This is the default Emitter a runner reaches for in
// development — there is deliberately no separate structured-logging
// package alongside it; LogEmitter *is* the logging story.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		PipelineID string         `json:"pipeline_id"`
		TaskID     string         `json:"task_id,omitempty"`
		Kind       Type           `json:"kind"`
		Msg        string         `json:"msg"`
		Meta       map[string]any `json:"meta,omitempty"`
		Timestamp  string         `json:"timestamp"`
	}{
		PipelineID: event.PipelineID.String(),
		TaskID:     taskIDOrEmpty(event),
		Kind:       event.Kind,
		Msg:        event.Msg,
		Meta:       event.Meta,
		Timestamp:  event.Timestamp.String(),
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] pipeline=%s", event.Kind, event.PipelineID)
	if !event.TaskID.IsNil() {
		_, _ = fmt.Fprintf(l.writer, " task=%s", event.TaskID)
	}
	if event.Msg != "" {
		_, _ = fmt.Fprintf(l.writer, " msg=%s", event.Msg)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	_, _ = fmt.Fprintln(l.writer)
}

func taskIDOrEmpty(event Event) string {
	if event.TaskID.IsNil() {
		return ""
	}
	return event.TaskID.String()
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously and holds no buffer of
// its own. Wrap writer in a bufio.Writer and flush that directly if needed.
func (l *LogEmitter) Flush(context.Context) error { return nil }
