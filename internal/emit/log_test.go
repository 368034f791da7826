package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

func TestLogEmitterTextMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	pipelineID := cloaca.NewID()
	taskID := cloaca.NewID()
	l.Emit(Event{PipelineID: pipelineID, TaskID: taskID, Kind: TaskStarted, Msg: "running"})

	out := buf.String()
	if !strings.Contains(out, string(TaskStarted)) {
		t.Fatalf("expected output to contain kind, got %q", out)
	}
	if !strings.Contains(out, pipelineID.String()) || !strings.Contains(out, taskID.String()) {
		t.Fatalf("expected output to contain pipeline and task ids, got %q", out)
	}
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	pipelineID := cloaca.NewID()
	l.Emit(Event{PipelineID: pipelineID, Kind: PipelineCompleted, Msg: "done"})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v, line=%q", err, buf.String())
	}
	if decoded["pipeline_id"] != pipelineID.String() {
		t.Fatalf("pipeline_id = %v, want %s", decoded["pipeline_id"], pipelineID.String())
	}
	if decoded["kind"] != string(PipelineCompleted) {
		t.Fatalf("kind = %v, want %s", decoded["kind"], PipelineCompleted)
	}
}

func TestLogEmitterOmitsTaskIDWhenNil(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)
	l.Emit(Event{PipelineID: cloaca.NewID(), Kind: PipelineStarted})

	if strings.Contains(buf.String(), "task=") {
		t.Fatalf("expected no task= field for nil TaskID, got %q", buf.String())
	}
}

func TestLogEmitterEmitBatch(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)
	pipelineID := cloaca.NewID()

	err := l.EmitBatch(context.Background(), []Event{
		{PipelineID: pipelineID, Kind: TaskReady},
		{PipelineID: pipelineID, Kind: TaskClaimed},
	})
	if err != nil {
		t.Fatalf("EmitBatch returned error: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
}
