package emit

import (
	"context"
	"testing"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

func TestNullEmitterNoOp(t *testing.T) {
	n := NewNullEmitter()

	events := []Event{
		{PipelineID: cloaca.NewID(), Kind: PipelineStarted},
		{PipelineID: cloaca.NewID(), TaskID: cloaca.NewID(), Kind: TaskStarted},
		{PipelineID: cloaca.NewID(), TaskID: cloaca.NewID(), Kind: TaskFailed, Meta: map[string]any{"error": "test"}},
	}

	for _, event := range events {
		n.Emit(event)
	}
	if err := n.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch returned error: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
}

func TestNullEmitterInterfaceContract(t *testing.T) {
	var _ Emitter = NewNullEmitter()
}
