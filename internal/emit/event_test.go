package emit

import (
	"testing"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

func TestEventZeroValueHasNilTaskID(t *testing.T) {
	var event Event
	if !event.TaskID.IsNil() {
		t.Fatal("zero-value Event should have a nil TaskID")
	}
	if !event.PipelineID.IsNil() {
		t.Fatal("zero-value Event should have a nil PipelineID")
	}
}

func TestEventMetaCarriesArbitraryFields(t *testing.T) {
	event := Event{
		PipelineID: cloaca.NewID(),
		TaskID:     cloaca.NewID(),
		Kind:       TaskFailed,
		Msg:        "execution failed",
		Meta: map[string]any{
			"attempt": 2,
			"error":   "boom",
		},
	}
	if event.Meta["attempt"] != 2 {
		t.Fatalf("attempt = %v, want 2", event.Meta["attempt"])
	}
	if event.Meta["error"] != "boom" {
		t.Fatalf("error = %v, want boom", event.Meta["error"])
	}
}
