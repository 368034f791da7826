package emit

import (
	"context"
	"sync"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// BufferedEmitter stores every event in memory, keyed by pipeline id, and
// forwards a copy to an optional downstream Emitter. Used by tests that
// assert on the exact event sequence of a scenario (spec §8 "End-to-end
// scenarios") and by runners that want a queryable recent-history view
// without standing up a tracing backend.
type BufferedEmitter struct {
	mu       sync.RWMutex
	events   map[cloaca.ID][]Event
	downstream Emitter
}

// NewBufferedEmitter creates a BufferedEmitter. downstream may be nil.
func NewBufferedEmitter(downstream Emitter) *BufferedEmitter {
	return &BufferedEmitter{events: make(map[cloaca.ID][]Event), downstream: downstream}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	b.events[event.PipelineID] = append(b.events[event.PipelineID], event)
	b.mu.Unlock()

	if b.downstream != nil {
		b.downstream.Emit(event)
	}
}

func (b *BufferedEmitter) EmitBatch(ctx context.Context, events []Event) error {
	b.mu.Lock()
	for _, event := range events {
		b.events[event.PipelineID] = append(b.events[event.PipelineID], event)
	}
	b.mu.Unlock()

	if b.downstream != nil {
		return b.downstream.EmitBatch(ctx, events)
	}
	return nil
}

func (b *BufferedEmitter) Flush(ctx context.Context) error {
	if b.downstream != nil {
		return b.downstream.Flush(ctx)
	}
	return nil
}

// History returns a copy of every event recorded for pipelineID, in
// emission order.
func (b *BufferedEmitter) History(pipelineID cloaca.ID) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[pipelineID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Clear discards buffered history for pipelineID, or every pipeline if
// pipelineID is the nil ID.
func (b *BufferedEmitter) Clear(pipelineID cloaca.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pipelineID.IsNil() {
		b.events = make(map[cloaca.ID][]Event)
		return
	}
	delete(b.events, pipelineID)
}
