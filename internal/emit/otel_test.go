package emit

import (
	"context"
	"testing"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelEmitterEmitCreatesSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(otel.Tracer("test"))
	pipelineID := cloaca.NewID()
	taskID := cloaca.NewID()

	emitter.Emit(Event{
		PipelineID: pipelineID,
		TaskID:     taskID,
		Kind:       TaskStarted,
		Meta:       map[string]any{"attempt": 2},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != string(TaskStarted) {
		t.Errorf("span name = %q, want %q", span.Name, TaskStarted)
	}
	attrs := attributeMap(span.Attributes)
	if attrs["cloacina.pipeline_id"] != pipelineID.String() {
		t.Errorf("pipeline_id attr = %v, want %s", attrs["cloacina.pipeline_id"], pipelineID)
	}
	if attrs["cloacina.task_id"] != taskID.String() {
		t.Errorf("task_id attr = %v, want %s", attrs["cloacina.task_id"], taskID)
	}
	if attrs["attempt"] != int64(2) {
		t.Errorf("attempt attr = %v, want 2", attrs["attempt"])
	}
	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitterErrorSetsSpanStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(otel.Tracer("test"))
	emitter.Emit(Event{
		PipelineID: cloaca.NewID(),
		Kind:       TaskFailed,
		Meta:       map[string]any{"error": "boom"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status.Code)
	}
	if span.Status.Description != "boom" {
		t.Errorf("status description = %q, want boom", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestOTelEmitterEmitBatch(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(otel.Tracer("test"))
	pipelineID := cloaca.NewID()

	err := emitter.EmitBatch(context.Background(), []Event{
		{PipelineID: pipelineID, Kind: TaskReady},
		{PipelineID: pipelineID, Kind: TaskClaimed},
	})
	if err != nil {
		t.Fatalf("EmitBatch returned error: %v", err)
	}
	if len(exporter.GetSpans()) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(exporter.GetSpans()))
	}
}

func TestOTelEmitterFlushForcesExport(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(otel.Tracer("test"))
	emitter.Emit(Event{PipelineID: cloaca.NewID(), Kind: TaskStarted})

	if err := emitter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if len(exporter.GetSpans()) != 1 {
		t.Fatalf("expected 1 span after flush, got %d", len(exporter.GetSpans()))
	}
}
