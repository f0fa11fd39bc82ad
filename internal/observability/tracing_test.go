package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, recorder
}

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "parley-test"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if GetTraceID(ctx) != "" {
		t.Fatalf("no-op tracer produced trace id %q", GetTraceID(ctx))
	}
}

func TestNilTracerStart(t *testing.T) {
	var tracer *Tracer
	_, span := tracer.Start(context.Background(), "nil")
	span.End()
}

func TestTraceEventAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer()

	ctx, span := tracer.TraceEvent(context.Background(), "offer", "conn-1")
	if GetTraceID(ctx) == "" {
		t.Fatalf("expected trace id on recorded span")
	}
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "realtime.offer" {
		t.Fatalf("span name = %q", spans[0].Name())
	}
	found := false
	for _, attr := range spans[0].Attributes() {
		if attr.Key == attribute.Key("realtime.conn_id") && attr.Value.AsString() == "conn-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("conn id attribute missing: %v", spans[0].Attributes())
	}
}

func TestWithSpanRecordsError(t *testing.T) {
	tracer, recorder := newRecordingTracer()

	want := errors.New("store down")
	err := WithSpan(context.Background(), tracer, "chats.block", func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("WithSpan() error = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("status = %v, want error", spans[0].Status().Code)
	}
}
