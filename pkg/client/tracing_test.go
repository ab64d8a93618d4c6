package client

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/llm-guard/pkg/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	boom := errors.New("boom")
	stub := &stubInvoker{errs: []error{boom}, result: &llm.Result{Usage: llm.Usage{InputTokens: 5}}}
	inv := Traced(tracer)(stub)

	_, err := inv.Invoke(context.Background(), llm.Completion("x"), llm.Options{Name: "classify"})
	if !errors.Is(err, boom) {
		t.Fatalf("Invoke() error = %v, want boom", err)
	}
	if _, err := inv.Invoke(context.Background(), llm.Completion("x"), llm.Options{Name: "classify"}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}

	if spans[0].Name() != SpanName {
		t.Errorf("span name = %q, want %q", spans[0].Name(), SpanName)
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("failed span status = %v, want Error", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Ok {
		t.Errorf("successful span status = %v, want Ok", spans[1].Status().Code)
	}

	found := false
	for _, kv := range spans[1].Attributes() {
		if kv.Key == attribute.Key("llm.operation") && kv.Value.AsString() == "classify" {
			found = true
		}
	}
	if !found {
		t.Error("llm.operation attribute missing")
	}
}
