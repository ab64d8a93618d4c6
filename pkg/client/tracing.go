package client

import (
	"context"

	"github.com/Sternrassler/llm-guard/pkg/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used when no tracer is given.
const TracerName = "github.com/Sternrassler/llm-guard/pkg/client"

// SpanName is the name of the span opened per invocation.
const SpanName = "llm.invoke"

// Traced opens one span per invocation. A nil tracer uses the global
// tracer provider.
func Traced(tracer trace.Tracer) llm.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	return func(next llm.Invoker) llm.Invoker {
		return llm.InvokerFunc(func(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
			ctx, span := tracer.Start(ctx, SpanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("llm.operation", operationName(req, opts)),
					attribute.String("llm.kind", string(req.Kind)),
				),
			)
			defer span.End()

			res, err := next.Invoke(ctx, req, opts)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			if res != nil {
				span.SetAttributes(
					attribute.Int("llm.usage.input_tokens", res.Usage.InputTokens),
					attribute.Int("llm.usage.output_tokens", res.Usage.OutputTokens),
				)
			}
			span.SetStatus(codes.Ok, "")
			return res, nil
		})
	}
}
