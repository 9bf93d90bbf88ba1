package web

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// AddSpan adds an otel span to the existing trace using the tracer stored in
// the request context. When tracing is not configured a noop span is returned.
func AddSpan(ctx context.Context, spanName string, keyValues ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetTracer(ctx)
	if tracer == nil {
		return ctx, noop.Span{}
	}

	ctx, span := tracer.Start(ctx, spanName)
	span.SetAttributes(keyValues...)

	return ctx, span
}

func attributeInt(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}
