package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the devpack tracer.
const TracerName = "devpack"

// Tracer returns the devpack tracer from the global provider.
//
// Configure the provider in main() to export spans:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span tagged with the build platform.
func StartSpan(ctx context.Context, name, platform string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if platform != "" {
		attrs = append(attrs, attribute.String("devpack.platform", platform))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, sets the status, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
