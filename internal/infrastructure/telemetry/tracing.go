package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used for sync spans
const TracerName = "channelsync"

// StartSpan starts a span named "{component}.{operation}" on the global
// tracer provider. The caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "reconcile", "product", telemetry.AttrSKU.String(sku))
//	defer span.End()
func StartSpan(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, component+"."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err, if any, and ends span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Span attribute keys
var (
	AttrJobID    = attribute.Key("sync.job_id")
	AttrSKU      = attribute.Key("sync.sku")
	AttrPlatform = attribute.Key("sync.platform")
)
