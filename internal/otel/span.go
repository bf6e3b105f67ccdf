// Package otel holds span helpers and the attribute keys shared by the sync pipeline,
// scheduler and webhook gateway.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across spans
const (
	AttrSource         = attribute.Key("sync.source")
	AttrJobID          = attribute.Key("sync.job_id")
	AttrExecutionID    = attribute.Key("sync.execution_id")
	AttrTrigger        = attribute.Key("sync.trigger")
	AttrEntityKind     = attribute.Key("entity.kind")
	AttrEntityID       = attribute.Key("entity.id")
	AttrExternalID     = attribute.Key("entity.external_id")
	AttrEventType      = attribute.Key("webhook.event_type")
	AttrDeliveryID     = attribute.Key("webhook.delivery_id")
	AttrSubscriptionID = attribute.Key("webhook.subscription_id")
	AttrRecordCount    = attribute.Key("result.count")
	AttrPage           = attribute.Key("pagination.page")
)

// StartSpan starts a span when tracer is non-nil and otherwise returns the span already in ctx
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed.
// The status text stays generic so source URLs and credentials never land in span status.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
