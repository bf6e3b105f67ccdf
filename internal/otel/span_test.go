package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan(t *testing.T) {
	t.Parallel()

	t.Run("nil tracer returns a no-op span", func(t *testing.T) {
		t.Parallel()
		ctx, span := StartSpan(context.Background(), nil, "sync.perform")
		require.NotNil(t, ctx)
		assert.False(t, span.SpanContext().IsValid())
		assert.NotPanics(t, func() { span.End() })
	})

	t.Run("records attributes and errors", func(t *testing.T) {
		t.Parallel()
		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		_, span := StartSpan(context.Background(), tp.Tracer("test"), "sync.perform",
			trace.WithAttributes(AttrSource.String("tenable"), AttrJobID.String("j1")))
		RecordError(span, errors.New("connection refused"))
		RecordError(span, nil)
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "operation failed", spans[0].Status.Description)
		assert.Contains(t, spans[0].Attributes, AttrSource.String("tenable"))
		require.Len(t, spans[0].Events, 1)
	})
}
