package db

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/otel"
)

// TracerName is the name used for the database store tracer
const TracerName = "github.com/stacklok/integration-sync/store/db"

// attrTable names the primary table touched by an operation
const attrTable = attribute.Key("db.table")

// startSpan starts a span for a database operation. Every span carries the db.system attribute.
func (s *dbStore) startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, s.tracer, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.DBSystemPostgreSQL, attrTable.String(table)))
}
