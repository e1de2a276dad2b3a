package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/loomhq/loom"

// Tracer provides OpenTelemetry tracing for Loom.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Loom tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartExecutionSpan starts a new span for a connector execution attempt-set.
func (t *Tracer) StartExecutionSpan(ctx context.Context, connectorID, operationType, correlationID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "loom.execution",
		trace.WithAttributes(
			attribute.String("loom.connector_id", connectorID),
			attribute.String("loom.operation_type", operationType),
			attribute.String("loom.correlation_id", correlationID),
		),
	)
}

// EndExecutionSpan ends an execution span with result attributes.
func (t *Tracer) EndExecutionSpan(span trace.Span, status string, statusCode, retries int, err string) {
	span.SetAttributes(
		attribute.String("loom.status", status),
		attribute.Int("http.status_code", statusCode),
		attribute.Int("loom.retries", retries),
	)
	if err != "" {
		span.SetAttributes(attribute.String("loom.error", err))
	}
	span.End()
}

// StartSyncSpan starts a new span for a domain sync batch.
func (t *Tracer) StartSyncSpan(ctx context.Context, domain, connectorID, jobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "loom.sync",
		trace.WithAttributes(
			attribute.String("loom.domain", domain),
			attribute.String("loom.connector_id", connectorID),
			attribute.String("loom.job_id", jobID),
		),
	)
}

// EndSyncSpan ends a sync span with batch counters.
func (t *Tracer) EndSyncSpan(span trace.Span, imported, updated, conflicts, rejected, failed int) {
	span.SetAttributes(
		attribute.Int("loom.imported", imported),
		attribute.Int("loom.updated", updated),
		attribute.Int("loom.conflicts_preserved", conflicts),
		attribute.Int("loom.rejected", rejected),
		attribute.Int("loom.failed", failed),
	)
	span.End()
}

// StartDeliverySpan starts a new span for a webhook delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, subscriptionID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "loom.delivery",
		trace.WithAttributes(
			attribute.String("loom.delivery_id", deliveryID),
			attribute.String("loom.subscription_id", subscriptionID),
			attribute.String("loom.event_type", eventType),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("loom.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("loom.error", err))
	}
	span.End()
}
