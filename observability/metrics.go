package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Loom, backed by any go-utils
// MetricFactory supplied by the host application.
type Metrics struct {
	ExecutionsTotal       gu.Counter
	SyncRecordsTotal      gu.Counter
	SyncBatchesTotal      gu.Counter
	EventsDispatchedTotal gu.Counter
	DeliveriesTotal       gu.Counter
	DeliveryLatency       gu.Histogram
	PendingDeliveries     gu.Gauge
	DegradedSubscriptions gu.Gauge
	DLQSize               gu.Gauge
}

// NewMetrics creates Loom metric instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		ExecutionsTotal:       factory.Counter("loom_executions_total"),
		SyncRecordsTotal:      factory.Counter("loom_sync_records_total"),
		SyncBatchesTotal:      factory.Counter("loom_sync_batches_total"),
		EventsDispatchedTotal: factory.Counter("loom_events_dispatched_total"),
		DeliveriesTotal:       factory.Counter("loom_deliveries_total"),
		DeliveryLatency:       factory.Histogram("loom_delivery_latency_seconds"),
		PendingDeliveries:     factory.Gauge("loom_pending_deliveries"),
		DegradedSubscriptions: factory.Gauge("loom_degraded_subscriptions"),
		DLQSize:               factory.Gauge("loom_dlq_size"),
	}
}

// RecordExecution records one connector execution with its terminal status.
func (m *Metrics) RecordExecution(status string) {
	m.ExecutionsTotal.WithLabels(map[string]string{"status": status}).Inc()
}

// RecordSyncOutcome records one per-record sync outcome for a domain.
func (m *Metrics) RecordSyncOutcome(domain, outcome string) {
	m.SyncRecordsTotal.WithLabels(map[string]string{"domain": domain, "outcome": outcome}).Inc()
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
