package loom

import (
	"context"

	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/monitor"
	"github.com/loomhq/loom/store"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

// wireServices initializes the internal services after options have been
// applied.
func (l *Loom) wireServices() {
	l.catalog = catalog.New(l.store, catalog.Config{
		CacheTTL: l.config.CacheTTL,
	}, l.logger)

	l.connectorSvc = connector.NewService(l.store, l.logger)

	l.execEngine = execution.NewEngine(l.store, l.store, execution.Config{
		Metrics: l.metrics,
		Tracer:  l.tracer,
	}, l.logger)

	l.registry = canonical.NewRegistry(l.store, l.logger)
	l.mapper = canonical.NewEngine(l.store, canonical.Config{
		StandardHours: l.config.StandardHours,
		Custom:        l.customTransform,
	}, l.logger)

	l.syncSvc = syncer.NewService(l.store, l.store, l.execEngine, syncer.Config{
		RequestTimeout: l.config.RequestTimeout,
		Metrics:        l.metrics,
		Tracer:         l.tracer,
	}, l.logger)

	l.webhookSvc = webhook.NewService(l.store, l.catalog, webhook.Config{
		HandshakeTimeout: l.config.HandshakeTimeout,
		DisableHandshake: l.config.DisableHandshake,
	}, l.logger)

	l.dlqSvc = dlq.NewService(l.store, l.logger)

	l.engine = delivery.NewEngine(l.store, l.store, l.dlqSvc, delivery.EngineConfig{
		Concurrency:          l.config.Concurrency,
		PollInterval:         l.config.PollInterval,
		BatchSize:            l.config.BatchSize,
		RequestTimeout:       l.config.RequestTimeout,
		DegradationThreshold: l.config.DegradationThreshold,
		Metrics:              l.metrics,
		Tracer:               l.tracer,
	}, l.logger)

	l.dispatcher = delivery.NewDispatcher(l.store, l.store, l.store, l.catalog, l.engine, l.metrics, l.logger)

	l.monitorSvc = monitor.NewService(l.store, l.store, l.logger)
}

// Start begins the delivery engine's worker pool.
func (l *Loom) Start(ctx context.Context) {
	l.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine, waiting for in-flight
// deliveries up to the shutdown timeout.
func (l *Loom) Stop(ctx context.Context) {
	if l.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.ShutdownTimeout)
		defer cancel()
	}
	l.engine.Stop(ctx)
}

// Dispatch validates, persists, and fans out an event to matching
// subscriptions. See delivery.Dispatcher.Dispatch.
func (l *Loom) Dispatch(ctx context.Context, eventType string, data any, opts ...delivery.DispatchOption) (*event.Event, error) {
	return l.dispatcher.Dispatch(ctx, eventType, data, opts...)
}

// SyncHR pulls, maps, and reconciles employee data from an HR connector.
func (l *Loom) SyncHR(ctx context.Context, connID id.ID) (*syncer.BatchResult, error) {
	return l.syncSvc.SyncHR(ctx, connID)
}

// SyncFinance pulls, maps, and reconciles financial data from a Finance
// connector. A non-empty overrideBy authorizes overwriting approved
// entities.
func (l *Loom) SyncFinance(ctx context.Context, connID id.ID, overrideBy string) (*syncer.BatchResult, error) {
	return l.syncSvc.SyncFinance(ctx, connID, overrideBy)
}

// Connectors returns the connector registry service.
func (l *Loom) Connectors() *connector.Service {
	return l.connectorSvc
}

// Execution returns the retryable execution engine.
func (l *Loom) Execution() *execution.Engine {
	return l.execEngine
}

// Mapper returns the canonical mapping engine.
func (l *Loom) Mapper() *canonical.Engine {
	return l.mapper
}

// Schemas returns the canonical schema and mapping registry.
func (l *Loom) Schemas() *canonical.Registry {
	return l.registry
}

// Sync returns the domain synchronization service.
func (l *Loom) Sync() *syncer.Service {
	return l.syncSvc
}

// Webhooks returns the subscription management service.
func (l *Loom) Webhooks() *webhook.Service {
	return l.webhookSvc
}

// Catalog returns the event type catalog.
func (l *Loom) Catalog() *catalog.Catalog {
	return l.catalog
}

// DLQ returns the dead letter queue service.
func (l *Loom) DLQ() *dlq.Service {
	return l.dlqSvc
}

// Monitor returns the read-only monitoring service.
func (l *Loom) Monitor() *monitor.Service {
	return l.monitorSvc
}

// Store returns the underlying composite store.
func (l *Loom) Store() store.Store {
	return l.store
}
