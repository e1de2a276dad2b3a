package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/observability"
	"github.com/loomhq/loom/scope"
	"github.com/loomhq/loom/signature"
	"github.com/loomhq/loom/webhook"
)

// Waker nudges the worker pool after new deliveries are enqueued, so the
// queue is drained without waiting for the next poll tick.
type Waker interface {
	Wake()
}

// Dispatcher fans domain events out to matching subscriptions. Dispatch is
// fire-and-forget from the producer's view: it persists the event and its
// deliveries, wakes the workers, and returns without waiting for any
// subscriber response.
type Dispatcher struct {
	events     event.Store
	subs       webhook.Store
	deliveries Store
	catalog    *catalog.Catalog
	waker      Waker
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. waker may be nil when no worker pool
// is running, e.g. in tests that drain the queue manually.
func NewDispatcher(events event.Store, subs webhook.Store, deliveries Store, cat *catalog.Catalog, waker Waker, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		events:     events,
		subs:       subs,
		deliveries: deliveries,
		catalog:    cat,
		waker:      waker,
		metrics:    metrics,
		logger:     logger,
	}
}

// DispatchOption configures one dispatch.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	idempotencyKey string
	correlationID  string
}

// WithIdempotencyKey dedupes repeated dispatch of the same logical event.
func WithIdempotencyKey(key string) DispatchOption {
	return func(o *dispatchOptions) { o.idempotencyKey = key }
}

// WithCorrelationID overrides the correlation id taken from the context.
func WithCorrelationID(correlationID string) DispatchOption {
	return func(o *dispatchOptions) { o.correlationID = correlationID }
}

// Dispatch validates the event against the catalog, persists it, and
// enqueues one delivery per matching deliverable subscription. The
// envelope is serialized once; each delivery is signed with its
// subscription's current secret over those exact bytes.
//
// A duplicate idempotency key is a no-op: Dispatch returns (nil, nil).
func (dp *Dispatcher) Dispatch(ctx context.Context, eventType string, data any, opts ...DispatchOption) (*event.Event, error) {
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.correlationID == "" {
		o.correlationID = scope.CorrelationID(ctx)
	}

	if err := dp.catalog.CheckDispatchable(ctx, eventType, data); err != nil {
		return nil, err
	}

	evt := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Type:           eventType,
		CorrelationID:  o.correlationID,
		Data:           data,
		IdempotencyKey: o.idempotencyKey,
	}
	if err := dp.events.CreateEvent(ctx, evt); err != nil {
		if errors.Is(err, event.ErrDuplicateIdempotencyKey) {
			dp.logger.DebugContext(ctx, "duplicate event dispatch ignored",
				"event_type", eventType, "idempotency_key", o.idempotencyKey)
			return nil, nil
		}
		return nil, fmt.Errorf("delivery: persist event: %w", err)
	}

	subs, err := dp.subs.ResolveSubscriptions(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("delivery: resolve subscriptions: %w", err)
	}
	if len(subs) == 0 {
		dp.logger.DebugContext(ctx, "event has no subscribers",
			"event_type", eventType, "event_id", evt.ID)
		return evt, nil
	}

	payload, err := event.NewEnvelope(evt).Marshal()
	if err != nil {
		return nil, fmt.Errorf("delivery: serialize envelope: %w", err)
	}

	ds := make([]*Delivery, 0, len(subs))
	for _, sub := range subs {
		ds = append(ds, &Delivery{
			Entity:         entity.New(),
			ID:             id.NewDeliveryID(),
			SubscriptionID: sub.ID,
			EventID:        evt.ID,
			EventType:      eventType,
			CorrelationID:  evt.CorrelationID,
			Payload:        payload,
			Signature:      signature.Sign(payload, sub.Secret),
			Status:         StatusPending,
			MaxAttempts:    sub.RetryPolicy.OrDefault().MaxAttempts(),
		})
	}

	if err := dp.deliveries.EnqueueBatch(ctx, ds); err != nil {
		return nil, fmt.Errorf("delivery: enqueue fan-out: %w", err)
	}

	if dp.metrics != nil {
		dp.metrics.EventsDispatchedTotal.Inc()
		dp.metrics.PendingDeliveries.Add(float64(len(ds)))
	}
	if dp.waker != nil {
		dp.waker.Wake()
	}

	dp.logger.DebugContext(ctx, "event dispatched",
		"event_type", eventType, "event_id", evt.ID,
		"correlation_id", evt.CorrelationID, "deliveries", len(ds))
	return evt, nil
}
