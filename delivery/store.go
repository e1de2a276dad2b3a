package delivery

import (
	"context"
	"time"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for deliveries.
type Store interface {
	// Enqueue creates a pending delivery.
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch creates the fan-out of one event atomically.
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// DequeueDue claims deliveries ready for attempt: pending ones and
	// retrying ones whose NextRetryAt has elapsed. Claimed deliveries are
	// marked in_progress atomically so no two workers hold the same row.
	DequeueDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// UpdateDelivery rewrites a delivery after an attempt.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListBySubscription returns delivery history for a subscription.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns the fan-out of one event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting attempt.
	CountPending(ctx context.Context) (int64, error)
}
