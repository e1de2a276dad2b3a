package event

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for domain events.
type Store interface {
	// CreateEvent persists an event. Implementations must reject a
	// non-empty idempotency key that was already stored with
	// ErrDuplicateIdempotencyKey, atomically with the write.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events, optionally filtered by type or time range.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// ListEventsByCorrelation returns the events raised under one
	// correlation id.
	ListEventsByCorrelation(ctx context.Context, correlationID string) ([]*Event, error)
}
