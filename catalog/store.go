package catalog

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for the event type catalog.
type Store interface {
	// RegisterType creates or updates an event type definition.
	RegisterType(ctx context.Context, et *EventType) error

	// GetType returns an event type by name (e.g. "hr.sync_completed").
	GetType(ctx context.Context, name string) (*EventType, error)

	// GetTypeByID returns an event type by its TypeID.
	GetTypeByID(ctx context.Context, etID id.ID) (*EventType, error)

	// ListTypes returns all registered event types, optionally filtered.
	ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error)

	// DeprecateType soft-deletes an event type.
	DeprecateType(ctx context.Context, name string) error
}
