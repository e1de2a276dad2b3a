package loom

import "errors"

// Sentinel errors returned by Loom operations.
var (
	// ErrNoStore is returned when a Loom is created without a store.
	ErrNoStore = errors.New("loom: store is required")

	// ErrConnectorNotFound is returned when a connector cannot be found.
	ErrConnectorNotFound = errors.New("loom: connector not found")

	// ErrLogNotFound is returned when an integration log cannot be found.
	ErrLogNotFound = errors.New("loom: integration log not found")

	// ErrJobNotFound is returned when an import job cannot be found.
	ErrJobNotFound = errors.New("loom: import job not found")

	// ErrLogFinalized is returned when finalizing an integration log that
	// already reached a terminal state.
	ErrLogFinalized = errors.New("loom: integration log already finalized")

	// ErrEntityNotFound is returned when a canonical or staging entity
	// cannot be found.
	ErrEntityNotFound = errors.New("loom: entity not found")

	// ErrSchemaVersionNotFound is returned when no schema version matches
	// an entity type, or a pinned version does not exist.
	ErrSchemaVersionNotFound = errors.New("loom: schema version not found")

	// ErrEventTypeNotFound is returned when an event type is not
	// registered in the catalog.
	ErrEventTypeNotFound = errors.New("loom: event type not found")

	// ErrSubscriptionNotFound is returned when a webhook subscription
	// cannot be found.
	ErrSubscriptionNotFound = errors.New("loom: subscription not found")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("loom: event not found")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("loom: delivery not found")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("loom: dlq entry not found")

	// ErrStoreClosed is returned when a store operation is attempted
	// after the store is closed.
	ErrStoreClosed = errors.New("loom: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("loom: migration failed")
)
