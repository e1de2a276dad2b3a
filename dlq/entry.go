package dlq

import (
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Entry represents a permanently failed delivery in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// DeliveryID references the failed delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// EventID references the original event.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// CorrelationID ties the entry back to the originating operation.
	CorrelationID string `json:"correlation_id,omitempty"`

	// URL is the subscription URL at the time of failure.
	URL string `json:"url"`

	// Payload is the serialized envelope that failed to deliver.
	Payload []byte `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset         int
	Limit          int
	SubscriptionID *id.ID
	EventType      string
	From           *time.Time
	To             *time.Time
}
