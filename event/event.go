// Package event models domain events and their wire envelope. Every
// dispatched event is persisted for audit and replay before any delivery
// is attempted.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// ErrDuplicateIdempotencyKey is returned when an event carries an
// idempotency key that has already been persisted.
var ErrDuplicateIdempotencyKey = errors.New("event: duplicate idempotency key")

// Event represents one domain event submitted for webhook dispatch.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "hr.sync_completed").
	Type string `json:"type"`

	// CorrelationID links the event to the operation that raised it.
	CorrelationID string `json:"correlation_id"`

	// Data is the event payload. Validated against the catalog schema
	// when the event type carries one.
	Data any `json:"data"`

	// IdempotencyKey dedupes repeated dispatch of the same logical event.
	// A duplicate dispatch is a no-op, not an error surfaced to callers.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Envelope is the wire shape POSTed to subscribers. The serialized bytes
// are produced once per delivery and signed exactly as sent.
type Envelope struct {
	Event         string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
	Data          any       `json:"data"`
}

// NewEnvelope builds the envelope for one event.
func NewEnvelope(evt *Event) Envelope {
	return Envelope{
		Event:         evt.Type,
		Timestamp:     time.Now().UTC(),
		CorrelationID: evt.CorrelationID,
		Data:          evt.Data,
	}
}

// Marshal returns the canonical serialization of the envelope. Signatures
// are computed over exactly these bytes.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
