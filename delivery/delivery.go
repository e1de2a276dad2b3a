// Package delivery owns the webhook delivery queue: signed payload
// construction, the worker pool that drains the queue, and the retry
// schedule for failing subscribers.
package delivery

import (
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Status is the state of one delivery.
type Status string

const (
	// StatusPending means the delivery awaits its first attempt.
	StatusPending Status = "pending"

	// StatusInProgress means a worker holds the delivery.
	StatusInProgress Status = "in_progress"

	// StatusSucceeded means the subscriber acknowledged with a 2xx.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the retry budget is exhausted.
	StatusFailed Status = "failed"

	// StatusRetrying means a retry is scheduled at NextRetryAt.
	StatusRetrying Status = "retrying"
)

// Terminal reports whether the status admits no further attempts.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Delivery is one event instance targeted at one subscription. Created
// once per (subscription, event); all transitions rewrite the same row.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// EventType is the dispatched event type name.
	EventType string `json:"event_type"`

	// CorrelationID links the delivery to the operation that raised the
	// event.
	CorrelationID string `json:"correlation_id"`

	// Payload is the serialized envelope, signed exactly as stored.
	Payload []byte `json:"payload"`

	// Signature is the lowercase hex HMAC-SHA256 of Payload under the
	// subscription's secret at dispatch time.
	Signature string `json:"signature"`

	// Status is the delivery state.
	Status Status `json:"status"`

	// AttemptCount is the number of attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the total attempt budget (1 + retries).
	MaxAttempts int `json:"max_attempts"`

	// LastError is the error of the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastStatusCode is the HTTP status of the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponse is a capped extract of the most recent response body.
	LastResponse string `json:"last_response,omitempty"`

	// LastLatencyMs is the latency of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// NextRetryAt schedules the next attempt while Status is retrying.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// CompletedAt is when the delivery reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
