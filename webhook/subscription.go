// Package webhook manages subscriptions: registration against the closed
// event catalog, the verification handshake, lifecycle transitions, and
// signing secret rotation.
package webhook

import (
	"time"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusPendingVerification means the handshake has not succeeded yet.
	// No deliveries are made to pending subscriptions.
	StatusPendingVerification Status = "pending_verification"

	// StatusActive means the subscription receives deliveries.
	StatusActive Status = "active"

	// StatusPaused means an operator suspended deliveries.
	StatusPaused Status = "paused"

	// StatusDegraded means the subscriber failed too many consecutive
	// deliveries. Deliveries continue under the same retry budget until an
	// operator pauses or reactivates the subscription.
	StatusDegraded Status = "degraded"
)

// DegradationThreshold is the consecutive-failure count at which an active
// subscription flips to degraded.
const DegradationThreshold = 5

// Subscription represents one webhook delivery target.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// URL is the subscriber's delivery endpoint.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// EventTypes are the subscribed event names or wildcard patterns.
	EventTypes []string `json:"event_types"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// VerificationToken is the handshake challenge. Never serialized.
	VerificationToken string `json:"-"`

	// RetryPolicy governs delivery retries for this subscription.
	RetryPolicy backoff.Policy `json:"retry_policy"`

	// ConsecutiveFailures counts deliveries that exhausted their retry
	// budget since the last success or reactivation. Mutated only through
	// the store's atomic bump/reset operations.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// VerifiedAt is when the handshake succeeded.
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	// SecretRotatedAt is when the secret was last rotated. Rotation is
	// unversioned: deliveries signed before rotation can no longer be
	// re-verified against the stored secret.
	SecretRotatedAt *time.Time `json:"secret_rotated_at,omitempty"`
}

// Deliverable reports whether the subscription should receive deliveries.
// Degraded subscribers still get new events; paused and unverified ones
// do not.
func (s *Subscription) Deliverable() bool {
	return s.Status == StatusActive || s.Status == StatusDegraded
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
