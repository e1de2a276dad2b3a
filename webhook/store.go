package webhook

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions, optionally filtered.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	// ResolveSubscriptions returns all deliverable subscriptions whose
	// event set matches the event type. This is the dispatch hot path.
	ResolveSubscriptions(ctx context.Context, eventType string) ([]*Subscription, error)

	// SetSubscriptionStatus transitions a subscription's status.
	SetSubscriptionStatus(ctx context.Context, subID id.ID, status Status) error

	// BumpConsecutiveFailures atomically increments the failure counter
	// and returns the new value. Concurrent deliveries to one
	// subscription must not lose increments.
	BumpConsecutiveFailures(ctx context.Context, subID id.ID) (int, error)

	// ResetConsecutiveFailures atomically zeroes the failure counter.
	ResetConsecutiveFailures(ctx context.Context, subID id.ID) error
}
