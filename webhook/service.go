package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/signature"
)

const defaultHandshakeTimeout = 10 * time.Second

// ErrInvalidTransition is returned for lifecycle operations the current
// status does not permit.
var ErrInvalidTransition = errors.New("webhook: invalid status transition")

// Input is the creation/update payload for subscriptions.
type Input struct {
	// URL is the subscriber's delivery endpoint.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// EventTypes are the subscribed event names or wildcard patterns.
	// Exact names are validated against the catalog.
	EventTypes []string `json:"event_types"`

	// RetryPolicy governs delivery retries. Defaults when zero-valued.
	RetryPolicy backoff.Policy `json:"retry_policy"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}

// Config configures the subscription service.
type Config struct {
	// HandshakeTimeout bounds the verification POST.
	HandshakeTimeout time.Duration

	// DisableHandshake skips the automatic handshake after creation.
	// Subscriptions then stay pending until Verify is called.
	DisableHandshake bool
}

// Service provides subscription management.
type Service struct {
	store    Store
	catalog  *catalog.Catalog
	verifier *Verifier
	config   Config
	logger   *slog.Logger
}

// NewService creates a subscription service.
func NewService(store Store, cat *catalog.Catalog, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Service{
		store:    store,
		catalog:  cat,
		verifier: NewVerifier(cfg.HandshakeTimeout),
		config:   cfg,
		logger:   logger,
	}
}

// Create registers a new subscription. Every requested event type is
// checked against the catalog; the signing secret and verification token
// are generated fresh. The verification handshake runs asynchronously and
// never blocks creation: the subscription is returned pending.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}
	for _, et := range in.EventTypes {
		if err := svc.catalog.ValidatePattern(ctx, et); err != nil {
			return nil, fmt.Errorf("webhook: event type %q: %w", et, err)
		}
	}

	sub := &Subscription{
		Entity:            entity.New(),
		ID:                id.NewSubscriptionID(),
		URL:               in.URL,
		Description:       in.Description,
		EventTypes:        in.EventTypes,
		Status:            StatusPendingVerification,
		Secret:            signature.GenerateSecret(),
		VerificationToken: signature.GenerateToken(),
		RetryPolicy:       in.RetryPolicy.OrDefault(),
		RateLimit:         in.RateLimit,
		Headers:           in.Headers,
		Metadata:          in.Metadata,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if !svc.config.DisableHandshake {
		go svc.handshake(sub)
	}

	svc.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID, "url", sub.URL, "event_types", sub.EventTypes)
	return sub, nil
}

// handshake runs the verification attempt detached from the creating call.
// Failure leaves the subscription pending; there is no automatic retry.
func (svc *Service) handshake(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), svc.config.HandshakeTimeout)
	defer cancel()

	if err := svc.Verify(ctx, sub.ID); err != nil {
		svc.logger.Warn("verification handshake failed",
			"subscription_id", sub.ID, "url", sub.URL, "error", err)
	}
}

// Verify runs the handshake synchronously and activates the subscription
// on success.
func (svc *Service) Verify(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	if err := svc.verifier.Verify(ctx, sub); err != nil {
		return err
	}

	now := time.Now().UTC()
	sub.Status = StatusActive
	sub.VerifiedAt = &now
	sub.ConsecutiveFailures = 0
	sub.Touch()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("webhook: activate after handshake: %w", err)
	}

	svc.logger.InfoContext(ctx, "subscription verified", "subscription_id", subID)
	return nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// List returns subscriptions.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, opts)
}

// Update modifies a subscription's configuration. Status, secret, and
// token are untouched here.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		sub.URL = in.URL
	}
	if in.Description != "" {
		sub.Description = in.Description
	}
	if len(in.EventTypes) > 0 {
		for _, et := range in.EventTypes {
			if err := svc.catalog.ValidatePattern(ctx, et); err != nil {
				return nil, fmt.Errorf("webhook: event type %q: %w", et, err)
			}
		}
		sub.EventTypes = in.EventTypes
	}
	if in.RetryPolicy != (backoff.Policy{}) {
		sub.RetryPolicy = in.RetryPolicy
	}
	if in.RateLimit >= 0 {
		sub.RateLimit = in.RateLimit
	}
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}
	sub.Touch()

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete removes a subscription.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// Activate transitions a paused or degraded subscription back to active
// and resets its consecutive-failure counter. Pending subscriptions must
// pass the handshake instead.
func (svc *Service) Activate(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	switch sub.Status {
	case StatusPaused, StatusDegraded, StatusActive:
	default:
		return fmt.Errorf("%w: cannot activate a %s subscription", ErrInvalidTransition, sub.Status)
	}

	if err := svc.store.SetSubscriptionStatus(ctx, subID, StatusActive); err != nil {
		return err
	}
	return svc.store.ResetConsecutiveFailures(ctx, subID)
}

// Pause suspends deliveries to an active or degraded subscription.
func (svc *Service) Pause(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	switch sub.Status {
	case StatusActive, StatusDegraded:
	default:
		return fmt.Errorf("%w: cannot pause a %s subscription", ErrInvalidTransition, sub.Status)
	}
	return svc.store.SetSubscriptionStatus(ctx, subID, StatusPaused)
}

// RotateSecret replaces the signing secret without touching the status.
// Rotation is unversioned; only the new secret is retained.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	sub.Secret = signature.GenerateSecret()
	sub.SecretRotatedAt = &now
	sub.Touch()

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "subscription secret rotated", "subscription_id", subID)
	return sub.Secret, nil
}
