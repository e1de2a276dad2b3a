package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/webhook"
)

// Service manages the dead letter queue.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PushFailed creates a DLQ entry from a failed delivery. Implements delivery.DLQPusher.
func (svc *Service) PushFailed(ctx context.Context, d *delivery.Delivery, sub *webhook.Subscription, lastError string, lastStatusCode int) error {
	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		DeliveryID:     d.ID,
		EventID:        d.EventID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		CorrelationID:  d.CorrelationID,
		URL:            sub.URL,
		Payload:        d.Payload,
		Error:          lastError,
		AttemptCount:   d.AttemptCount,
		LastStatusCode: lastStatusCode,
		FailedAt:       time.Now().UTC(),
	}

	return svc.store.Push(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay re-enqueues a single DLQ entry for redelivery.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	if err := svc.store.Replay(ctx, dlqID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "DLQ entry replayed", "dlq_id", dlqID)
	return nil
}

// ReplayBulk re-enqueues all unreplayed DLQ entries within a time range.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := svc.store.ReplayBulk(ctx, from, to)
	if err != nil {
		return 0, err
	}
	svc.logger.InfoContext(ctx, "DLQ bulk replay", "count", n, "from", from, "to", to)
	return n, nil
}

// Purge removes old DLQ entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
