package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/signature"
)

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.NewInsert().Model(toDLQEntryModel(entry)).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.EventType != "" {
		q = q.Where("event_type = ?", opts.EventType)
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", dlqID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		m := new(dlqEntryModel)
		err := tx.NewSelect().
			Model(m).
			Where("id = ?", dlqID.String()).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return loom.ErrDLQNotFound
			}
			return err
		}
		_, err = s.replayLocked(ctx, tx, m)
		return err
	})
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	var replayed int64
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var models []dlqEntryModel
		err := tx.NewSelect().
			Model(&models).
			Where("replayed_at IS NULL").
			Where("failed_at >= ?", from).
			Where("failed_at <= ?", to).
			Order("failed_at ASC").
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}
		for i := range models {
			ok, err := s.replayLocked(ctx, tx, &models[i])
			if err != nil {
				// A deleted subscription orphans its entries; bulk
				// replay moves past them.
				if errors.Is(err, loom.ErrSubscriptionNotFound) {
					continue
				}
				return err
			}
			if ok {
				replayed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return replayed, nil
}

// replayLocked re-enqueues a locked entry as a fresh pending delivery.
// The payload is re-signed with the subscription's current secret so a
// rotation between failure and replay does not ship a stale signature.
// Reports whether a delivery was enqueued: already-replayed entries and
// entries whose subscription is gone are skipped.
func (s *Store) replayLocked(ctx context.Context, tx bun.Tx, m *dlqEntryModel) (bool, error) {
	if m.ReplayedAt != nil {
		return false, nil
	}

	subM := new(subscriptionModel)
	err := tx.NewSelect().
		Model(subM).
		Where("id = ?", m.SubscriptionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, loom.ErrSubscriptionNotFound
		}
		return false, err
	}
	sub, err := fromSubscriptionModel(subM)
	if err != nil {
		return false, err
	}

	entry, err := fromDLQEntryModel(m)
	if err != nil {
		return false, err
	}
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        entry.EventID,
		EventType:      entry.EventType,
		CorrelationID:  entry.CorrelationID,
		Payload:        entry.Payload,
		Signature:      signature.Sign(entry.Payload, sub.Secret),
		Status:         delivery.StatusPending,
		MaxAttempts:    sub.RetryPolicy.OrDefault().MaxAttempts(),
	}
	if _, err := tx.NewInsert().Model(toDeliveryModel(d)).Exec(ctx); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	_, err = tx.NewUpdate().
		Model((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*dlqEntryModel)(nil)).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}
