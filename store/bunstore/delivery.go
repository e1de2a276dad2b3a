package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/id"
)

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	_, err := s.db.NewInsert().Model(toDeliveryModel(d)).Exec(ctx)
	return err
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

// DequeueDue claims due deliveries with a single UPDATE so concurrent
// workers never hold the same row. SKIP LOCKED keeps pollers from
// serializing on each other's claims.
func (s *Store) DequeueDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []deliveryModel
	err := s.db.NewRaw(`
		UPDATE loom_deliveries
		SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM loom_deliveries
			WHERE status = ?
			   OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
			ORDER BY created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		string(delivery.StatusInProgress), now.UTC(),
		string(delivery.StatusPending),
		string(delivery.StatusRetrying), now.UTC(),
		limit,
	).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	return deliveriesFromModels(models)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	d.Touch()
	res, err := s.db.NewUpdate().Model(toDeliveryModel(d)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", delID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.db.NewSelect().
		Model(&models).
		Where("subscription_id = ?", subID.String())

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return deliveriesFromModels(models)
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.db.NewSelect().
		Model(&models).
		Where("event_id = ?", evtID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return deliveriesFromModels(models)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*deliveryModel)(nil)).
		Where("status IN (?, ?)", string(delivery.StatusPending), string(delivery.StatusRetrying)).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

func deliveriesFromModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}
