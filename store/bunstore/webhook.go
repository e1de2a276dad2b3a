package bunstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/webhook"
)

func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m, err := toSubscriptionModel(sub)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*webhook.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sub.Touch()
	m, err := toSubscriptionModel(sub)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return subscriptionsFromModels(models)
}

// ResolveSubscriptions narrows by status in SQL and matches event type
// patterns in Go, since patterns may carry wildcards the database cannot
// index.
func (s *Store) ResolveSubscriptions(ctx context.Context, eventType string) ([]*webhook.Subscription, error) {
	var models []subscriptionModel
	err := s.db.NewSelect().
		Model(&models).
		Where("status IN (?, ?)", string(webhook.StatusActive), string(webhook.StatusDegraded)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*webhook.Subscription
	for i := range models {
		if !catalog.MatchAny(models[i].EventTypes, eventType) {
			continue
		}
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		matched = append(matched, sub)
	}
	return matched, nil
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, subID id.ID, status webhook.Status) error {
	res, err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = now()").
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) BumpConsecutiveFailures(ctx context.Context, subID id.ID) (int, error) {
	var count int
	err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("consecutive_failures = consecutive_failures + 1").
		Set("updated_at = now()").
		Where("id = ?", subID.String()).
		Returning("consecutive_failures").
		Scan(ctx, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, loom.ErrSubscriptionNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetConsecutiveFailures(ctx context.Context, subID id.ID) error {
	res, err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("consecutive_failures = 0").
		Set("updated_at = now()").
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrSubscriptionNotFound
	}
	return nil
}

func subscriptionsFromModels(models []subscriptionModel) ([]*webhook.Subscription, error) {
	result := make([]*webhook.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}
