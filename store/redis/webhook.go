package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/webhook"
)

func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	key := entityKey(prefixSub, sub.ID.String())
	if err := s.setEntity(ctx, key, sub); err != nil {
		return fmt.Errorf("loom/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubAll, goredis.Z{Score: scoreFromTime(sub.CreatedAt), Member: sub.ID.String()})
	pipe.Set(ctx, ctrSubFailures+sub.ID.String(), sub.ConsecutiveFailures, 0)
	if sub.Deliverable() {
		pipe.SAdd(ctx, sSubDeliverable, sub.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: create subscription indexes: %w", err)
	}
	return nil
}

// getSubscription reads a subscription blob and overlays the authoritative
// failure counter.
func (s *Store) getSubscription(ctx context.Context, subID string) (*webhook.Subscription, error) {
	var sub webhook.Subscription
	if err := s.getEntity(ctx, entityKey(prefixSub, subID), &sub); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("loom/redis: get subscription: %w", err)
	}
	count, err := s.rdb.Get(ctx, ctrSubFailures+subID).Result()
	if err == nil {
		if n, convErr := strconv.Atoi(count); convErr == nil {
			sub.ConsecutiveFailures = n
		}
	} else if !isRedisNil(err) {
		return nil, fmt.Errorf("loom/redis: get subscription counter: %w", err)
	}
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*webhook.Subscription, error) {
	return s.getSubscription(ctx, subID.String())
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	key := entityKey(prefixSub, sub.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: update subscription: %w", err)
	}
	if exists == 0 {
		return loom.ErrSubscriptionNotFound
	}

	sub.Touch()
	if err := s.setEntity(ctx, key, sub); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, ctrSubFailures+sub.ID.String(), sub.ConsecutiveFailures, 0)
	if sub.Deliverable() {
		pipe.SAdd(ctx, sSubDeliverable, sub.ID.String())
	} else {
		pipe.SRem(ctx, sSubDeliverable, sub.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: update subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	deleted, err := s.rdb.Del(ctx, entityKey(prefixSub, subID.String())).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: delete subscription: %w", err)
	}
	if deleted == 0 {
		return loom.ErrSubscriptionNotFound
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubAll, subID.String())
	pipe.SRem(ctx, sSubDeliverable, subID.String())
	pipe.Del(ctx, ctrSubFailures+subID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list subscriptions: %w", err)
	}

	result := make([]*webhook.Subscription, 0, len(ids))
	for _, entryID := range ids {
		sub, err := s.getSubscription(ctx, entryID)
		if err != nil {
			if errors.Is(err, loom.ErrSubscriptionNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && sub.Status != *opts.Status {
			continue
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ResolveSubscriptions(ctx context.Context, eventType string) ([]*webhook.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubDeliverable).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: resolve subscriptions: %w", err)
	}

	var result []*webhook.Subscription
	for _, entryID := range ids {
		sub, err := s.getSubscription(ctx, entryID)
		if err != nil {
			if errors.Is(err, loom.ErrSubscriptionNotFound) {
				continue
			}
			return nil, err
		}
		if !sub.Deliverable() {
			continue
		}
		if catalog.MatchAny(sub.EventTypes, eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, subID id.ID, status webhook.Status) error {
	sub, err := s.getSubscription(ctx, subID.String())
	if err != nil {
		return err
	}
	sub.Status = status
	sub.Touch()
	if err := s.setEntity(ctx, entityKey(prefixSub, subID.String()), sub); err != nil {
		return err
	}

	if sub.Deliverable() {
		return s.rdb.SAdd(ctx, sSubDeliverable, subID.String()).Err()
	}
	return s.rdb.SRem(ctx, sSubDeliverable, subID.String()).Err()
}

func (s *Store) BumpConsecutiveFailures(ctx context.Context, subID id.ID) (int, error) {
	key := entityKey(prefixSub, subID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("loom/redis: bump failures: %w", err)
	}
	if exists == 0 {
		return 0, loom.ErrSubscriptionNotFound
	}

	// INCR keeps concurrent bumps from losing increments; the blob is
	// reconciled with the counter on every read.
	count, err := s.rdb.Incr(ctx, ctrSubFailures+subID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("loom/redis: bump failures incr: %w", err)
	}
	return int(count), nil
}

func (s *Store) ResetConsecutiveFailures(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSub, subID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: reset failures: %w", err)
	}
	if exists == 0 {
		return loom.ErrSubscriptionNotFound
	}
	return s.rdb.Set(ctx, ctrSubFailures+subID.String(), 0, 0).Err()
}
