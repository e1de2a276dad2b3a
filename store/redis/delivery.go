package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/id"
)

// dequeueScript atomically claims due deliveries from the sorted set.
// KEYS[1] = loom:z:del:due
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// dueScore is the sorted set score at which a delivery becomes claimable.
// Pending deliveries are due immediately; retrying ones wait for NextRetryAt.
func dueScore(d *delivery.Delivery) float64 {
	if d.Status == delivery.StatusRetrying && d.NextRetryAt != nil {
		return scoreFromTime(*d.NextRetryAt)
	}
	return scoreFromTime(d.CreatedAt)
}

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	key := entityKey(prefixDelivery, d.ID.String())
	if err := s.setEntity(ctx, key, d); err != nil {
		return fmt.Errorf("loom/redis: enqueue delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(d), Member: d.ID.String()})
	pipe.ZAdd(ctx, zDeliverySub+d.SubscriptionID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
	pipe.ZAdd(ctx, zDeliveryEvt+d.EventID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: enqueue delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, d := range ds {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("loom/redis: enqueue batch marshal: %w", err)
		}
		pipe.Set(ctx, entityKey(prefixDelivery, d.ID.String()), raw, 0)
		pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(d), Member: d.ID.String()})
		pipe.ZAdd(ctx, zDeliverySub+d.SubscriptionID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
		pipe.ZAdd(ctx, zDeliveryEvt+d.EventID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) DequeueDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}

	// The Lua script makes claim-and-remove atomic, so no two workers
	// hold the same delivery.
	nowScore := strconv.FormatFloat(scoreFromTime(now), 'f', -1, 64)
	claimed, err := dequeueScript.Run(ctx, s.rdb, []string{zDeliveryDue}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loom/redis: dequeue script: %w", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	deliveries := make([]*delivery.Delivery, 0, len(claimed))
	for _, entryID := range claimed {
		key := entityKey(prefixDelivery, entryID)
		var d delivery.Delivery
		if err := s.getEntity(ctx, key, &d); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("loom/redis: dequeue get: %w", err)
		}

		d.Status = delivery.StatusInProgress
		d.Touch()
		if err := s.setEntity(ctx, key, &d); err != nil {
			return nil, fmt.Errorf("loom/redis: dequeue update: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, nil
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	key := entityKey(prefixDelivery, d.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: update delivery: %w", err)
	}
	if exists == 0 {
		return loom.ErrDeliveryNotFound
	}

	d.Touch()
	if err := s.setEntity(ctx, key, d); err != nil {
		return fmt.Errorf("loom/redis: update delivery: %w", err)
	}

	// Deliveries moving back to an awaiting status rejoin the due set;
	// terminal and in-progress ones leave it.
	switch d.Status {
	case delivery.StatusPending, delivery.StatusRetrying:
		return s.rdb.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(d), Member: d.ID.String()}).Err()
	default:
		return s.rdb.ZRem(ctx, zDeliveryDue, d.ID.String()).Err()
	}
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var d delivery.Delivery
	if err := s.getEntity(ctx, entityKey(prefixDelivery, delID.String()), &d); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("loom/redis: get delivery: %w", err)
	}
	return &d, nil
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliverySub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list by subscription: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var d delivery.Delivery
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &d); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, &d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list by event: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for _, entryID := range ids {
		var d delivery.Delivery
		if err := s.getEntity(ctx, entityKey(prefixDelivery, entryID), &d); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, &d)
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	// The due set holds exactly the deliveries awaiting attempt: pending
	// plus retrying. Claimed ones were removed by the dequeue script.
	count, err := s.rdb.ZCard(ctx, zDeliveryDue).Result()
	if err != nil {
		return 0, fmt.Errorf("loom/redis: count pending: %w", err)
	}
	return count, nil
}
