package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/signature"
	"github.com/loomhq/loom/webhook"
)

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	key := entityKey(prefixDLQ, entry.ID.String())
	if err := s.setEntity(ctx, key, entry); err != nil {
		return fmt.Errorf("loom/redis: push dlq: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(entry.FailedAt), Member: entry.ID.String()})
	pipe.ZAdd(ctx, zDLQSub+entry.SubscriptionID.String(), goredis.Z{Score: scoreFromTime(entry.FailedAt), Member: entry.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: push dlq indexes: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	zKey := zDLQAll
	if opts.SubscriptionID != nil {
		zKey = zDLQSub + opts.SubscriptionID.String()
	}

	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zKey, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var entry dlq.Entry
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &entry); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.EventType != "" && entry.EventType != opts.EventType {
			continue
		}
		result = append(result, &entry)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var entry dlq.Entry
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &entry); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrDLQNotFound
		}
		return nil, fmt.Errorf("loom/redis: get dlq: %w", err)
	}
	return &entry, nil
}

func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	key := entityKey(prefixDLQ, dlqID.String())
	return s.withWatch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if isRedisNil(err) {
				return loom.ErrDLQNotFound
			}
			return fmt.Errorf("loom/redis: replay get: %w", err)
		}
		var entry dlq.Entry
		if err := unmarshalEntity(raw, &entry); err != nil {
			return err
		}
		_, err = s.replayEntry(ctx, tx, &entry)
		return err
	}, key)
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, scoreFromTime(from), scoreFromTime(to))
	if err != nil {
		return 0, fmt.Errorf("loom/redis: replay bulk list: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var replayed bool
		err := s.withWatch(ctx, func(tx *goredis.Tx) error {
			replayed = false
			raw, err := tx.Get(ctx, entityKey(prefixDLQ, entryID)).Bytes()
			if err != nil {
				if isRedisNil(err) {
					return nil
				}
				return err
			}
			var entry dlq.Entry
			if err := unmarshalEntity(raw, &entry); err != nil {
				return err
			}
			replayed, err = s.replayEntry(ctx, tx, &entry)
			return err
		}, entityKey(prefixDLQ, entryID))
		if err != nil {
			// Entries whose subscription is gone do not stop the sweep.
			if errors.Is(err, loom.ErrSubscriptionNotFound) {
				continue
			}
			return count, err
		}
		if replayed {
			count++
		}
	}
	return count, nil
}

// replayEntry re-enqueues a DLQ entry's payload as a fresh pending delivery
// and stamps ReplayedAt. The payload is re-signed with the subscription's
// current secret so a rotation between failure and replay does not ship a
// stale signature. Already-replayed entries are left untouched; the return
// reports whether a delivery was enqueued.
func (s *Store) replayEntry(ctx context.Context, tx *goredis.Tx, entry *dlq.Entry) (bool, error) {
	if entry.ReplayedAt != nil {
		return false, nil
	}

	subRaw, err := tx.Get(ctx, entityKey(prefixSub, entry.SubscriptionID.String())).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return false, loom.ErrSubscriptionNotFound
		}
		return false, fmt.Errorf("loom/redis: replay subscription get: %w", err)
	}
	var sub webhook.Subscription
	if err := unmarshalEntity(subRaw, &sub); err != nil {
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
	dEncoded, err := marshalEntity(d)
	if err != nil {
		return false, err
	}

	t := now()
	entry.ReplayedAt = &t
	entry.Touch()
	entryEncoded, err := marshalEntity(entry)
	if err != nil {
		return false, err
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, entityKey(prefixDelivery, d.ID.String()), dEncoded, 0)
		pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: dueScore(d), Member: d.ID.String()})
		pipe.ZAdd(ctx, zDeliverySub+d.SubscriptionID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
		pipe.ZAdd(ctx, zDeliveryEvt+d.EventID.String(), goredis.Z{Score: scoreFromTime(d.CreatedAt), Member: d.ID.String()})
		pipe.Set(ctx, entityKey(prefixDLQ, entry.ID.String()), entryEncoded, 0)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	// FailedAt strictly before the threshold; the zset range is inclusive
	// so the exact boundary is re-checked per entry.
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return 0, fmt.Errorf("loom/redis: purge list: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var entry dlq.Entry
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &entry); err != nil {
			if isRedisNil(err) {
				continue
			}
			return count, err
		}
		if !entry.FailedAt.Before(before) {
			continue
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
		pipe.ZRem(ctx, zDLQSub+entry.SubscriptionID.String(), entryID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("loom/redis: purge delete: %w", err)
		}
		count++
	}
	return count, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("loom/redis: count dlq: %w", err)
	}
	return count, nil
}
