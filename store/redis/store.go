// Package redis implements store.Store on Redis. Entities are stored as
// JSON blobs with sorted set indexes for listings; unique constraints use
// SET NX keys and check-and-write sections run under WATCH transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	loomstore "github.com/loomhq/loom/store"
)

// compile-time interface check
var _ loomstore.Store = (*Store)(nil)

// txRetries bounds optimistic retry loops on WATCH contention.
const txRetries = 5

// Store implements store.Store using Redis.
type Store struct {
	rdb goredis.UniversalClient
}

// New creates a new Redis store.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close(_ context.Context) error {
	return s.rdb.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// setEntity encodes and stores a JSON entity.
func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("loom/redis: marshal entity: %w", err)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

// marshalEntity encodes an entity for storage inside WATCH transactions,
// where writes go through the transaction pipeline rather than setEntity.
func marshalEntity(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("loom/redis: marshal entity: %w", err)
	}
	return raw, nil
}

func unmarshalEntity(raw []byte, dest any) error {
	return json.Unmarshal(raw, dest)
}

// withWatch runs fn under WATCH on the given keys, retrying on transaction
// contention.
func (s *Store) withWatch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range txRetries {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("loom/redis: transaction contention on %v", keys)
}

// zRangeByScoreIDs returns all member IDs from a sorted set within a score range.
func (s *Store) zRangeByScoreIDs(ctx context.Context, key string, lo, hi float64) ([]string, error) {
	minStr := "-inf"
	maxStr := "+inf"
	if !math.IsInf(lo, -1) {
		minStr = strconv.FormatFloat(lo, 'f', -1, 64)
	}
	if !math.IsInf(hi, 1) {
		maxStr = strconv.FormatFloat(hi, 'f', -1, 64)
	}
	return s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: minStr,
		Max: maxStr,
	}).Result()
}

// applyApproval flips an entity's approval fields in place.
func applyApproval(flag *bool, by *string, at **time.Time, approved bool, approvedBy string) {
	*flag = approved
	if approved {
		*by = approvedBy
		t := now()
		*at = &t
	} else {
		*by = ""
		*at = nil
	}
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
