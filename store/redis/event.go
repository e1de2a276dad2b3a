package redis

import (
	"context"
	"fmt"
	"math"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	// Idempotency check via SET NX.
	if evt.IdempotencyKey != "" {
		ok, err := s.rdb.SetNX(ctx, uniqueEventIdem+evt.IdempotencyKey, evt.ID.String(), 0).Result()
		if err != nil {
			return fmt.Errorf("loom/redis: create event idem check: %w", err)
		}
		if !ok {
			return event.ErrDuplicateIdempotencyKey
		}
	}

	key := entityKey(prefixEvent, evt.ID.String())
	if err := s.setEntity(ctx, key, evt); err != nil {
		return fmt.Errorf("loom/redis: create event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEventAll, goredis.Z{Score: scoreFromTime(evt.CreatedAt), Member: evt.ID.String()})
	if evt.CorrelationID != "" {
		pipe.ZAdd(ctx, zEventCorr+evt.CorrelationID, goredis.Z{Score: scoreFromTime(evt.CreatedAt), Member: evt.ID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: create event indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var evt event.Event
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID.String()), &evt); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEventNotFound
		}
		return nil, fmt.Errorf("loom/redis: get event: %w", err)
	}
	return &evt, nil
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zEventAll, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var evt event.Event
		if err := s.getEntity(ctx, entityKey(prefixEvent, ids[i]), &evt); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		result = append(result, &evt)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListEventsByCorrelation(ctx context.Context, correlationID string) ([]*event.Event, error) {
	ids, err := s.rdb.ZRange(ctx, zEventCorr+correlationID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list events by correlation: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for _, entryID := range ids {
		var evt event.Event
		if err := s.getEntity(ctx, entityKey(prefixEvent, entryID), &evt); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, &evt)
	}
	return result, nil
}
