package redis

import (
	"context"
	"fmt"
	"math"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateLog(ctx context.Context, l *execution.IntegrationLog) error {
	key := entityKey(prefixLog, l.ID.String())
	if err := s.setEntity(ctx, key, l); err != nil {
		return fmt.Errorf("loom/redis: create log: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zLogAll, goredis.Z{Score: scoreFromTime(l.StartedAt), Member: l.ID.String()})
	if l.CorrelationID != "" {
		pipe.ZAdd(ctx, zLogCorr+l.CorrelationID, goredis.Z{Score: scoreFromTime(l.StartedAt), Member: l.ID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: create log indexes: %w", err)
	}
	return nil
}

func (s *Store) FinalizeLog(ctx context.Context, l *execution.IntegrationLog) error {
	key := entityKey(prefixLog, l.ID.String())
	return s.withWatch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if isRedisNil(err) {
				return loom.ErrLogNotFound
			}
			return fmt.Errorf("loom/redis: finalize log get: %w", err)
		}
		var existing execution.IntegrationLog
		if err := unmarshalEntity(raw, &existing); err != nil {
			return err
		}
		if existing.CompletedAt != nil {
			return loom.ErrLogFinalized
		}

		l.Touch()
		encoded, err := marshalEntity(l)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}, key)
}

func (s *Store) GetLog(ctx context.Context, logID id.ID) (*execution.IntegrationLog, error) {
	var l execution.IntegrationLog
	if err := s.getEntity(ctx, entityKey(prefixLog, logID.String()), &l); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrLogNotFound
		}
		return nil, fmt.Errorf("loom/redis: get log: %w", err)
	}
	return &l, nil
}

func (s *Store) ListLogs(ctx context.Context, opts execution.ListOpts) ([]*execution.IntegrationLog, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zLogAll, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list logs: %w", err)
	}

	result := make([]*execution.IntegrationLog, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var l execution.IntegrationLog
		if err := s.getEntity(ctx, entityKey(prefixLog, ids[i]), &l); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.ConnectorID != nil && l.ConnectorID != *opts.ConnectorID {
			continue
		}
		if opts.Status != nil && l.Status != *opts.Status {
			continue
		}
		if opts.OperationType != "" && l.OperationType != opts.OperationType {
			continue
		}
		if opts.Initiator != "" && l.Initiator != opts.Initiator {
			continue
		}
		result = append(result, &l)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListLogsByCorrelation(ctx context.Context, correlationID string) ([]*execution.IntegrationLog, error) {
	ids, err := s.rdb.ZRange(ctx, zLogCorr+correlationID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list logs by correlation: %w", err)
	}

	result := make([]*execution.IntegrationLog, 0, len(ids))
	for _, entryID := range ids {
		var l execution.IntegrationLog
		if err := s.getEntity(ctx, entityKey(prefixLog, entryID), &l); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, &l)
	}
	return result, nil
}
