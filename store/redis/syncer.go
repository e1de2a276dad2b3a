package redis

import (
	"context"
	"fmt"
	"math"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/syncer"
)

func (s *Store) CreateJob(ctx context.Context, j *syncer.ImportJob) error {
	key := entityKey(prefixJob, j.ID.String())
	if err := s.setEntity(ctx, key, j); err != nil {
		return fmt.Errorf("loom/redis: create job: %w", err)
	}
	err := s.rdb.ZAdd(ctx, zJobAll, goredis.Z{Score: scoreFromTime(j.StartedAt), Member: j.ID.String()}).Err()
	if err != nil {
		return fmt.Errorf("loom/redis: create job index: %w", err)
	}
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, j *syncer.ImportJob) error {
	key := entityKey(prefixJob, j.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: update job: %w", err)
	}
	if exists == 0 {
		return loom.ErrJobNotFound
	}
	j.Touch()
	return s.setEntity(ctx, key, j)
}

func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*syncer.ImportJob, error) {
	var j syncer.ImportJob
	if err := s.getEntity(ctx, entityKey(prefixJob, jobID.String()), &j); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrJobNotFound
		}
		return nil, fmt.Errorf("loom/redis: get job: %w", err)
	}
	return &j, nil
}

func (s *Store) SearchJobs(ctx context.Context, opts syncer.JobSearchOpts) ([]*syncer.ImportJob, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zJobAll, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("loom/redis: search jobs: %w", err)
	}

	result := make([]*syncer.ImportJob, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var j syncer.ImportJob
		if err := s.getEntity(ctx, entityKey(prefixJob, ids[i]), &j); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && j.Status != *opts.Status {
			continue
		}
		if opts.ConnectorID != nil && j.ConnectorID != *opts.ConnectorID {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Initiator != "" && j.Initiator != opts.Initiator {
			continue
		}
		result = append(result, &j)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// RecordHROutcome reconciles under WATCH on the staging key index so the
// staging write and the record append commit as one unit per
// (connector, external id).
func (s *Store) RecordHROutcome(ctx context.Context, incoming *syncer.HREntity, rec *syncer.HRSyncRecord) error {
	idxKey := compositeKey(uniqueHRKey, rec.ConnectorID.String(), rec.ExternalID)

	return s.withWatch(ctx, func(tx *goredis.Tx) error {
		var existing *syncer.HREntity
		existingID, err := tx.Get(ctx, idxKey).Result()
		if err != nil && !isRedisNil(err) {
			return fmt.Errorf("loom/redis: hr outcome lookup: %w", err)
		}
		if err == nil {
			raw, getErr := tx.Get(ctx, entityKey(prefixHREntity, existingID)).Bytes()
			if getErr != nil && !isRedisNil(getErr) {
				return fmt.Errorf("loom/redis: hr outcome get: %w", getErr)
			}
			if getErr == nil {
				var e syncer.HREntity
				if unmarshalErr := unmarshalEntity(raw, &e); unmarshalErr != nil {
					return unmarshalErr
				}
				existing = &e
			}
		}

		writeStaging := syncer.ReconcileHR(existing, incoming, rec)

		recEncoded, err := marshalEntity(rec)
		if err != nil {
			return err
		}
		var stagingEncoded []byte
		if writeStaging {
			stagingEncoded, err = marshalEntity(incoming)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if writeStaging {
				pipe.Set(ctx, entityKey(prefixHREntity, incoming.ID.String()), stagingEncoded, 0)
				pipe.Set(ctx, idxKey, incoming.ID.String(), 0)
			}
			pipe.Set(ctx, entityKey(prefixHRRecord, rec.ID.String()), recEncoded, 0)
			pipe.ZAdd(ctx, zHRRecAll, goredis.Z{Score: scoreFromTime(rec.CreatedAt), Member: rec.ID.String()})
			return nil
		})
		return err
	}, idxKey)
}

// RecordFinanceOutcome is RecordHROutcome for the finance domain.
func (s *Store) RecordFinanceOutcome(ctx context.Context, incoming *syncer.FinanceEntity, rec *syncer.FinanceSyncRecord) error {
	idxKey := compositeKey(uniqueFinKey, rec.ConnectorID.String(), rec.ExternalID)

	return s.withWatch(ctx, func(tx *goredis.Tx) error {
		var existing *syncer.FinanceEntity
		existingID, err := tx.Get(ctx, idxKey).Result()
		if err != nil && !isRedisNil(err) {
			return fmt.Errorf("loom/redis: finance outcome lookup: %w", err)
		}
		if err == nil {
			raw, getErr := tx.Get(ctx, entityKey(prefixFinEntity, existingID)).Bytes()
			if getErr != nil && !isRedisNil(getErr) {
				return fmt.Errorf("loom/redis: finance outcome get: %w", getErr)
			}
			if getErr == nil {
				var e syncer.FinanceEntity
				if unmarshalErr := unmarshalEntity(raw, &e); unmarshalErr != nil {
					return unmarshalErr
				}
				existing = &e
			}
		}

		writeStaging := syncer.ReconcileFinance(existing, incoming, rec)

		recEncoded, err := marshalEntity(rec)
		if err != nil {
			return err
		}
		var stagingEncoded []byte
		if writeStaging {
			stagingEncoded, err = marshalEntity(incoming)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if writeStaging {
				pipe.Set(ctx, entityKey(prefixFinEntity, incoming.ID.String()), stagingEncoded, 0)
				pipe.Set(ctx, idxKey, incoming.ID.String(), 0)
			}
			pipe.Set(ctx, entityKey(prefixFinRecord, rec.ID.String()), recEncoded, 0)
			pipe.ZAdd(ctx, zFinRecAll, goredis.Z{Score: scoreFromTime(rec.CreatedAt), Member: rec.ID.String()})
			return nil
		})
		return err
	}, idxKey)
}

func (s *Store) GetHREntity(ctx context.Context, connID id.ID, externalID string) (*syncer.HREntity, error) {
	idxKey := compositeKey(uniqueHRKey, connID.String(), externalID)
	entryID, err := s.rdb.Get(ctx, idxKey).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, fmt.Errorf("loom/redis: get hr entity lookup: %w", err)
	}

	var e syncer.HREntity
	if err := s.getEntity(ctx, entityKey(prefixHREntity, entryID), &e); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, fmt.Errorf("loom/redis: get hr entity: %w", err)
	}
	return &e, nil
}

func (s *Store) GetFinanceEntity(ctx context.Context, connID id.ID, externalID string) (*syncer.FinanceEntity, error) {
	idxKey := compositeKey(uniqueFinKey, connID.String(), externalID)
	entryID, err := s.rdb.Get(ctx, idxKey).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, fmt.Errorf("loom/redis: get finance entity lookup: %w", err)
	}

	var e syncer.FinanceEntity
	if err := s.getEntity(ctx, entityKey(prefixFinEntity, entryID), &e); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, fmt.Errorf("loom/redis: get finance entity: %w", err)
	}
	return &e, nil
}

func (s *Store) SetHRApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error {
	key := entityKey(prefixHREntity, entID.String())
	var e syncer.HREntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isRedisNil(err) {
			return loom.ErrEntityNotFound
		}
		return fmt.Errorf("loom/redis: set hr approval: %w", err)
	}
	applyApproval(&e.IsApproved, &e.ApprovedBy, &e.ApprovedAt, approved, approvedBy)
	e.Touch()
	return s.setEntity(ctx, key, &e)
}

func (s *Store) SetFinanceApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error {
	key := entityKey(prefixFinEntity, entID.String())
	var e syncer.FinanceEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isRedisNil(err) {
			return loom.ErrEntityNotFound
		}
		return fmt.Errorf("loom/redis: set finance approval: %w", err)
	}
	applyApproval(&e.IsApproved, &e.ApprovedBy, &e.ApprovedAt, approved, approvedBy)
	e.Touch()
	return s.setEntity(ctx, key, &e)
}

func (s *Store) ListHRSyncRecords(ctx context.Context, opts syncer.RecordSearchOpts) ([]*syncer.HRSyncRecord, error) {
	ids, err := s.rdb.ZRange(ctx, zHRRecAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list hr sync records: %w", err)
	}

	result := make([]*syncer.HRSyncRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var r syncer.HRSyncRecord
		if err := s.getEntity(ctx, entityKey(prefixHRRecord, ids[i]), &r); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.ImportJobID != nil && r.ImportJobID != *opts.ImportJobID {
			continue
		}
		if opts.ConnectorID != nil && r.ConnectorID != *opts.ConnectorID {
			continue
		}
		if opts.Outcome != nil && r.Outcome != *opts.Outcome {
			continue
		}
		result = append(result, &r)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListFinanceSyncRecords(ctx context.Context, opts syncer.RecordSearchOpts) ([]*syncer.FinanceSyncRecord, error) {
	ids, err := s.rdb.ZRange(ctx, zFinRecAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list finance sync records: %w", err)
	}

	result := make([]*syncer.FinanceSyncRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var r syncer.FinanceSyncRecord
		if err := s.getEntity(ctx, entityKey(prefixFinRecord, ids[i]), &r); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.ImportJobID != nil && r.ImportJobID != *opts.ImportJobID {
			continue
		}
		if opts.ConnectorID != nil && r.ConnectorID != *opts.ConnectorID {
			continue
		}
		if opts.Outcome != nil && r.Outcome != *opts.Outcome {
			continue
		}
		if opts.OverridesOnly && r.ApprovedOverrideBy == "" {
			continue
		}
		result = append(result, &r)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
