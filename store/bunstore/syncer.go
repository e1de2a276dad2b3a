package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/syncer"
)

func (s *Store) CreateJob(ctx context.Context, j *syncer.ImportJob) error {
	m := toImportJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) UpdateJob(ctx context.Context, j *syncer.ImportJob) error {
	m := toImportJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrJobNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*syncer.ImportJob, error) {
	m := new(importJobModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrJobNotFound
		}
		return nil, err
	}
	return fromImportJobModel(m)
}

func (s *Store) SearchJobs(ctx context.Context, opts syncer.JobSearchOpts) ([]*syncer.ImportJob, error) {
	var models []importJobModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.ConnectorID != nil {
		q = q.Where("connector_id = ?", opts.ConnectorID.String())
	}
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.Initiator != "" {
		q = q.Where("initiator = ?", opts.Initiator)
	}
	if opts.From != nil {
		q = q.Where("started_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("started_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("started_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*syncer.ImportJob, len(models))
	for i := range models {
		j, err := fromImportJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = j
	}
	return result, nil
}

// RecordHROutcome runs the reconciliation policy inside a transaction
// that locks the staging row, so the entity write and the record append
// commit as one unit.
func (s *Store) RecordHROutcome(ctx context.Context, incoming *syncer.HREntity, rec *syncer.HRSyncRecord) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var existing *syncer.HREntity
		if incoming != nil {
			m := new(hrEntityModel)
			err := tx.NewSelect().
				Model(m).
				Where("connector_id = ?", incoming.ConnectorID.String()).
				Where("external_id = ?", incoming.ExternalID).
				For("UPDATE").
				Limit(1).
				Scan(ctx)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return err
			default:
				if existing, err = fromHREntityModel(m); err != nil {
					return err
				}
			}
		}

		if syncer.ReconcileHR(existing, incoming, rec) {
			m, err := toHREntityModel(incoming)
			if err != nil {
				return err
			}
			if existing == nil {
				if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
					return err
				}
			} else {
				if _, err := tx.NewUpdate().Model(m).WherePK().Exec(ctx); err != nil {
					return err
				}
			}
		}

		_, err := tx.NewInsert().Model(toHRRecordModel(rec)).Exec(ctx)
		return err
	})
}

// RecordFinanceOutcome is RecordHROutcome for the finance domain.
func (s *Store) RecordFinanceOutcome(ctx context.Context, incoming *syncer.FinanceEntity, rec *syncer.FinanceSyncRecord) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var existing *syncer.FinanceEntity
		if incoming != nil {
			m := new(financeEntityModel)
			err := tx.NewSelect().
				Model(m).
				Where("connector_id = ?", incoming.ConnectorID.String()).
				Where("external_id = ?", incoming.ExternalID).
				For("UPDATE").
				Limit(1).
				Scan(ctx)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return err
			default:
				if existing, err = fromFinanceEntityModel(m); err != nil {
					return err
				}
			}
		}

		if syncer.ReconcileFinance(existing, incoming, rec) {
			m, err := toFinanceEntityModel(incoming)
			if err != nil {
				return err
			}
			if existing == nil {
				if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
					return err
				}
			} else {
				if _, err := tx.NewUpdate().Model(m).WherePK().Exec(ctx); err != nil {
					return err
				}
			}
		}

		_, err := tx.NewInsert().Model(toFinanceRecordModel(rec)).Exec(ctx)
		return err
	})
}

func (s *Store) GetHREntity(ctx context.Context, connID id.ID, externalID string) (*syncer.HREntity, error) {
	m := new(hrEntityModel)
	err := s.db.NewSelect().
		Model(m).
		Where("connector_id = ?", connID.String()).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, err
	}
	return fromHREntityModel(m)
}

func (s *Store) GetFinanceEntity(ctx context.Context, connID id.ID, externalID string) (*syncer.FinanceEntity, error) {
	m := new(financeEntityModel)
	err := s.db.NewSelect().
		Model(m).
		Where("connector_id = ?", connID.String()).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, err
	}
	return fromFinanceEntityModel(m)
}

func (s *Store) SetHRApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error {
	return s.setStagingApproval(ctx, (*hrEntityModel)(nil), entID, approved, approvedBy)
}

func (s *Store) SetFinanceApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error {
	return s.setStagingApproval(ctx, (*financeEntityModel)(nil), entID, approved, approvedBy)
}

func (s *Store) setStagingApproval(ctx context.Context, model any, entID id.ID, approved bool, approvedBy string) error {
	now := time.Now().UTC()
	q := s.db.NewUpdate().
		Model(model).
		Set("is_approved = ?", approved).
		Set("updated_at = ?", now).
		Where("id = ?", entID.String())
	if approved {
		q = q.Set("approved_by = ?", approvedBy).Set("approved_at = ?", now)
	} else {
		q = q.Set("approved_by = ''").Set("approved_at = NULL")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrEntityNotFound
	}
	return nil
}

func (s *Store) ListHRSyncRecords(ctx context.Context, opts syncer.RecordSearchOpts) ([]*syncer.HRSyncRecord, error) {
	var models []hrRecordModel
	q := s.db.NewSelect().Model(&models)
	q = applyRecordFilters(q, opts)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*syncer.HRSyncRecord, len(models))
	for i := range models {
		r, err := fromHRRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) ListFinanceSyncRecords(ctx context.Context, opts syncer.RecordSearchOpts) ([]*syncer.FinanceSyncRecord, error) {
	var models []financeRecordModel
	q := s.db.NewSelect().Model(&models)
	q = applyRecordFilters(q, opts)
	if opts.OverridesOnly {
		q = q.Where("approved_override_by != ''")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*syncer.FinanceSyncRecord, len(models))
	for i := range models {
		r, err := fromFinanceRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func applyRecordFilters(q *bun.SelectQuery, opts syncer.RecordSearchOpts) *bun.SelectQuery {
	if opts.ImportJobID != nil {
		q = q.Where("import_job_id = ?", opts.ImportJobID.String())
	}
	if opts.ConnectorID != nil {
		q = q.Where("connector_id = ?", opts.ConnectorID.String())
	}
	if opts.Outcome != nil {
		q = q.Where("outcome = ?", string(*opts.Outcome))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q.Order("created_at DESC")
}
