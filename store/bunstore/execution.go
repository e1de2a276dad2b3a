package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateLog(ctx context.Context, l *execution.IntegrationLog) error {
	m := toIntegrationLogModel(l)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) FinalizeLog(ctx context.Context, l *execution.IntegrationLog) error {
	m := toIntegrationLogModel(l)
	m.UpdatedAt = time.Now().UTC()

	// Completed logs are immutable; the guard refuses a second finalize.
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Where("completed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		exists, err := s.db.NewSelect().
			Model((*integrationLogModel)(nil)).
			Where("id = ?", m.ID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return loom.ErrLogFinalized
		}
		return loom.ErrLogNotFound
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, logID id.ID) (*execution.IntegrationLog, error) {
	m := new(integrationLogModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", logID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrLogNotFound
		}
		return nil, err
	}
	return fromIntegrationLogModel(m)
}

func (s *Store) ListLogs(ctx context.Context, opts execution.ListOpts) ([]*execution.IntegrationLog, error) {
	var models []integrationLogModel
	q := s.db.NewSelect().Model(&models)

	if opts.ConnectorID != nil {
		q = q.Where("connector_id = ?", opts.ConnectorID.String())
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.OperationType != "" {
		q = q.Where("operation_type = ?", opts.OperationType)
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

	result := make([]*execution.IntegrationLog, len(models))
	for i := range models {
		l, err := fromIntegrationLogModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	return result, nil
}

func (s *Store) ListLogsByCorrelation(ctx context.Context, correlationID string) ([]*execution.IntegrationLog, error) {
	var models []integrationLogModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("correlation_id = ?", correlationID).
		Order("started_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*execution.IntegrationLog, len(models))
	for i := range models {
		l, err := fromIntegrationLogModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	return result, nil
}
