package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateConnector(ctx context.Context, c *connector.Connector) error {
	m, err := toConnectorModel(c)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetConnector(ctx context.Context, connID id.ID) (*connector.Connector, error) {
	m := new(connectorModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", connID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrConnectorNotFound
		}
		return nil, err
	}
	return fromConnectorModel(m)
}

func (s *Store) UpdateConnector(ctx context.Context, c *connector.Connector) error {
	m, err := toConnectorModel(c)
	if err != nil {
		return err
	}
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
		return loom.ErrConnectorNotFound
	}
	return nil
}

func (s *Store) DeleteConnector(ctx context.Context, connID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*connectorModel)(nil)).
		Where("id = ?", connID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrConnectorNotFound
	}
	return nil
}

func (s *Store) ListConnectors(ctx context.Context, opts connector.ListOpts) ([]*connector.Connector, error) {
	var models []connectorModel
	q := s.db.NewSelect().Model(&models)

	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
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

	result := make([]*connector.Connector, len(models))
	for i := range models {
		c, err := fromConnectorModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) SetConnectorStatus(ctx context.Context, connID id.ID, status connector.Status) error {
	res, err := s.db.NewUpdate().
		Model((*connectorModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", connID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrConnectorNotFound
	}
	return nil
}
