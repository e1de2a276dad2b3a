package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/id"
)

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = false").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", etID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.db.NewSelect().Model(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.EventType, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = et
	}
	return result, nil
}

func (s *Store) DeprecateType(ctx context.Context, name string) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = ?", now).
		Set("updated_at = ?", now).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return loom.ErrEventTypeNotFound
	}
	return nil
}
