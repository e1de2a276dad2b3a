package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateVersion(ctx context.Context, v *canonical.EntityVersion) error {
	m := toSchemaVersionModel(v)
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (entity_type, version) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return canonical.ErrVersionExists
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, entityType string, version int) (*canonical.EntityVersion, error) {
	m := new(schemaVersionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("entity_type = ?", entityType).
		Where("version = ?", version).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrSchemaVersionNotFound
		}
		return nil, err
	}
	return fromSchemaVersionModel(m)
}

func (s *Store) LatestActiveVersion(ctx context.Context, entityType string) (*canonical.EntityVersion, error) {
	m := new(schemaVersionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("entity_type = ?", entityType).
		Where("is_active = true").
		Where("is_deprecated = false").
		Order("version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, canonical.ErrNoActiveSchema
		}
		return nil, err
	}
	return fromSchemaVersionModel(m)
}

func (s *Store) ListVersions(ctx context.Context, entityType string) ([]*canonical.EntityVersion, error) {
	var models []schemaVersionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("entity_type = ?", entityType).
		Order("version ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.EntityVersion, len(models))
	for i := range models {
		v, err := fromSchemaVersionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

func (s *Store) UpdateVersion(ctx context.Context, v *canonical.EntityVersion) error {
	m := toSchemaVersionModel(v)
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
		return loom.ErrSchemaVersionNotFound
	}
	return nil
}

func (s *Store) CreateAttribute(ctx context.Context, a *canonical.Attribute) error {
	m := toAttributeModel(a)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) ListAttributes(ctx context.Context, entityType string, version int) ([]*canonical.Attribute, error) {
	var models []attributeModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("entity_type = ?", entityType).
		Where("version = ?", version).
		Order("name ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.Attribute, len(models))
	for i := range models {
		a, err := fromAttributeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) CreateMapping(ctx context.Context, mp *canonical.Mapping) error {
	m := toMappingModel(mp)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) ListActiveMappings(ctx context.Context, connID id.ID, entityType string, version int) ([]*canonical.Mapping, error) {
	var models []mappingModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("connector_id = ?", connID.String()).
		Where("entity_type = ?", entityType).
		Where("version = ?", version).
		Where("is_active = true").
		Order("priority ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.Mapping, len(models))
	for i := range models {
		mp, err := fromMappingModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = mp
	}
	return result, nil
}

// UpsertEntity locks the (connector, entity type, external id) row so the
// approval check and the write commit as one unit.
func (s *Store) UpsertEntity(ctx context.Context, e *canonical.CanonicalEntity, overwriteApproved bool) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing := new(canonicalEntityModel)
		err := tx.NewSelect().
			Model(existing).
			Where("connector_id = ?", e.ConnectorID.String()).
			Where("entity_type = ?", e.EntityType).
			Where("external_id = ?", e.ExternalID).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			m, err := toCanonicalEntityModel(e)
			if err != nil {
				return err
			}
			_, err = tx.NewInsert().Model(m).Exec(ctx)
			return err
		case err != nil:
			return err
		}

		if existing.IsApproved && !overwriteApproved {
			return canonical.ErrEntityApproved
		}

		// The rewrite keeps the row identity and any human approval.
		prior, err := fromCanonicalEntityModel(existing)
		if err != nil {
			return err
		}
		e.ID = prior.ID
		e.Entity = prior.Entity
		e.IsApproved = prior.IsApproved
		e.ApprovedBy = prior.ApprovedBy
		e.ApprovedAt = prior.ApprovedAt
		e.Touch()

		m, err := toCanonicalEntityModel(e)
		if err != nil {
			return err
		}
		_, err = tx.NewUpdate().Model(m).WherePK().Exec(ctx)
		return err
	})
}

func (s *Store) GetEntity(ctx context.Context, entID id.ID) (*canonical.CanonicalEntity, error) {
	m := new(canonicalEntityModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", entID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, err
	}
	return fromCanonicalEntityModel(m)
}

func (s *Store) GetEntityByExternalID(ctx context.Context, connID id.ID, entityType, externalID string) (*canonical.CanonicalEntity, error) {
	m := new(canonicalEntityModel)
	err := s.db.NewSelect().
		Model(m).
		Where("connector_id = ?", connID.String()).
		Where("entity_type = ?", entityType).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, err
	}
	return fromCanonicalEntityModel(m)
}

func (s *Store) ListEntities(ctx context.Context, opts canonical.ListOpts) ([]*canonical.CanonicalEntity, error) {
	var models []canonicalEntityModel
	q := s.db.NewSelect().Model(&models)

	if opts.EntityType != "" {
		q = q.Where("entity_type = ?", opts.EntityType)
	}
	if opts.ConnectorID != nil {
		q = q.Where("connector_id = ?", opts.ConnectorID.String())
	}
	if opts.Approved != nil {
		q = q.Where("is_approved = ?", *opts.Approved)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*canonical.CanonicalEntity, len(models))
	for i := range models {
		e, err := fromCanonicalEntityModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) SetEntityApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error {
	now := time.Now().UTC()
	q := s.db.NewUpdate().
		Model((*canonicalEntityModel)(nil)).
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
