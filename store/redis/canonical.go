package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/id"
)

// versionKey returns the primary key for a schema version.
func versionKey(entityType string, version int) string {
	return prefixVersion + entityType + ":" + strconv.Itoa(version)
}

func (s *Store) CreateVersion(ctx context.Context, v *canonical.EntityVersion) error {
	raw, err := marshalEntity(v)
	if err != nil {
		return err
	}

	// SET NX makes the duplicate check atomic with the write.
	ok, err := s.rdb.SetNX(ctx, versionKey(v.EntityType, v.Version), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: create version: %w", err)
	}
	if !ok {
		return canonical.ErrVersionExists
	}

	err = s.rdb.ZAdd(ctx, zVersionType+v.EntityType, goredis.Z{
		Score:  float64(v.Version),
		Member: strconv.Itoa(v.Version),
	}).Err()
	if err != nil {
		return fmt.Errorf("loom/redis: create version index: %w", err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, entityType string, version int) (*canonical.EntityVersion, error) {
	var v canonical.EntityVersion
	if err := s.getEntity(ctx, versionKey(entityType, version), &v); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrSchemaVersionNotFound
		}
		return nil, fmt.Errorf("loom/redis: get version: %w", err)
	}
	return &v, nil
}

func (s *Store) LatestActiveVersion(ctx context.Context, entityType string) (*canonical.EntityVersion, error) {
	members, err := s.rdb.ZRevRange(ctx, zVersionType+entityType, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: latest active version: %w", err)
	}

	for _, member := range members {
		version, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		v, err := s.GetVersion(ctx, entityType, version)
		if err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if v.IsActive && !v.IsDeprecated {
			return v, nil
		}
	}
	return nil, canonical.ErrNoActiveSchema
}

func (s *Store) ListVersions(ctx context.Context, entityType string) ([]*canonical.EntityVersion, error) {
	members, err := s.rdb.ZRange(ctx, zVersionType+entityType, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list versions: %w", err)
	}

	result := make([]*canonical.EntityVersion, 0, len(members))
	for _, member := range members {
		version, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		var v canonical.EntityVersion
		if err := s.getEntity(ctx, versionKey(entityType, version), &v); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, &v)
	}
	return result, nil
}

func (s *Store) UpdateVersion(ctx context.Context, v *canonical.EntityVersion) error {
	key := versionKey(v.EntityType, v.Version)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: update version: %w", err)
	}
	if exists == 0 {
		return loom.ErrSchemaVersionNotFound
	}
	v.Touch()
	return s.setEntity(ctx, key, v)
}

func (s *Store) CreateAttribute(ctx context.Context, a *canonical.Attribute) error {
	key := entityKey(prefixAttribute, a.ID.String())
	if err := s.setEntity(ctx, key, a); err != nil {
		return fmt.Errorf("loom/redis: create attribute: %w", err)
	}
	zKey := zAttrVersion + a.EntityType + ":" + strconv.Itoa(a.Version)
	err := s.rdb.ZAdd(ctx, zKey, goredis.Z{Score: scoreFromTime(a.CreatedAt), Member: a.ID.String()}).Err()
	if err != nil {
		return fmt.Errorf("loom/redis: create attribute index: %w", err)
	}
	return nil
}

func (s *Store) ListAttributes(ctx context.Context, entityType string, version int) ([]*canonical.Attribute, error) {
	zKey := zAttrVersion + entityType + ":" + strconv.Itoa(version)
	ids, err := s.rdb.ZRange(ctx, zKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list attributes: %w", err)
	}

	result := make([]*canonical.Attribute, 0, len(ids))
	for _, entryID := range ids {
		var a canonical.Attribute
		if err := s.getEntity(ctx, entityKey(prefixAttribute, entryID), &a); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		result = append(result, &a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) CreateMapping(ctx context.Context, m *canonical.Mapping) error {
	key := entityKey(prefixMapping, m.ID.String())
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("loom/redis: create mapping: %w", err)
	}
	zKey := zMappingVersion + m.ConnectorID.String() + ":" + m.EntityType + ":" + strconv.Itoa(m.Version)
	err := s.rdb.ZAdd(ctx, zKey, goredis.Z{Score: float64(m.Priority), Member: m.ID.String()}).Err()
	if err != nil {
		return fmt.Errorf("loom/redis: create mapping index: %w", err)
	}
	return nil
}

func (s *Store) ListActiveMappings(ctx context.Context, connID id.ID, entityType string, version int) ([]*canonical.Mapping, error) {
	zKey := zMappingVersion + connID.String() + ":" + entityType + ":" + strconv.Itoa(version)
	ids, err := s.rdb.ZRange(ctx, zKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list active mappings: %w", err)
	}

	result := make([]*canonical.Mapping, 0, len(ids))
	for _, entryID := range ids {
		var m canonical.Mapping
		if err := s.getEntity(ctx, entityKey(prefixMapping, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if !m.IsActive {
			continue
		}
		result = append(result, &m)
	}
	return result, nil
}

func (s *Store) UpsertEntity(ctx context.Context, e *canonical.CanonicalEntity, overwriteApproved bool) error {
	idxKey := compositeKey(uniqueEntityKey, e.ConnectorID.String(), e.EntityType, e.ExternalID)

	return s.withWatch(ctx, func(tx *goredis.Tx) error {
		existingID, err := tx.Get(ctx, idxKey).Result()
		if err != nil && !isRedisNil(err) {
			return fmt.Errorf("loom/redis: upsert entity lookup: %w", err)
		}

		if err == nil {
			var existing canonical.CanonicalEntity
			raw, getErr := tx.Get(ctx, entityKey(prefixEntity, existingID)).Bytes()
			if getErr != nil {
				if !isRedisNil(getErr) {
					return fmt.Errorf("loom/redis: upsert entity get: %w", getErr)
				}
			} else {
				if unmarshalErr := unmarshalEntity(raw, &existing); unmarshalErr != nil {
					return unmarshalErr
				}
				if existing.IsApproved && !overwriteApproved {
					return canonical.ErrEntityApproved
				}
				// The row identity and approval state survive the rewrite.
				e.ID = existing.ID
				e.Entity = existing.Entity
				e.IsApproved = existing.IsApproved
				e.ApprovedBy = existing.ApprovedBy
				e.ApprovedAt = existing.ApprovedAt
				e.Touch()
			}
		}

		encoded, err := marshalEntity(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, entityKey(prefixEntity, e.ID.String()), encoded, 0)
			pipe.Set(ctx, idxKey, e.ID.String(), 0)
			pipe.ZAdd(ctx, zEntityAll, goredis.Z{Score: scoreFromTime(e.CreatedAt), Member: e.ID.String()})
			return nil
		})
		return err
	}, idxKey)
}

func (s *Store) GetEntity(ctx context.Context, entID id.ID) (*canonical.CanonicalEntity, error) {
	var e canonical.CanonicalEntity
	if err := s.getEntity(ctx, entityKey(prefixEntity, entID.String()), &e); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, fmt.Errorf("loom/redis: get entity: %w", err)
	}
	return &e, nil
}

func (s *Store) GetEntityByExternalID(ctx context.Context, connID id.ID, entityType, externalID string) (*canonical.CanonicalEntity, error) {
	idxKey := compositeKey(uniqueEntityKey, connID.String(), entityType, externalID)
	entryID, err := s.rdb.Get(ctx, idxKey).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEntityNotFound
		}
		return nil, fmt.Errorf("loom/redis: get entity lookup: %w", err)
	}
	entityID, err := id.Parse(entryID)
	if err != nil {
		return nil, fmt.Errorf("loom/redis: parse entity ID %q: %w", entryID, err)
	}
	return s.GetEntity(ctx, entityID)
}

func (s *Store) ListEntities(ctx context.Context, opts canonical.ListOpts) ([]*canonical.CanonicalEntity, error) {
	ids, err := s.rdb.ZRange(ctx, zEntityAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list entities: %w", err)
	}

	result := make([]*canonical.CanonicalEntity, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var e canonical.CanonicalEntity
		if err := s.getEntity(ctx, entityKey(prefixEntity, ids[i]), &e); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.EntityType != "" && e.EntityType != opts.EntityType {
			continue
		}
		if opts.ConnectorID != nil && e.ConnectorID != *opts.ConnectorID {
			continue
		}
		if opts.Approved != nil && e.IsApproved != *opts.Approved {
			continue
		}
		result = append(result, &e)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SetEntityApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error {
	e, err := s.GetEntity(ctx, entID)
	if err != nil {
		return err
	}
	e.IsApproved = approved
	if approved {
		e.ApprovedBy = approvedBy
		t := now()
		e.ApprovedAt = &t
	} else {
		e.ApprovedBy = ""
		e.ApprovedAt = nil
	}
	e.Touch()
	return s.setEntity(ctx, entityKey(prefixEntity, entID.String()), e)
}
