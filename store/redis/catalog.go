package redis

import (
	"context"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/id"
)

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	// Re-registering an existing name updates the definition in place and
	// clears any deprecation; the original ID survives.
	existingID, lookupErr := s.rdb.Get(ctx, uniqueEventTypeName+et.Definition.Name).Result()
	if lookupErr == nil && existingID != "" && existingID != et.ID.String() {
		var existing catalog.EventType
		if getErr := s.getEntity(ctx, entityKey(prefixEventType, existingID), &existing); getErr == nil {
			existing.Definition = et.Definition
			existing.Metadata = et.Metadata
			existing.IsDeprecated = false
			existing.DeprecatedAt = nil
			existing.Touch()
			return s.setEntity(ctx, entityKey(prefixEventType, existingID), &existing)
		}
	}

	key := entityKey(prefixEventType, et.ID.String())
	if err := s.setEntity(ctx, key, et); err != nil {
		return fmt.Errorf("loom/redis: register type: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, uniqueEventTypeName+et.Definition.Name, et.ID.String(), 0)
	pipe.ZAdd(ctx, zEventTypeAll, goredis.Z{Score: scoreFromTime(et.CreatedAt), Member: et.ID.String()})
	if et.Definition.Group != "" {
		pipe.ZAdd(ctx, zEventTypeGroup+et.Definition.Group, goredis.Z{Score: scoreFromTime(et.CreatedAt), Member: et.ID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: register type indexes: %w", err)
	}
	return nil
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	entryID, err := s.rdb.Get(ctx, uniqueEventTypeName+name).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("loom/redis: get type lookup: %w", err)
	}

	var et catalog.EventType
	if err := s.getEntity(ctx, entityKey(prefixEventType, entryID), &et); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("loom/redis: get type: %w", err)
	}
	return &et, nil
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	var et catalog.EventType
	if err := s.getEntity(ctx, entityKey(prefixEventType, etID.String()), &et); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("loom/redis: get type by id: %w", err)
	}
	return &et, nil
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	zKey := zEventTypeAll
	if opts.Group != "" {
		zKey = zEventTypeGroup + opts.Group
	}

	ids, err := s.rdb.ZRange(ctx, zKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list types: %w", err)
	}

	result := make([]*catalog.EventType, 0, len(ids))
	for _, entryID := range ids {
		var et catalog.EventType
		if err := s.getEntity(ctx, entityKey(prefixEventType, entryID), &et); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		result = append(result, &et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeprecateType(ctx context.Context, name string) error {
	entryID, err := s.rdb.Get(ctx, uniqueEventTypeName+name).Result()
	if err != nil {
		if isRedisNil(err) {
			return loom.ErrEventTypeNotFound
		}
		return fmt.Errorf("loom/redis: deprecate type lookup: %w", err)
	}

	key := entityKey(prefixEventType, entryID)
	var et catalog.EventType
	if err := s.getEntity(ctx, key, &et); err != nil {
		if isRedisNil(err) {
			return loom.ErrEventTypeNotFound
		}
		return fmt.Errorf("loom/redis: deprecate type get: %w", err)
	}

	t := now()
	et.IsDeprecated = true
	et.DeprecatedAt = &t
	et.Touch()
	return s.setEntity(ctx, key, &et)
}
