package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateConnector(ctx context.Context, c *connector.Connector) error {
	key := entityKey(prefixConnector, c.ID.String())
	if err := s.setEntity(ctx, key, c); err != nil {
		return fmt.Errorf("loom/redis: create connector: %w", err)
	}
	err := s.rdb.ZAdd(ctx, zConnAll, goredis.Z{Score: scoreFromTime(c.CreatedAt), Member: c.ID.String()}).Err()
	if err != nil {
		return fmt.Errorf("loom/redis: create connector index: %w", err)
	}
	return nil
}

func (s *Store) GetConnector(ctx context.Context, connID id.ID) (*connector.Connector, error) {
	var c connector.Connector
	if err := s.getEntity(ctx, entityKey(prefixConnector, connID.String()), &c); err != nil {
		if isRedisNil(err) {
			return nil, loom.ErrConnectorNotFound
		}
		return nil, fmt.Errorf("loom/redis: get connector: %w", err)
	}
	return &c, nil
}

func (s *Store) UpdateConnector(ctx context.Context, c *connector.Connector) error {
	key := entityKey(prefixConnector, c.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: update connector: %w", err)
	}
	if exists == 0 {
		return loom.ErrConnectorNotFound
	}
	c.Touch()
	return s.setEntity(ctx, key, c)
}

func (s *Store) DeleteConnector(ctx context.Context, connID id.ID) error {
	key := entityKey(prefixConnector, connID.String())
	deleted, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: delete connector: %w", err)
	}
	if deleted == 0 {
		return loom.ErrConnectorNotFound
	}
	s.rdb.ZRem(ctx, zConnAll, connID.String())
	return nil
}

func (s *Store) ListConnectors(ctx context.Context, opts connector.ListOpts) ([]*connector.Connector, error) {
	ids, err := s.rdb.ZRange(ctx, zConnAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list connectors: %w", err)
	}

	result := make([]*connector.Connector, 0, len(ids))
	for _, entryID := range ids {
		var c connector.Connector
		if err := s.getEntity(ctx, entityKey(prefixConnector, entryID), &c); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Type != "" && c.Type != opts.Type {
			continue
		}
		if opts.Status != nil && c.Status != *opts.Status {
			continue
		}
		result = append(result, &c)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SetConnectorStatus(ctx context.Context, connID id.ID, status connector.Status) error {
	c, err := s.GetConnector(ctx, connID)
	if err != nil {
		return err
	}
	c.Status = status
	c.Touch()
	return s.setEntity(ctx, entityKey(prefixConnector, connID.String()), c)
}
