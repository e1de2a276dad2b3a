// Package catalog maintains the closed set of event types that webhook
// subscriptions may reference and that dispatch will accept.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Sentinel errors for catalog lookups.
var (
	// ErrUnknownEventType is returned when a name has no registered
	// definition.
	ErrUnknownEventType = errors.New("catalog: unknown event type")

	// ErrEventTypeDeprecated is returned when a deprecated event type is
	// dispatched or subscribed to.
	ErrEventTypeDeprecated = errors.New("catalog: event type is deprecated")
)

// Catalog is the in-memory cached service for the event type registry.
type Catalog struct {
	store     Store
	validator *Validator
	cache     map[string]*EventType
	cacheTTL  time.Duration
	lastLoad  time.Time
	mu        sync.RWMutex
	logger    *slog.Logger
}

// Config configures the catalog service.
type Config struct {
	// CacheTTL bounds the age of the in-memory event type cache.
	// Zero disables caching.
	CacheTTL time.Duration
}

// New creates a Catalog backed by the given store.
func New(store Store, cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:     store,
		validator: NewValidator(),
		cache:     make(map[string]*EventType),
		cacheTTL:  cfg.CacheTTL,
		logger:    logger,
	}
}

// RegisterType registers or updates an event type definition.
func (c *Catalog) RegisterType(ctx context.Context, def Definition) (*EventType, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("catalog: register type: name required")
	}

	et := &EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: def,
	}

	if err := c.store.RegisterType(ctx, et); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[def.Name] = et
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "event type registered", "name", def.Name, "group", def.Group)
	return et, nil
}

// GetType returns an event type by name, using the cache when fresh.
func (c *Catalog) GetType(ctx context.Context, name string) (*EventType, error) {
	c.mu.RLock()
	if et, ok := c.cache[name]; ok && !c.cacheExpired() {
		c.mu.RUnlock()
		return et, nil
	}
	c.mu.RUnlock()

	et, err := c.store.GetType(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[name] = et
	c.mu.Unlock()

	return et, nil
}

// ListTypes returns all registered event types.
func (c *Catalog) ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error) {
	return c.store.ListTypes(ctx, opts)
}

// ValidatePattern checks one subscribed event name or wildcard pattern.
// Exact names must reference a registered, non-deprecated event type;
// wildcard patterns are accepted as written and resolved at dispatch time.
func (c *Catalog) ValidatePattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownEventType)
	}
	if IsPattern(pattern) {
		return nil
	}

	et, err := c.GetType(ctx, pattern)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, pattern)
	}
	if et.IsDeprecated {
		return fmt.Errorf("%w: %q", ErrEventTypeDeprecated, pattern)
	}
	return nil
}

// CheckDispatchable gates event dispatch: the event type must be
// registered and not deprecated, and the payload must satisfy the
// definition's schema when one is attached.
func (c *Catalog) CheckDispatchable(ctx context.Context, name string, data any) error {
	et, err := c.GetType(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	if et.IsDeprecated {
		return fmt.Errorf("%w: %q", ErrEventTypeDeprecated, name)
	}
	if err := c.validator.Validate(et.Definition.Schema, data); err != nil {
		return fmt.Errorf("catalog: payload for %q: %w", name, err)
	}
	return nil
}

// DeprecateType soft-deletes an event type and removes it from cache.
func (c *Catalog) DeprecateType(ctx context.Context, name string) error {
	if err := c.store.DeprecateType(ctx, name); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()

	return nil
}

// InvalidateCache clears the in-memory cache, forcing fresh store reads.
func (c *Catalog) InvalidateCache() {
	c.mu.Lock()
	c.cache = make(map[string]*EventType)
	c.lastLoad = time.Time{}
	c.mu.Unlock()
}

// WarmCache preloads the cache from the store.
func (c *Catalog) WarmCache(ctx context.Context) error {
	types, err := c.store.ListTypes(ctx, ListOpts{IncludeDeprecated: false})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*EventType, len(types))
	for _, et := range types {
		c.cache[et.Definition.Name] = et
	}
	c.lastLoad = time.Now()
	return nil
}

// cacheExpired reports whether the cache TTL has elapsed. A zero TTL
// disables caching, so every lookup hits the store. Callers hold at
// least RLock.
func (c *Catalog) cacheExpired() bool {
	if c.cacheTTL <= 0 {
		return true
	}
	return time.Since(c.lastLoad) > c.cacheTTL
}
