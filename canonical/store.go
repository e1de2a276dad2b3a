package canonical

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for the canonical model.
type Store interface {
	// CreateVersion persists a schema version. Implementations must reject
	// duplicate (entity type, version) pairs with ErrVersionExists.
	CreateVersion(ctx context.Context, v *EntityVersion) error

	// GetVersion returns one schema version.
	GetVersion(ctx context.Context, entityType string, version int) (*EntityVersion, error)

	// LatestActiveVersion returns the highest-numbered active,
	// non-deprecated version for an entity type, or ErrNoActiveSchema.
	LatestActiveVersion(ctx context.Context, entityType string) (*EntityVersion, error)

	// ListVersions returns all versions for an entity type, ascending.
	ListVersions(ctx context.Context, entityType string) ([]*EntityVersion, error)

	// UpdateVersion modifies a schema version (activation, deprecation).
	UpdateVersion(ctx context.Context, v *EntityVersion) error

	// CreateAttribute persists an attribute definition.
	CreateAttribute(ctx context.Context, a *Attribute) error

	// ListAttributes returns the attributes of one schema version.
	ListAttributes(ctx context.Context, entityType string, version int) ([]*Attribute, error)

	// CreateMapping persists a mapping rule.
	CreateMapping(ctx context.Context, m *Mapping) error

	// ListActiveMappings returns the active mappings for
	// (connector, entity type, version).
	ListActiveMappings(ctx context.Context, connID id.ID, entityType string, version int) ([]*Mapping, error)

	// UpsertEntity creates or updates a canonical entity keyed by
	// (connector, entity type, external id). Implementations must perform
	// the check-and-write atomically per key and reject rewriting an
	// approved entity with ErrEntityApproved unless overwriteApproved is set.
	UpsertEntity(ctx context.Context, e *CanonicalEntity, overwriteApproved bool) error

	// GetEntity returns a canonical entity by ID.
	GetEntity(ctx context.Context, entID id.ID) (*CanonicalEntity, error)

	// GetEntityByExternalID returns the canonical entity for
	// (connector, entity type, external id).
	GetEntityByExternalID(ctx context.Context, connID id.ID, entityType, externalID string) (*CanonicalEntity, error)

	// ListEntities returns canonical entities, optionally filtered.
	ListEntities(ctx context.Context, opts ListOpts) ([]*CanonicalEntity, error)

	// SetEntityApproval flips the approval flag on a canonical entity.
	SetEntityApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error
}
