package canonical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Registry manages schema versions, attributes, and mapping rules.
// Transformation kinds are validated here so a misconfigured mapping is a
// registration-time error, never a silent pass-through during mapping.
type Registry struct {
	store  Store
	logger *slog.Logger
}

// NewRegistry creates a canonical schema registry.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// VersionInput is the registration payload for a schema version.
type VersionInput struct {
	EntityType       string          `json:"entity_type"`
	Version          int             `json:"version"`
	SchemaDefinition json.RawMessage `json:"schema_definition,omitempty"`
	CompatibleWith   *int            `json:"compatible_with,omitempty"`
}

// RegisterVersion persists a new schema version, active immediately.
// (entity type, version) pairs are unique; duplicates are rejected.
func (r *Registry) RegisterVersion(ctx context.Context, in VersionInput) (*EntityVersion, error) {
	if in.EntityType == "" {
		return nil, fmt.Errorf("canonical: register version: entity type required")
	}
	if in.Version < 1 {
		return nil, fmt.Errorf("canonical: register version: version must be >= 1, got %d", in.Version)
	}

	v := &EntityVersion{
		Entity:           entity.New(),
		ID:               id.NewSchemaVersionID(),
		EntityType:       in.EntityType,
		Version:          in.Version,
		SchemaDefinition: in.SchemaDefinition,
		IsActive:         true,
		CompatibleWith:   in.CompatibleWith,
	}

	if err := r.store.CreateVersion(ctx, v); err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "schema version registered",
		"entity_type", in.EntityType, "version", in.Version)

	return v, nil
}

// DeprecateVersion marks a schema version as deprecated so it is no longer
// resolved implicitly.
func (r *Registry) DeprecateVersion(ctx context.Context, entityType string, version int) error {
	v, err := r.store.GetVersion(ctx, entityType, version)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	v.IsDeprecated = true
	v.DeprecatedAt = &now
	v.Touch()
	return r.store.UpdateVersion(ctx, v)
}

// AttributeInput is the registration payload for a canonical attribute.
type AttributeInput struct {
	EntityType string        `json:"entity_type"`
	Version    int           `json:"version"`
	Name       string        `json:"name"`
	DataType   AttributeType `json:"data_type"`
	IsRequired bool          `json:"is_required"`
	ReplacedBy string        `json:"replaced_by,omitempty"`
}

// RegisterAttribute persists an attribute definition for a schema version.
func (r *Registry) RegisterAttribute(ctx context.Context, in AttributeInput) (*Attribute, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("canonical: register attribute: name required")
	}
	if _, err := r.store.GetVersion(ctx, in.EntityType, in.Version); err != nil {
		return nil, err
	}

	a := &Attribute{
		Entity:     entity.New(),
		ID:         id.NewAttributeID(),
		EntityType: in.EntityType,
		Version:    in.Version,
		Name:       in.Name,
		DataType:   in.DataType,
		IsRequired: in.IsRequired,
		ReplacedBy: in.ReplacedBy,
	}
	if err := r.store.CreateAttribute(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// MappingInput is the registration payload for a mapping rule.
type MappingInput struct {
	ConnectorID   id.ID           `json:"connector_id"`
	EntityType    string          `json:"entity_type"`
	Version       int             `json:"version"`
	ExternalField string          `json:"external_field"`
	Attribute     string          `json:"attribute"`
	Transform     string          `json:"transform"`
	Params        json.RawMessage `json:"params,omitempty"`
	IsRequired    bool            `json:"is_required"`
	DefaultValue  json.RawMessage `json:"default_value,omitempty"`
	Priority      int             `json:"priority"`
}

// RegisterMapping persists a mapping rule after validating its
// transformation kind against the closed set.
func (r *Registry) RegisterMapping(ctx context.Context, in MappingInput) (*Mapping, error) {
	if in.ExternalField == "" {
		return nil, fmt.Errorf("canonical: register mapping: external field required")
	}
	if in.Attribute == "" {
		return nil, fmt.Errorf("canonical: register mapping: attribute required")
	}
	if _, err := r.store.GetVersion(ctx, in.EntityType, in.Version); err != nil {
		return nil, err
	}

	kind, err := ParseTransformKind(in.Transform)
	if err != nil {
		return nil, err
	}

	m := &Mapping{
		Entity:        entity.New(),
		ID:            id.NewMappingID(),
		ConnectorID:   in.ConnectorID,
		EntityType:    in.EntityType,
		Version:       in.Version,
		ExternalField: in.ExternalField,
		Attribute:     in.Attribute,
		Transform:     kind,
		Params:        in.Params,
		IsRequired:    in.IsRequired,
		DefaultValue:  in.DefaultValue,
		Priority:      in.Priority,
		IsActive:      true,
	}
	if err := r.store.CreateMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Approve promotes a canonical entity to approved, freezing it against
// automated sync.
func (r *Registry) Approve(ctx context.Context, entID id.ID, approvedBy string) error {
	if approvedBy == "" {
		return fmt.Errorf("canonical: approve: approver identity required")
	}
	return r.store.SetEntityApproval(ctx, entID, true, approvedBy)
}

// Revoke withdraws approval from a canonical entity, reopening it to
// automated sync.
func (r *Registry) Revoke(ctx context.Context, entID id.ID) error {
	return r.store.SetEntityApproval(ctx, entID, false, "")
}
