package canonical

import (
	"encoding/json"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// EntityVersion is one version of the canonical schema for an entity type.
// (EntityType, Version) is unique; at most one version per type is the
// "latest active" (highest version number among active, non-deprecated).
type EntityVersion struct {
	entity.Entity

	// ID is the unique TypeID for this schema version.
	ID id.ID `json:"id"`

	// EntityType names the canonical entity kind (e.g. "employee").
	EntityType string `json:"entity_type"`

	// Version is the monotonically increasing schema version number.
	Version int `json:"version"`

	// SchemaDefinition is an optional JSON Schema describing the canonical
	// payload shape. When set, mapped entities are validated against it.
	SchemaDefinition json.RawMessage `json:"schema_definition,omitempty"`

	// IsActive gates whether the version may be resolved for mapping.
	IsActive bool `json:"is_active"`

	// IsDeprecated marks versions being phased out. Deprecated versions are
	// never resolved implicitly.
	IsDeprecated bool `json:"is_deprecated"`

	// CompatibleWith optionally points at the version this one is backward
	// compatible with.
	CompatibleWith *int `json:"compatible_with,omitempty"`

	// DeprecatedAt is when the version was deprecated.
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// AttributeType is the data type of a canonical attribute.
type AttributeType string

const (
	AttributeString  AttributeType = "string"
	AttributeNumber  AttributeType = "number"
	AttributeBool    AttributeType = "bool"
	AttributeDate    AttributeType = "date"
	AttributeArray   AttributeType = "array"
	AttributeObject  AttributeType = "object"
)

// Attribute is a named field definition scoped to (entity type, version).
type Attribute struct {
	entity.Entity

	// ID is the unique TypeID for this attribute.
	ID id.ID `json:"id"`

	// EntityType and Version scope the attribute to one schema version.
	EntityType string `json:"entity_type"`
	Version    int    `json:"version"`

	// Name is the canonical field name.
	Name string `json:"name"`

	// DataType is the expected value type.
	DataType AttributeType `json:"data_type"`

	// IsRequired marks attributes that must be populated by mapping.
	IsRequired bool `json:"is_required"`

	// ReplacedBy points at the attribute superseding this one, when the
	// attribute itself is deprecated.
	ReplacedBy string `json:"replaced_by,omitempty"`
}
