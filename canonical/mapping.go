package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// TransformKind is the closed enumeration of mapping transformations.
// Unknown kinds are a configuration error at mapping registration time,
// not a silent pass-through at map time.
type TransformKind string

const (
	// TransformDirect passes the external value through unchanged.
	TransformDirect TransformKind = "direct"

	// TransformSum reduces an array-valued input to the sum of its numeric
	// elements. Non-numeric elements are ignored.
	TransformSum TransformKind = "sum"

	// TransformAverage reduces an array-valued input to the mean of its
	// numeric elements. Non-numeric elements are ignored.
	TransformAverage TransformKind = "average"

	// TransformLookup substitutes the value via a JSON table in the mapping
	// parameters, falling back to the original value when the key is absent
	// or the table is malformed.
	TransformLookup TransformKind = "lookup"

	// TransformFTE divides a numeric value by the configured standard hours.
	TransformFTE TransformKind = "fte"

	// TransformCustom delegates to a host-registered transformation
	// function, passing through when none is registered.
	TransformCustom TransformKind = "custom"
)

// ParseTransformKind validates a transformation tag. Misconfigured mappings
// fail here, at registration, rather than being silently passed through.
func ParseTransformKind(s string) (TransformKind, error) {
	switch k := TransformKind(s); k {
	case TransformDirect, TransformSum, TransformAverage, TransformLookup, TransformFTE, TransformCustom:
		return k, nil
	default:
		return "", fmt.Errorf("canonical: unknown transformation kind %q", s)
	}
}

// Mapping is a per-connector rule mapping one external field onto one
// canonical attribute at a specific (entity type, schema version).
type Mapping struct {
	entity.Entity

	// ID is the unique TypeID for this mapping.
	ID id.ID `json:"id"`

	// ConnectorID scopes the mapping to one connector.
	ConnectorID id.ID `json:"connector_id"`

	// EntityType and Version scope the mapping to one schema version.
	EntityType string `json:"entity_type"`
	Version    int    `json:"version"`

	// ExternalField is the key expected in the external payload.
	ExternalField string `json:"external_field"`

	// Attribute is the canonical attribute the value maps onto.
	Attribute string `json:"attribute"`

	// Transform is the transformation applied to the external value.
	Transform TransformKind `json:"transform"`

	// Params carries transformation parameters (e.g. the lookup table,
	// an fte standard-hours override) as raw JSON.
	Params json.RawMessage `json:"params,omitempty"`

	// IsRequired marks fields that must be present (or defaulted) in the
	// external payload.
	IsRequired bool `json:"is_required"`

	// DefaultValue is used when the external field is absent.
	DefaultValue json.RawMessage `json:"default_value,omitempty"`

	// Priority orders application when multiple mappings target the same
	// attribute; higher priority is applied later and wins.
	Priority int `json:"priority"`

	// IsActive gates whether the mapping participates in the pipeline.
	IsActive bool `json:"is_active"`
}
