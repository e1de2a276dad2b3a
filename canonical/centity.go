package canonical

import (
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// CanonicalEntity is the normalized result of mapping one external record.
// Entities are born unapproved; once approved they are immutable to
// automated sync except via explicit admin override.
type CanonicalEntity struct {
	entity.Entity

	// ID is the unique TypeID for this canonical entity.
	ID id.ID `json:"id"`

	// ConnectorID references the connector the data came from.
	ConnectorID id.ID `json:"connector_id"`

	// EntityType and SchemaVersion identify the schema the Data conforms to.
	EntityType    string `json:"entity_type"`
	SchemaVersion int    `json:"schema_version"`

	// ExternalID is the source system's identifier for this record.
	ExternalID string `json:"external_id"`

	// Data is the canonical payload keyed by attribute name.
	Data Payload `json:"data"`

	// VendorExtensions preserves external fields no mapping covered.
	// Nothing is silently dropped when mapping configuration lags behind
	// the external schema.
	VendorExtensions Payload `json:"vendor_extensions,omitempty"`

	// SourceSystem names the external system the record came from.
	SourceSystem string `json:"source_system"`

	// IsApproved marks entities promoted by human review.
	IsApproved bool `json:"is_approved"`

	// ApprovedBy is the identity that approved the entity.
	ApprovedBy string `json:"approved_by,omitempty"`

	// ApprovedAt is when the entity was approved.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// ImportJobID tags the batch run that produced this entity.
	ImportJobID id.ID `json:"import_job_id,omitempty"`
}

// ListOpts configures filtering and pagination for canonical entity listing.
type ListOpts struct {
	Offset      int
	Limit       int
	EntityType  string
	ConnectorID *id.ID
	Approved    *bool
}
