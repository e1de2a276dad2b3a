// Package syncer pulls HR and finance records from external systems,
// stages them, and reconciles every record against approval policy.
// Each record yields exactly one staging write decision and one
// append-only sync record.
package syncer

import (
	"time"

	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Outcome classifies the result of reconciling one record.
type Outcome string

const (
	// OutcomeImported means a new staging entity was created.
	OutcomeImported Outcome = "imported"

	// OutcomeUpdated means an existing staging entity was rewritten.
	OutcomeUpdated Outcome = "updated"

	// OutcomeConflictPreserved means the incoming record conflicted with an
	// approved entity and the entity was left untouched. Finance only.
	OutcomeConflictPreserved Outcome = "conflict_preserved"

	// OutcomeRejected means the record was refused by approval policy.
	OutcomeRejected Outcome = "rejected"

	// OutcomeFailed means the record could not be processed.
	OutcomeFailed Outcome = "failed"
)

// ResolutionAdminOverride marks a finance conflict resolved by an
// explicitly named administrator.
const ResolutionAdminOverride = "admin_override"

// HREntity is a staged HR record. At most one exists per
// (connector, external id).
type HREntity struct {
	entity.Entity

	// ID is the unique TypeID for this staging entity.
	ID id.ID `json:"id"`

	// ConnectorID references the connector the record came from.
	ConnectorID id.ID `json:"connector_id"`

	// ExternalID is the source system's identifier for this record.
	ExternalID string `json:"external_id"`

	// Data is the staged payload after the connector's field map.
	Data canonical.Payload `json:"data"`

	// IsApproved freezes the entity against automated sync.
	IsApproved bool `json:"is_approved"`

	// ApprovedBy is the identity that approved the entity.
	ApprovedBy string `json:"approved_by,omitempty"`

	// ApprovedAt is when the entity was approved.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// ImportJobID tags the batch run that last wrote this entity.
	ImportJobID id.ID `json:"import_job_id"`
}

// FinanceEntity is a staged finance record. At most one exists per
// (connector, external id).
type FinanceEntity struct {
	entity.Entity

	// ID is the unique TypeID for this staging entity.
	ID id.ID `json:"id"`

	// ConnectorID references the connector the record came from.
	ConnectorID id.ID `json:"connector_id"`

	// ExternalID is the source system's identifier for this record.
	ExternalID string `json:"external_id"`

	// Data is the staged payload after the connector's field map.
	Data canonical.Payload `json:"data"`

	// IsApproved freezes the entity against automated sync without an
	// admin override.
	IsApproved bool `json:"is_approved"`

	// ApprovedBy is the identity that approved the entity.
	ApprovedBy string `json:"approved_by,omitempty"`

	// ApprovedAt is when the entity was approved.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// ImportJobID tags the batch run that last wrote this entity.
	ImportJobID id.ID `json:"import_job_id"`
}

// HRSyncRecord is the append-only history entry for one reconciled HR
// record. Records are never mutated after creation.
type HRSyncRecord struct {
	entity.Entity

	// ID is the unique TypeID for this sync record.
	ID id.ID `json:"id"`

	// ConnectorID references the connector the record came from.
	ConnectorID id.ID `json:"connector_id"`

	// EntityID references the staging entity the record reconciled
	// against, when one exists.
	EntityID id.ID `json:"entity_id,omitempty"`

	// ExternalID is the source system's identifier for the record.
	ExternalID string `json:"external_id"`

	// ImportJobID tags the batch run that produced this record.
	ImportJobID id.ID `json:"import_job_id"`

	// Outcome is the reconciliation result.
	Outcome Outcome `json:"outcome"`

	// RejectionReason explains a rejected outcome.
	RejectionReason string `json:"rejection_reason,omitempty"`

	// Error carries the failure detail for a failed outcome.
	Error string `json:"error,omitempty"`
}

// FinanceSyncRecord is the append-only history entry for one reconciled
// finance record, including the conflict trail.
type FinanceSyncRecord struct {
	entity.Entity

	// ID is the unique TypeID for this sync record.
	ID id.ID `json:"id"`

	// ConnectorID references the connector the record came from.
	ConnectorID id.ID `json:"connector_id"`

	// EntityID references the staging entity the record reconciled
	// against, when one exists.
	EntityID id.ID `json:"entity_id,omitempty"`

	// ExternalID is the source system's identifier for the record.
	ExternalID string `json:"external_id"`

	// ImportJobID tags the batch run that produced this record.
	ImportJobID id.ID `json:"import_job_id"`

	// Outcome is the reconciliation result.
	Outcome Outcome `json:"outcome"`

	// RejectionReason explains a rejected outcome.
	RejectionReason string `json:"rejection_reason,omitempty"`

	// Error carries the failure detail for a failed outcome.
	Error string `json:"error,omitempty"`

	// ConflictDetected is set when the incoming record targeted an
	// approved entity.
	ConflictDetected bool `json:"conflict_detected,omitempty"`

	// ConflictResolution records how a detected conflict was resolved.
	ConflictResolution string `json:"conflict_resolution,omitempty"`

	// ApprovedOverrideBy is the administrator who authorized overwriting
	// an approved entity. Empty unless an override was actually applied.
	ApprovedOverrideBy string `json:"approved_override_by,omitempty"`
}

// BatchResult aggregates the per-record outcomes of one sync run.
// Every record increments exactly one counter.
type BatchResult struct {
	// JobID is the import job that produced this batch.
	JobID id.ID `json:"job_id"`

	// Total is the number of records in the batch.
	Total int `json:"total"`

	Imported           int `json:"imported"`
	Updated            int `json:"updated"`
	ConflictsPreserved int `json:"conflicts_preserved"`
	Rejected           int `json:"rejected"`
	Failed             int `json:"failed"`
}

func (r *BatchResult) tally(o Outcome) {
	r.Total++
	switch o {
	case OutcomeImported:
		r.Imported++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeConflictPreserved:
		r.ConflictsPreserved++
	case OutcomeRejected:
		r.Rejected++
	case OutcomeFailed:
		r.Failed++
	}
}
