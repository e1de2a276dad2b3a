package syncer

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for staging entities, sync
// records, and import jobs.
type Store interface {
	// CreateJob persists a new import job.
	CreateJob(ctx context.Context, j *ImportJob) error

	// UpdateJob rewrites a job, finalizing its status and counters.
	UpdateJob(ctx context.Context, j *ImportJob) error

	// GetJob returns one import job.
	GetJob(ctx context.Context, jobID id.ID) (*ImportJob, error)

	// SearchJobs returns jobs matching the filters, newest first.
	SearchJobs(ctx context.Context, opts JobSearchOpts) ([]*ImportJob, error)

	// RecordHROutcome reconciles one incoming HR record and appends its
	// sync record. Implementations run ReconcileHR inside a critical
	// section keyed by (connector, external id) so the staging write and
	// the record write commit as one unit. The record's outcome fields
	// are filled on return. incoming may be nil for failure records.
	RecordHROutcome(ctx context.Context, incoming *HREntity, rec *HRSyncRecord) error

	// RecordFinanceOutcome is RecordHROutcome for the finance domain,
	// running ReconcileFinance.
	RecordFinanceOutcome(ctx context.Context, incoming *FinanceEntity, rec *FinanceSyncRecord) error

	// GetHREntity returns the staging entity for (connector, external id).
	GetHREntity(ctx context.Context, connID id.ID, externalID string) (*HREntity, error)

	// GetFinanceEntity returns the staging entity for
	// (connector, external id).
	GetFinanceEntity(ctx context.Context, connID id.ID, externalID string) (*FinanceEntity, error)

	// SetHRApproval flips the approval flag on an HR staging entity.
	SetHRApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error

	// SetFinanceApproval flips the approval flag on a finance staging
	// entity.
	SetFinanceApproval(ctx context.Context, entID id.ID, approved bool, approvedBy string) error

	// ListHRSyncRecords returns HR sync records matching the filters.
	ListHRSyncRecords(ctx context.Context, opts RecordSearchOpts) ([]*HRSyncRecord, error)

	// ListFinanceSyncRecords returns finance sync records matching the
	// filters.
	ListFinanceSyncRecords(ctx context.Context, opts RecordSearchOpts) ([]*FinanceSyncRecord, error)
}

// RecordSearchOpts filters sync record listings.
type RecordSearchOpts struct {
	Offset int
	Limit  int

	ImportJobID *id.ID
	ConnectorID *id.ID
	Outcome     *Outcome

	// OverridesOnly restricts finance listings to records carrying a
	// non-empty override actor.
	OverridesOnly bool
}
