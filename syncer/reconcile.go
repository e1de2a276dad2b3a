package syncer

// Reconciliation policy for both domains. Store implementations call these
// inside their per-key critical section so "check existing, decide, write"
// is atomic for one (connector, external id). The functions fill the sync
// record's outcome fields and report whether the staging entity must be
// written.

// RejectionApprovedData is the rejection reason stamped on HR records that
// target an approved staging entity.
const RejectionApprovedData = "cannot overwrite approved data"

// ReconcileHR applies the HR policy: an approved staging entity rejects
// the incoming record outright; anything else is created or updated freely.
// existing is nil when no staging entity holds the key, incoming is nil for
// failure records that only need their sync record appended.
func ReconcileHR(existing, incoming *HREntity, rec *HRSyncRecord) bool {
	if incoming == nil {
		return false
	}

	if existing == nil {
		rec.Outcome = OutcomeImported
		rec.EntityID = incoming.ID
		return true
	}

	rec.EntityID = existing.ID
	if existing.IsApproved {
		rec.Outcome = OutcomeRejected
		rec.RejectionReason = RejectionApprovedData
		return false
	}

	adoptHRIdentity(existing, incoming)
	rec.Outcome = OutcomeUpdated
	return true
}

// ReconcileFinance applies the finance policy: a conflict with an approved
// entity preserves the entity unless rec.ApprovedOverrideBy names an
// administrator, in which case the update proceeds and the record keeps the
// override trail. Without a conflict the override actor is cleared so the
// approval history lists only overrides that were actually applied.
func ReconcileFinance(existing, incoming *FinanceEntity, rec *FinanceSyncRecord) bool {
	if incoming == nil {
		return false
	}

	if existing == nil {
		rec.Outcome = OutcomeImported
		rec.EntityID = incoming.ID
		rec.ApprovedOverrideBy = ""
		return true
	}

	rec.EntityID = existing.ID
	if existing.IsApproved {
		rec.ConflictDetected = true
		if rec.ApprovedOverrideBy == "" {
			rec.Outcome = OutcomeConflictPreserved
			return false
		}
		rec.ConflictResolution = ResolutionAdminOverride

		// The override rewrites the data but keeps the human approval.
		incoming.IsApproved = existing.IsApproved
		incoming.ApprovedBy = existing.ApprovedBy
		incoming.ApprovedAt = existing.ApprovedAt
	} else {
		rec.ApprovedOverrideBy = ""
	}

	adoptFinanceIdentity(existing, incoming)
	rec.Outcome = OutcomeUpdated
	return true
}

// adoptHRIdentity makes incoming an in-place rewrite of existing.
func adoptHRIdentity(existing, incoming *HREntity) {
	incoming.ID = existing.ID
	incoming.Entity = existing.Entity
	incoming.Touch()
}

func adoptFinanceIdentity(existing, incoming *FinanceEntity) {
	incoming.ID = existing.ID
	incoming.Entity = existing.Entity
	incoming.Touch()
}
