package syncer

import (
	"testing"

	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

func hrEntity(approved bool) *HREntity {
	return &HREntity{
		Entity:     entity.New(),
		ID:         id.NewHREntityID(),
		ExternalID: "e1",
		Data:       canonical.Payload{"name": canonical.String("Ada")},
		IsApproved: approved,
	}
}

func finEntity(approved bool) *FinanceEntity {
	return &FinanceEntity{
		Entity:     entity.New(),
		ID:         id.NewFinEntityID(),
		ExternalID: "E1",
		Data:       canonical.Payload{"amount": canonical.Number(100)},
		IsApproved: approved,
	}
}

func TestReconcileHRImport(t *testing.T) {
	incoming := hrEntity(false)
	rec := &HRSyncRecord{}

	if !ReconcileHR(nil, incoming, rec) {
		t.Fatal("import did not request a write")
	}
	if rec.Outcome != OutcomeImported {
		t.Errorf("outcome = %q", rec.Outcome)
	}
	if rec.EntityID != incoming.ID {
		t.Error("record not linked to the new entity")
	}
}

func TestReconcileHRUpdateKeepsIdentity(t *testing.T) {
	existing := hrEntity(false)
	incoming := hrEntity(false)
	rec := &HRSyncRecord{}

	if !ReconcileHR(existing, incoming, rec) {
		t.Fatal("update did not request a write")
	}
	if rec.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %q", rec.Outcome)
	}
	if incoming.ID != existing.ID {
		t.Error("update minted a new entity id")
	}
	if !incoming.CreatedAt.Equal(existing.CreatedAt) {
		t.Error("update lost the original creation timestamp")
	}
}

func TestReconcileHRApprovedRejects(t *testing.T) {
	existing := hrEntity(true)
	incoming := hrEntity(false)
	rec := &HRSyncRecord{}

	if ReconcileHR(existing, incoming, rec) {
		t.Fatal("approved entity accepted a write")
	}
	if rec.Outcome != OutcomeRejected {
		t.Errorf("outcome = %q", rec.Outcome)
	}
	if rec.RejectionReason != RejectionApprovedData {
		t.Errorf("reason = %q", rec.RejectionReason)
	}
}

func TestReconcileHRFailureRecordOnly(t *testing.T) {
	rec := &HRSyncRecord{Outcome: OutcomeFailed}
	if ReconcileHR(nil, nil, rec) {
		t.Error("failure record requested an entity write")
	}
}

func TestReconcileFinanceConflictPreserved(t *testing.T) {
	existing := finEntity(true)
	incoming := finEntity(false)
	rec := &FinanceSyncRecord{}

	if ReconcileFinance(existing, incoming, rec) {
		t.Fatal("approved entity accepted a write without override")
	}
	if rec.Outcome != OutcomeConflictPreserved {
		t.Errorf("outcome = %q", rec.Outcome)
	}
	if !rec.ConflictDetected {
		t.Error("conflict not flagged")
	}
}

func TestReconcileFinanceOverrideWritesAndKeepsApproval(t *testing.T) {
	existing := finEntity(true)
	existing.ApprovedBy = "cfo@example.com"
	incoming := finEntity(false)
	rec := &FinanceSyncRecord{ApprovedOverrideBy: "admin@example.com"}

	if !ReconcileFinance(existing, incoming, rec) {
		t.Fatal("override did not request a write")
	}
	if rec.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %q", rec.Outcome)
	}
	if rec.ConflictResolution != ResolutionAdminOverride {
		t.Errorf("resolution = %q", rec.ConflictResolution)
	}
	if !incoming.IsApproved || incoming.ApprovedBy != "cfo@example.com" {
		t.Error("override dropped the human approval")
	}
	if incoming.ID != existing.ID {
		t.Error("override minted a new entity id")
	}
}

func TestReconcileFinanceClearsUnusedOverrideActor(t *testing.T) {
	existing := finEntity(false)
	incoming := finEntity(false)
	rec := &FinanceSyncRecord{ApprovedOverrideBy: "admin@example.com"}

	if !ReconcileFinance(existing, incoming, rec) {
		t.Fatal("plain update did not request a write")
	}
	if rec.ApprovedOverrideBy != "" {
		t.Errorf("unused override actor retained: %q", rec.ApprovedOverrideBy)
	}
}
