package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/signature"
	"github.com/loomhq/loom/store/memory"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

func ctx() context.Context { return context.Background() }

func activeSubscription() *webhook.Subscription {
	return &webhook.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		URL:        "https://consumer.example.com/hooks",
		EventTypes: []string{"hr.*"},
		Status:     webhook.StatusActive,
		Secret:     signature.GenerateSecret(),
		RetryPolicy: backoff.Policy{
			MaxRetryAttempts: 2,
			BaseDelay:        time.Second,
		},
	}
}

func pendingDelivery(subID, evtID id.ID) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      "hr.sync_completed",
		CorrelationID:  "corr-1",
		Payload:        []byte(`{"event":"hr.sync_completed"}`),
		Status:         delivery.StatusPending,
		MaxAttempts:    3,
	}
}

func TestPingAfterClose(t *testing.T) {
	s := memory.New()
	if err := s.Ping(ctx()); err != nil {
		t.Fatalf("Ping on open store: %v", err)
	}
	if err := s.Close(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, loom.ErrStoreClosed) {
		t.Errorf("Ping after Close: err = %v, want ErrStoreClosed", err)
	}
}

func TestDequeueDueClaimsEachDeliveryOnce(t *testing.T) {
	s := memory.New()
	subID, evtID := id.NewSubscriptionID(), id.NewEventID()

	a := pendingDelivery(subID, evtID)
	b := pendingDelivery(subID, evtID)
	if err := s.EnqueueBatch(ctx(), []*delivery.Delivery{a, b}); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.DequeueDue(ctx(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("first dequeue: got %d deliveries, want 2", len(claimed))
	}
	for _, d := range claimed {
		if d.Status != delivery.StatusInProgress {
			t.Errorf("claimed delivery status = %q, want in_progress", d.Status)
		}
	}

	again, err := s.DequeueDue(ctx(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second dequeue returned %d claimed deliveries, want 0", len(again))
	}

	// Releasing a claim via UpdateDelivery makes a retrying row claimable.
	d := claimed[0]
	d.Status = delivery.StatusRetrying
	past := time.Now().UTC().Add(-time.Second)
	d.NextRetryAt = &past
	if err := s.UpdateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}

	third, err := s.DequeueDue(ctx(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 1 || third[0].ID.String() != d.ID.String() {
		t.Errorf("released delivery was not re-claimed: got %d", len(third))
	}
}

func TestDequeueDueSkipsFutureRetries(t *testing.T) {
	s := memory.New()
	d := pendingDelivery(id.NewSubscriptionID(), id.NewEventID())
	d.Status = delivery.StatusRetrying
	future := time.Now().UTC().Add(time.Hour)
	d.NextRetryAt = &future
	if err := s.Enqueue(ctx(), d); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.DequeueDue(ctx(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("dequeued %d deliveries before NextRetryAt, want 0", len(claimed))
	}
}

func TestCreateEventRejectsDuplicateIdempotencyKey(t *testing.T) {
	s := memory.New()

	first := &event.Event{
		Entity: entity.New(), ID: id.NewEventID(),
		Type: "hr.sync_completed", IdempotencyKey: "batch-42",
	}
	if err := s.CreateEvent(ctx(), first); err != nil {
		t.Fatal(err)
	}

	dup := &event.Event{
		Entity: entity.New(), ID: id.NewEventID(),
		Type: "hr.sync_completed", IdempotencyKey: "batch-42",
	}
	if err := s.CreateEvent(ctx(), dup); !errors.Is(err, event.ErrDuplicateIdempotencyKey) {
		t.Errorf("duplicate key: err = %v, want ErrDuplicateIdempotencyKey", err)
	}

	// Events without a key never collide.
	for range 2 {
		evt := &event.Event{Entity: entity.New(), ID: id.NewEventID(), Type: "hr.sync_completed"}
		if err := s.CreateEvent(ctx(), evt); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUpsertEntityGuardsApproval(t *testing.T) {
	s := memory.New()
	connID := id.NewConnectorID()

	ent := &canonical.CanonicalEntity{
		Entity: entity.New(), ID: id.NewCanonicalID(),
		ConnectorID: connID, EntityType: "employee", SchemaVersion: 1,
		ExternalID: "e-1",
		Data:       canonical.Payload{"name": canonical.String("Ada")},
	}
	if err := s.UpsertEntity(ctx(), ent, false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEntityApproval(ctx(), ent.ID, true, "admin@example.com"); err != nil {
		t.Fatal(err)
	}

	rewrite := &canonical.CanonicalEntity{
		Entity: entity.New(), ID: id.NewCanonicalID(),
		ConnectorID: connID, EntityType: "employee", SchemaVersion: 1,
		ExternalID: "e-1",
		Data:       canonical.Payload{"name": canonical.String("Mallory")},
	}
	if err := s.UpsertEntity(ctx(), rewrite, false); !errors.Is(err, canonical.ErrEntityApproved) {
		t.Fatalf("rewrite of approved entity: err = %v, want ErrEntityApproved", err)
	}

	if err := s.UpsertEntity(ctx(), rewrite, true); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEntityByExternalID(ctx(), connID, "employee", "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != ent.ID.String() {
		t.Error("override minted a new entity identity")
	}
	if !got.IsApproved || got.ApprovedBy != "admin@example.com" {
		t.Error("override dropped the human approval")
	}
	if name, _ := got.Data["name"].AsString(); name != "Mallory" {
		t.Errorf("override did not rewrite data: name = %q", name)
	}
}

func TestBumpConsecutiveFailuresIsAtomic(t *testing.T) {
	s := memory.New()
	sub := activeSubscription()
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			if _, err := s.BumpConsecutiveFailures(ctx(), sub.ID); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetSubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConsecutiveFailures != workers {
		t.Errorf("ConsecutiveFailures = %d, want %d", got.ConsecutiveFailures, workers)
	}

	if err := s.ResetConsecutiveFailures(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSubscription(ctx(), sub.ID)
	if got.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures after reset = %d", got.ConsecutiveFailures)
	}
}

func TestRecordHROutcomeRejectsApprovedEntity(t *testing.T) {
	s := memory.New()
	connID, jobID := id.NewConnectorID(), id.NewJobID()

	first := &syncer.HREntity{
		Entity: entity.New(), ID: id.NewHREntityID(),
		ConnectorID: connID, ExternalID: "emp-1",
		Data: canonical.Payload{"name": canonical.String("Ada")}, ImportJobID: jobID,
	}
	rec := &syncer.HRSyncRecord{
		Entity: entity.New(), ID: id.NewSyncRecordID(),
		ConnectorID: connID, ExternalID: "emp-1", ImportJobID: jobID,
	}
	if err := s.RecordHROutcome(ctx(), first, rec); err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != syncer.OutcomeImported {
		t.Fatalf("first import outcome = %q", rec.Outcome)
	}
	if err := s.SetHRApproval(ctx(), first.ID, true, "hr-lead@example.com"); err != nil {
		t.Fatal(err)
	}

	second := &syncer.HREntity{
		Entity: entity.New(), ID: id.NewHREntityID(),
		ConnectorID: connID, ExternalID: "emp-1",
		Data: canonical.Payload{"name": canonical.String("Mallory")}, ImportJobID: jobID,
	}
	rec2 := &syncer.HRSyncRecord{
		Entity: entity.New(), ID: id.NewSyncRecordID(),
		ConnectorID: connID, ExternalID: "emp-1", ImportJobID: jobID,
	}
	if err := s.RecordHROutcome(ctx(), second, rec2); err != nil {
		t.Fatal(err)
	}
	if rec2.Outcome != syncer.OutcomeRejected {
		t.Errorf("outcome against approved entity = %q, want rejected", rec2.Outcome)
	}

	got, err := s.GetHREntity(ctx(), connID, "emp-1")
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := got.Data["name"].AsString(); name != "Ada" {
		t.Errorf("approved entity was rewritten: name = %q", name)
	}

	records, err := s.ListHRSyncRecords(ctx(), syncer.RecordSearchOpts{ImportJobID: &jobID})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("sync history holds %d records, want 2", len(records))
	}
}

func TestFinalizeLogIsTerminal(t *testing.T) {
	s := memory.New()

	l := &execution.IntegrationLog{
		Entity: entity.New(), ID: id.NewLogID(),
		ConnectorID: id.NewConnectorID(), CorrelationID: "corr-1",
		OperationType: "hr.pull_employees", Initiator: "system",
		Status: execution.LogInProgress, StartedAt: time.Now().UTC(),
	}
	if err := s.CreateLog(ctx(), l); err != nil {
		t.Fatal(err)
	}

	done := time.Now().UTC()
	l.Status = execution.LogSuccess
	l.CompletedAt = &done
	if err := s.FinalizeLog(ctx(), l); err != nil {
		t.Fatal(err)
	}

	l.Status = execution.LogFailed
	if err := s.FinalizeLog(ctx(), l); !errors.Is(err, loom.ErrLogFinalized) {
		t.Errorf("second finalize: err = %v, want ErrLogFinalized", err)
	}
}

func TestDLQReplayCreatesFreshDelivery(t *testing.T) {
	s := memory.New()
	sub := activeSubscription()
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{"event":"hr.sync_completed","data":{"job_id":"job-1"}}`)
	entry := &dlq.Entry{
		Entity: entity.New(), ID: id.NewDLQID(),
		DeliveryID: id.NewDeliveryID(), EventID: id.NewEventID(),
		SubscriptionID: sub.ID, EventType: "hr.sync_completed",
		URL: sub.URL, Payload: payload,
		Error: "subscriber returned 500", AttemptCount: 3,
		LastStatusCode: 500, FailedAt: time.Now().UTC(),
	}
	if err := s.Push(ctx(), entry); err != nil {
		t.Fatal(err)
	}

	if err := s.Replay(ctx(), entry.ID); err != nil {
		t.Fatal(err)
	}

	ds, err := s.ListBySubscription(ctx(), sub.ID, delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 {
		t.Fatalf("replay created %d deliveries, want 1", len(ds))
	}
	d := ds[0]
	if d.Status != delivery.StatusPending {
		t.Errorf("replayed delivery status = %q, want pending", d.Status)
	}
	if d.AttemptCount != 0 {
		t.Errorf("replayed delivery AttemptCount = %d, want a fresh budget", d.AttemptCount)
	}
	if want := sub.RetryPolicy.OrDefault().MaxAttempts(); d.MaxAttempts != want {
		t.Errorf("MaxAttempts = %d, want %d", d.MaxAttempts, want)
	}
	if !signature.Verify(d.Payload, d.Signature, sub.Secret) {
		t.Error("replayed delivery is not signed with the current secret")
	}

	got, err := s.GetDLQ(ctx(), entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not stamped")
	}

	// A second replay is a no-op, not a second delivery.
	if err := s.Replay(ctx(), entry.ID); err != nil {
		t.Fatal(err)
	}
	ds, _ = s.ListBySubscription(ctx(), sub.ID, delivery.ListOpts{})
	if len(ds) != 1 {
		t.Errorf("second replay enqueued again: %d deliveries", len(ds))
	}
}

func TestReplayBulkHonorsWindow(t *testing.T) {
	s := memory.New()
	sub := activeSubscription()
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	push := func(failedAt time.Time) *dlq.Entry {
		t.Helper()
		entry := &dlq.Entry{
			Entity: entity.New(), ID: id.NewDLQID(),
			DeliveryID: id.NewDeliveryID(), EventID: id.NewEventID(),
			SubscriptionID: sub.ID, EventType: "hr.sync_completed",
			URL: sub.URL, Payload: []byte(`{}`), FailedAt: failedAt,
		}
		if err := s.Push(ctx(), entry); err != nil {
			t.Fatal(err)
		}
		return entry
	}

	inside := push(now.Add(-time.Hour))
	push(now.Add(-48 * time.Hour)) // outside the window
	replayed := push(now.Add(-time.Hour))
	if err := s.Replay(ctx(), replayed.ID); err != nil {
		t.Fatal(err)
	}

	count, err := s.ReplayBulk(ctx(), now.Add(-2*time.Hour), now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("ReplayBulk replayed %d entries, want 1", count)
	}
	got, _ := s.GetDLQ(ctx(), inside.ID)
	if got.ReplayedAt == nil {
		t.Error("in-window entry was not replayed")
	}
}

func TestPurgeDropsOldEntries(t *testing.T) {
	s := memory.New()
	now := time.Now().UTC()

	old := &dlq.Entry{
		Entity: entity.New(), ID: id.NewDLQID(),
		SubscriptionID: id.NewSubscriptionID(), EventID: id.NewEventID(),
		EventType: "hr.sync_completed", FailedAt: now.Add(-30 * 24 * time.Hour),
	}
	fresh := &dlq.Entry{
		Entity: entity.New(), ID: id.NewDLQID(),
		SubscriptionID: id.NewSubscriptionID(), EventID: id.NewEventID(),
		EventType: "hr.sync_completed", FailedAt: now,
	}
	for _, e := range []*dlq.Entry{old, fresh} {
		if err := s.Push(ctx(), e); err != nil {
			t.Fatal(err)
		}
	}

	purged, err := s.Purge(ctx(), now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("Purge removed %d entries, want 1", purged)
	}
	if _, err := s.GetDLQ(ctx(), old.ID); !errors.Is(err, loom.ErrDLQNotFound) {
		t.Errorf("purged entry still readable: err = %v", err)
	}
	if remaining, _ := s.CountDLQ(ctx()); remaining != 1 {
		t.Errorf("CountDLQ = %d, want 1", remaining)
	}
}
