package syncer_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/store/memory"
	"github.com/loomhq/loom/syncer"
)

func ctx() context.Context { return context.Background() }

// fastPolicy keeps retries cheap in tests.
var fastPolicy = backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond}

type harness struct {
	store   *memory.Store
	conns   *connector.Service
	service *syncer.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memory.New()
	conns := connector.NewService(s, nil)
	engine := execution.NewEngine(s, s, execution.Config{}, nil)
	return &harness{
		store:   s,
		conns:   conns,
		service: syncer.NewService(s, s, engine, syncer.Config{}, nil),
	}
}

func (h *harness) connector(t *testing.T, typ connector.Type, baseURL string, fieldMap map[string]string) id.ID {
	t.Helper()
	c, err := h.conns.Create(ctx(), connector.Input{
		Name:        "external-" + string(typ),
		Type:        typ,
		BaseURL:     baseURL,
		RetryPolicy: fastPolicy,
		FieldMap:    fieldMap,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.conns.Enable(ctx(), c.ID); err != nil {
		t.Fatal(err)
	}
	return c.ID
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncHRImportsThenUpdates(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[
		{"id": "e1", "employee_name": "Ada", "dept": "eng"},
		{"ID": "e2", "employee_name": "Grace", "dept": "eng"}
	]`)
	connID := h.connector(t, connector.TypeHR, srv.URL, map[string]string{"employee_name": "name"})

	res, err := h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Updated != 0 || res.Failed != 0 {
		t.Fatalf("first run = %+v, want 2 imported", res)
	}

	ent, err := h.store.GetHREntity(ctx(), connID, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := ent.Data["name"].AsString(); name != "Ada" {
		t.Errorf("field map not applied: name = %v", ent.Data["name"])
	}
	if _, ok := ent.Data["dept"]; !ok {
		t.Error("unmapped field dept was dropped")
	}
	if ent.IsApproved {
		t.Error("staged entity is approved")
	}

	res, err = h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 2 || res.Imported != 0 {
		t.Fatalf("second run = %+v, want 2 updated", res)
	}
}

func TestSyncHRRejectsApprovedEntity(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[{"id": "e1", "name": "Ada"}]`)
	connID := h.connector(t, connector.TypeHR, srv.URL, nil)

	if _, err := h.service.SyncHR(ctx(), connID); err != nil {
		t.Fatal(err)
	}
	ent, err := h.store.GetHREntity(ctx(), connID, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetHRApproval(ctx(), ent.ID, true, "admin@example.com"); err != nil {
		t.Fatal(err)
	}

	res, err := h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejected != 1 || res.Updated != 0 {
		t.Fatalf("result = %+v, want 1 rejected", res)
	}

	recs, err := h.store.ListHRSyncRecords(ctx(), syncer.RecordSearchOpts{ConnectorID: &connID})
	if err != nil {
		t.Fatal(err)
	}
	var rejected *syncer.HRSyncRecord
	for _, r := range recs {
		if r.Outcome == syncer.OutcomeRejected {
			rejected = r
		}
	}
	if rejected == nil {
		t.Fatal("no rejected sync record persisted")
	}
	if rejected.RejectionReason != syncer.RejectionApprovedData {
		t.Errorf("rejection reason = %q", rejected.RejectionReason)
	}
}

// A finance sync against an approved entity without an override actor
// preserves the entity, however many times it is repeated.
func TestSyncFinanceConflictPreservedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[{"id": "E1", "amount": 100}]`)
	connID := h.connector(t, connector.TypeFinance, srv.URL, nil)

	if _, err := h.service.SyncFinance(ctx(), connID, ""); err != nil {
		t.Fatal(err)
	}
	ent, err := h.store.GetFinanceEntity(ctx(), connID, "E1")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetFinanceApproval(ctx(), ent.ID, true, "cfo@example.com"); err != nil {
		t.Fatal(err)
	}
	before, _ := ent.Data["amount"].AsNumber()

	for i := 0; i < 3; i++ {
		res, err := h.service.SyncFinance(ctx(), connID, "")
		if err != nil {
			t.Fatal(err)
		}
		if res.ConflictsPreserved != 1 || res.Updated != 0 {
			t.Fatalf("run %d = %+v, want 1 conflict preserved", i, res)
		}
	}

	ent, err = h.store.GetFinanceEntity(ctx(), connID, "E1")
	if err != nil {
		t.Fatal(err)
	}
	if after, _ := ent.Data["amount"].AsNumber(); after != before {
		t.Errorf("approved entity mutated: amount %v -> %v", before, after)
	}
	if !ent.IsApproved {
		t.Error("approval flag lost")
	}
}

func TestSyncFinanceAdminOverride(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[{"id": "E1", "amount": 250}]`)
	connID := h.connector(t, connector.TypeFinance, srv.URL, nil)

	if _, err := h.service.SyncFinance(ctx(), connID, ""); err != nil {
		t.Fatal(err)
	}
	ent, err := h.store.GetFinanceEntity(ctx(), connID, "E1")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetFinanceApproval(ctx(), ent.ID, true, "cfo@example.com"); err != nil {
		t.Fatal(err)
	}

	res, err := h.service.SyncFinance(ctx(), connID, "admin@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.ConflictsPreserved != 0 {
		t.Fatalf("result = %+v, want 1 updated via override", res)
	}

	recs, err := h.store.ListFinanceSyncRecords(ctx(), syncer.RecordSearchOpts{
		ConnectorID:   &connID,
		OverridesOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("override records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if !rec.ConflictDetected {
		t.Error("conflict not flagged on override record")
	}
	if rec.ConflictResolution != syncer.ResolutionAdminOverride {
		t.Errorf("resolution = %q", rec.ConflictResolution)
	}
	if rec.ApprovedOverrideBy != "admin@example.com" {
		t.Errorf("override actor = %q", rec.ApprovedOverrideBy)
	}

	ent, err = h.store.GetFinanceEntity(ctx(), connID, "E1")
	if err != nil {
		t.Fatal(err)
	}
	if amount, _ := ent.Data["amount"].AsNumber(); amount != 250 {
		t.Errorf("override did not rewrite data: amount = %v", amount)
	}
	if !ent.IsApproved || ent.ApprovedBy != "cfo@example.com" {
		t.Error("override dropped the human approval")
	}
}

// An override actor on a conflict-free run leaves no trace in the
// approval history.
func TestSyncFinanceOverrideActorClearedWithoutConflict(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[{"id": "E1", "amount": 10}]`)
	connID := h.connector(t, connector.TypeFinance, srv.URL, nil)

	if _, err := h.service.SyncFinance(ctx(), connID, "admin@example.com"); err != nil {
		t.Fatal(err)
	}

	recs, err := h.store.ListFinanceSyncRecords(ctx(), syncer.RecordSearchOpts{
		ConnectorID:   &connID,
		OverridesOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("conflict-free run produced %d override records", len(recs))
	}
}

func TestSyncPreconditions(t *testing.T) {
	h := newHarness(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	if _, err := h.service.SyncHR(ctx(), id.NewConnectorID()); err == nil {
		t.Error("sync with unknown connector succeeded")
	}

	hrID := h.connector(t, connector.TypeHR, srv.URL, nil)
	if _, err := h.service.SyncFinance(ctx(), hrID, ""); !errors.Is(err, syncer.ErrConnectorType) {
		t.Errorf("type mismatch err = %v, want ErrConnectorType", err)
	}

	if err := h.conns.Disable(ctx(), hrID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.service.SyncHR(ctx(), hrID); !errors.Is(err, syncer.ErrConnectorDisabled) {
		t.Errorf("disabled err = %v, want ErrConnectorDisabled", err)
	}

	if hits.Load() != 0 {
		t.Errorf("precondition failures reached the network %d times", hits.Load())
	}
}

func TestSyncPullFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	connID := h.connector(t, connector.TypeHR, srv.URL, nil)

	if _, err := h.service.SyncHR(ctx(), connID); err == nil {
		t.Fatal("sync against failing server succeeded")
	}

	jobs, err := h.store.SearchJobs(ctx(), syncer.JobSearchOpts{ConnectorID: &connID})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Status != syncer.JobFailed {
		t.Errorf("job status = %q, want failed", jobs[0].Status)
	}
	if jobs[0].Error == "" {
		t.Error("failed job has no error detail")
	}
}

func TestSyncRecordWithoutIDFailsAlone(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[
		{"id": "e1", "name": "Ada"},
		{"name": "nobody"},
		{"externalId": "e2", "name": "Grace"}
	]`)
	connID := h.connector(t, connector.TypeHR, srv.URL, nil)

	res, err := h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 imported and 1 failed", res)
	}
}

func TestSyncMalformedRecordFailsAlone(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[
		{"id": "e1", "name": "Ada"},
		42,
		{"id": "e2", "name": "Grace"}
	]`)
	connID := h.connector(t, connector.TypeHR, srv.URL, nil)

	res, err := h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 imported and 1 failed", res)
	}

	recs, err := h.store.ListHRSyncRecords(ctx(), syncer.RecordSearchOpts{ImportJobID: &res.JobID})
	if err != nil {
		t.Fatal(err)
	}
	var failed *syncer.HRSyncRecord
	for _, r := range recs {
		if r.Outcome == syncer.OutcomeFailed {
			failed = r
		}
	}
	if failed == nil {
		t.Fatal("no failed sync record for the malformed element")
	}
	if failed.Error == "" {
		t.Error("failed record has no error detail")
	}

	job, err := h.store.GetJob(ctx(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != syncer.JobCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
}

func TestSyncJobCountersAndCorrelation(t *testing.T) {
	h := newHarness(t)
	srv := jsonServer(t, `[{"id": "e1"}, {"id": "e2"}, {"id": "e3"}]`)
	connID := h.connector(t, connector.TypeHR, srv.URL, nil)

	res, err := h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}

	job, err := h.store.GetJob(ctx(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != syncer.JobCompleted {
		t.Errorf("job status = %q", job.Status)
	}
	if job.Total != 3 || job.Imported != 3 {
		t.Errorf("job counters = %+v", job)
	}
	if job.CompletedAt == nil {
		t.Error("completed job has no completion timestamp")
	}

	// The pull's integration log shares the job's correlation id.
	logs, err := h.store.ListLogsByCorrelation(ctx(), job.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs for correlation = %d, want 1", len(logs))
	}
	if logs[0].Status != execution.LogSuccess {
		t.Errorf("pull log status = %q", logs[0].Status)
	}
	if logs[0].Method != http.MethodGet {
		t.Errorf("pull log method = %q", logs[0].Method)
	}
}

func TestSyncSendsCorrelationHeader(t *testing.T) {
	h := newHarness(t)

	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("X-Correlation-ID"))
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	connID := h.connector(t, connector.TypeHR, srv.URL, nil)

	res, err := h.service.SyncHR(ctx(), connID)
	if err != nil {
		t.Fatal(err)
	}
	job, err := h.store.GetJob(ctx(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := header.Load().(string); got == "" || got != job.CorrelationID {
		t.Errorf("X-Correlation-ID = %q, want job correlation %q", got, job.CorrelationID)
	}
}
