package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/api"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/monitor"
	"github.com/loomhq/loom/store/memory"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

type testAPI struct {
	store  *memory.Store
	server *httptest.Server
}

type nopWaker struct{}

func (nopWaker) Wake() {}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	s := memory.New()
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	cat := catalog.New(s, catalog.Config{}, nil)
	connSvc := connector.NewService(s, nil)
	engine := execution.NewEngine(s, s, execution.Config{}, nil)
	syncSvc := syncer.NewService(s, s, engine, syncer.Config{}, nil)
	whSvc := webhook.NewService(s, cat, webhook.Config{DisableHandshake: true}, nil)
	dispatcher := delivery.NewDispatcher(s, s, s, cat, nopWaker{}, nil, nil)
	dlqSvc := dlq.NewService(s, nil)
	monSvc := monitor.NewService(s, s, nil)

	handler := api.NewHandler(s, cat, connSvc, syncSvc, whSvc, dispatcher, dlqSvc, monSvc, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testAPI{store: s, server: server}
}

func (a *testAPI) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestConnectorLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/connectors", `{
		"name": "workday",
		"type": "hr",
		"base_url": "https://hr.example.test",
		"auth_type": "api_key",
		"secret_ref": "vault://workday"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var conn connector.Connector
	decodeBody(t, resp, &conn)
	if conn.Status != connector.StatusDisabled {
		t.Errorf("new connector status = %q, want disabled", conn.Status)
	}

	resp = a.do(t, http.MethodPatch, "/connectors/"+conn.ID.String()+"/enable", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("enable status = %d", resp.StatusCode)
	}

	resp = a.do(t, http.MethodGet, "/connectors/"+conn.ID.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &conn)
	if conn.Status != connector.StatusEnabled {
		t.Errorf("status after enable = %q", conn.Status)
	}

	resp = a.do(t, http.MethodGet, "/connectors?type=hr", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var conns []connector.Connector
	decodeBody(t, resp, &conns)
	if len(conns) != 1 {
		t.Errorf("connectors = %d, want 1", len(conns))
	}
}

func TestCreateConnectorValidationFailure(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/connectors", `{"type":"hr","base_url":"https://x.test"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing name", resp.StatusCode)
	}
}

func TestConnectorNotFound(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/connectors/conn_00000000000000000000000000", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp = a.do(t, http.MethodGet, "/connectors/not-an-id", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed id", resp.StatusCode)
	}
}

func TestSyncEndpointRunsJob(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"e-1","email":"ann@corp.test"}]`)
	}))
	defer backend.Close()

	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/connectors", fmt.Sprintf(`{
		"name": "workday",
		"type": "hr",
		"base_url": %q,
		"auth_type": "api_key"
	}`, backend.URL))
	var conn connector.Connector
	decodeBody(t, resp, &conn)

	a.do(t, http.MethodPatch, "/connectors/"+conn.ID.String()+"/enable", "")

	resp = a.do(t, http.MethodPost, "/connectors/"+conn.ID.String()+"/sync/hr", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	var result syncer.BatchResult
	decodeBody(t, resp, &result)
	if result.Imported != 1 {
		t.Errorf("imported = %d, want 1", result.Imported)
	}

	resp = a.do(t, http.MethodGet, "/jobs", "")
	var jobs []syncer.ImportJob
	decodeBody(t, resp, &jobs)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}

	resp = a.do(t, http.MethodGet, "/jobs/"+jobs[0].ID.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job detail status = %d", resp.StatusCode)
	}
	var detail monitor.JobDetail
	decodeBody(t, resp, &detail)
	if len(detail.Logs) != 1 {
		t.Errorf("job logs = %d, want 1", len(detail.Logs))
	}
}

func TestSyncDisabledConnectorConflicts(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/connectors", `{
		"name": "sap",
		"type": "finance",
		"base_url": "https://fin.example.test",
		"auth_type": "api_key"
	}`)
	var conn connector.Connector
	decodeBody(t, resp, &conn)

	resp = a.do(t, http.MethodPost, "/connectors/"+conn.ID.String()+"/sync/finance", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 for disabled connector", resp.StatusCode)
	}
}

func TestSubscriptionSecretExposedOnlyOnCreate(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, "/event-types", `{"name":"hr.sync_completed","group":"sync"}`)

	resp := a.do(t, http.MethodPost, "/subscriptions", `{
		"url": "https://consumer.example.test/hook",
		"event_types": ["hr.sync_completed"]
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created struct {
		webhook.Subscription
		Secret string `json:"secret"`
	}
	decodeBody(t, resp, &created)
	if !strings.HasPrefix(created.Secret, "whsec_") {
		t.Errorf("secret = %q, want whsec_ prefix", created.Secret)
	}
	if created.Status != webhook.StatusPendingVerification {
		t.Errorf("status = %q, want pending_verification", created.Status)
	}

	resp = a.do(t, http.MethodGet, "/subscriptions/"+created.ID.String(), "")
	var fetched map[string]any
	decodeBody(t, resp, &fetched)
	if _, leaked := fetched["secret"]; leaked {
		t.Error("secret leaked on read")
	}
}

func TestSubscriptionRejectsUnknownEventType(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/subscriptions", `{
		"url": "https://consumer.example.test/hook",
		"event_types": ["never.registered"]
	}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDispatchEventAndIdempotentRepeat(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, "/event-types", `{"name":"finance.sync_completed","group":"sync"}`)

	body := `{"type":"finance.sync_completed","data":{"total":5},"idempotency_key":"run-7"}`
	resp := a.do(t, http.MethodPost, "/events", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("dispatch status = %d", resp.StatusCode)
	}

	resp = a.do(t, http.MethodPost, "/events", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("duplicate dispatch status = %d, want 202", resp.StatusCode)
	}

	resp = a.do(t, http.MethodPost, "/events", `{"type":"never.registered","data":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", resp.StatusCode)
	}
}

func TestEventTypeDeprecationOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, "/event-types", `{"name":"hr.sync_completed","group":"sync"}`)

	resp := a.do(t, http.MethodDelete, "/event-types/hr.sync_completed", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deprecate status = %d", resp.StatusCode)
	}

	resp = a.do(t, http.MethodPost, "/events", `{"type":"hr.sync_completed","data":{}}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("dispatch to deprecated = %d, want 409", resp.StatusCode)
	}
}

func TestDLQReplayNotFound(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/dlq/not-an-id/replay", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var stats struct {
		Jobs struct {
			Total int `json:"total"`
		} `json:"jobs"`
		PendingDeliveries int64 `json:"pending_deliveries"`
		DLQSize           int64 `json:"dlq_size"`
	}
	decodeBody(t, resp, &stats)
	if stats.Jobs.Total != 0 || stats.PendingDeliveries != 0 || stats.DLQSize != 0 {
		t.Errorf("empty store stats = %+v", stats)
	}
}

func TestBulkReplayValidatesTimeRange(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/dlq/replay", `{"from":"not-a-time","to":"also-not"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	now := time.Now().UTC()
	body := fmt.Sprintf(`{"from":%q,"to":%q}`, now.Add(-time.Hour).Format(time.RFC3339), now.Format(time.RFC3339))
	resp = a.do(t, http.MethodPost, "/dlq/replay", body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
