package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/signature"
	"github.com/loomhq/loom/store/memory"
	"github.com/loomhq/loom/webhook"
)

type engineFixture struct {
	store  *memory.Store
	engine *delivery.Engine
	dlq    *dlq.Service
}

func newEngineFixture(t *testing.T, cfg delivery.EngineConfig) *engineFixture {
	t.Helper()

	s := memory.New()
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	dlqSvc := dlq.NewService(s, nil)
	engine := delivery.NewEngine(s, s, dlqSvc, cfg, nil)
	engine.Start(context.Background())
	t.Cleanup(func() { engine.Stop(context.Background()) })

	return &engineFixture{store: s, engine: engine, dlq: dlqSvc}
}

func (f *engineFixture) subscribe(t *testing.T, url string, status webhook.Status, policy backoff.Policy) *webhook.Subscription {
	t.Helper()
	sub := &webhook.Subscription{
		Entity:            entity.New(),
		ID:                id.NewSubscriptionID(),
		URL:               url,
		EventTypes:        []string{"hr.sync_completed"},
		Status:            status,
		Secret:            signature.GenerateSecret(),
		VerificationToken: signature.GenerateToken(),
		RetryPolicy:       policy,
		Headers:           map[string]string{"X-Team": "platform"},
	}
	if err := f.store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func (f *engineFixture) enqueue(t *testing.T, sub *webhook.Subscription) *delivery.Delivery {
	t.Helper()
	payload := []byte(`{"event":"hr.sync_completed","timestamp":"2026-01-02T03:04:05Z","correlationId":"corr-1","data":{"job_id":"job_1"}}`)
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        id.NewEventID(),
		EventType:      "hr.sync_completed",
		CorrelationID:  "corr-1",
		Payload:        payload,
		Signature:      signature.Sign(payload, sub.Secret),
		Status:         delivery.StatusPending,
		MaxAttempts:    sub.RetryPolicy.OrDefault().MaxAttempts(),
	}
	if err := f.store.Enqueue(context.Background(), d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.engine.Wake()
	return d
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEngineDeliversAndResetsFailureStreak(t *testing.T) {
	var gotSig, gotEvent, gotCorr, gotTeam string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotCorr = r.Header.Get("X-Webhook-Correlation-Id")
		gotTeam = r.Header.Get("X-Team")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond})
	for i := 0; i < 3; i++ {
		if _, err := f.store.BumpConsecutiveFailures(context.Background(), sub.ID); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}

	d := f.enqueue(t, sub)
	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusSucceeded
	})

	got, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got.AttemptCount)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if got.LastStatusCode != http.StatusNoContent {
		t.Errorf("LastStatusCode = %d", got.LastStatusCode)
	}
	if gotSig != d.Signature {
		t.Errorf("signature header = %q, want %q", gotSig, d.Signature)
	}
	if gotEvent != "hr.sync_completed" || gotCorr != "corr-1" {
		t.Errorf("headers event=%q corr=%q", gotEvent, gotCorr)
	}
	if gotTeam != "platform" {
		t.Errorf("custom header = %q", gotTeam)
	}

	fresh, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if fresh.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after success", fresh.ConsecutiveFailures)
	}
}

func TestEngineSchedulesRetryWithBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	// Long base delay keeps the retry from coming due during the test.
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 3, BaseDelay: 5 * time.Second, Exponential: true})

	d := f.enqueue(t, sub)
	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusRetrying
	})

	got, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got.AttemptCount)
	}
	if got.NextRetryAt == nil {
		t.Fatal("NextRetryAt not set")
	}
	until := time.Until(*got.NextRetryAt)
	if until < 3*time.Second || until > 5*time.Second {
		t.Errorf("NextRetryAt %v from now, want about 5s", until)
	}
	if got.LastError == "" {
		t.Error("LastError not recorded")
	}
	if got.LastStatusCode != http.StatusBadGateway {
		t.Errorf("LastStatusCode = %d", got.LastStatusCode)
	}
}

func TestEngineExhaustionDegradesAndPushesToDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "subscriber down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond})
	// Four prior failures: this exhaustion is the fifth consecutive one.
	for i := 0; i < 4; i++ {
		if _, err := f.store.BumpConsecutiveFailures(context.Background(), sub.ID); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}

	d := f.enqueue(t, sub)
	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusFailed
	})

	got, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", got.AttemptCount)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	fresh, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if fresh.Status != webhook.StatusDegraded {
		t.Errorf("subscription status = %q, want degraded", fresh.Status)
	}
	if fresh.ConsecutiveFailures != 5 {
		t.Errorf("ConsecutiveFailures = %d, want 5", fresh.ConsecutiveFailures)
	}

	entries, err := f.dlq.List(context.Background(), dlq.ListOpts{SubscriptionID: &sub.ID})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.DeliveryID != d.ID || entry.EventID != d.EventID {
		t.Error("dlq entry does not reference the failed delivery")
	}
	if entry.URL != srv.URL {
		t.Errorf("dlq URL = %q", entry.URL)
	}
	if string(entry.Payload) != string(d.Payload) {
		t.Error("dlq payload differs from delivery payload")
	}
	if entry.LastStatusCode != http.StatusInternalServerError {
		t.Errorf("dlq status code = %d", entry.LastStatusCode)
	}
}

func TestEngineConfiguredDegradationThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "subscriber down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{DegradationThreshold: 2})
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 0, BaseDelay: time.Millisecond})
	if _, err := f.store.BumpConsecutiveFailures(context.Background(), sub.ID); err != nil {
		t.Fatalf("bump: %v", err)
	}

	d := f.enqueue(t, sub)
	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusFailed
	})

	fresh, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if fresh.Status != webhook.StatusDegraded {
		t.Errorf("subscription status = %q, want degraded at 2 consecutive failures", fresh.Status)
	}
}

func TestEngineFailureBelowThresholdKeepsSubscriptionActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond})

	d := f.enqueue(t, sub)
	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusFailed
	})

	fresh, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if fresh.Status != webhook.StatusActive {
		t.Errorf("subscription status = %q, want active below threshold", fresh.Status)
	}
	if fresh.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", fresh.ConsecutiveFailures)
	}
}

func TestEngineDeliversToDegradedSubscription(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.subscribe(t, srv.URL, webhook.StatusDegraded, backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond})

	d := f.enqueue(t, sub)
	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusSucceeded
	})

	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
	// Recovery to active is an operator action, not automatic.
	fresh, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if fresh.Status != webhook.StatusDegraded {
		t.Errorf("subscription status = %q, want still degraded", fresh.Status)
	}
	if fresh.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want reset", fresh.ConsecutiveFailures)
	}
}

func TestEngineWakeShortcutsPollInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Poll interval far beyond the test deadline: only Wake can trigger work.
	f := newEngineFixture(t, delivery.EngineConfig{PollInterval: time.Minute})
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond})

	d := f.enqueue(t, sub)
	waitFor(t, 2*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusSucceeded
	})
}

func TestEngineRespectsRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{Concurrency: 4})
	sub := f.subscribe(t, srv.URL, webhook.StatusActive, backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Millisecond})
	sub.RateLimit = 5
	if err := f.store.UpdateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("update subscription: %v", err)
	}

	var ids []id.ID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.enqueue(t, sub).ID)
	}
	waitFor(t, 5*time.Second, func() bool {
		for _, did := range ids {
			got, err := f.store.GetDelivery(context.Background(), did)
			if err != nil || got.Status != delivery.StatusSucceeded {
				return false
			}
		}
		return true
	})
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}
