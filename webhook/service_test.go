package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/store/memory"
	"github.com/loomhq/loom/webhook"
)

func ctx() context.Context { return context.Background() }

type harness struct {
	store   *memory.Store
	catalog *catalog.Catalog
	service *webhook.Service
}

func newHarness(t *testing.T, cfg webhook.Config) *harness {
	t.Helper()
	s := memory.New()
	cat := catalog.New(s, catalog.Config{}, nil)
	for _, name := range []string{"hr.sync_completed", "finance.sync_completed"} {
		if _, err := cat.RegisterType(ctx(), catalog.Definition{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	return &harness{
		store:   s,
		catalog: cat,
		service: webhook.NewService(s, cat, cfg, nil),
	}
}

// echoServer answers the verification handshake correctly.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var challenge struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		if err := json.Unmarshal(body, &challenge); err != nil || challenge.Type != "webhook.verification" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(challenge.Token))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateStartsPendingWithCredentials(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        "https://subscriber.example.com/hook",
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if sub.Status != webhook.StatusPendingVerification {
		t.Errorf("status = %q, want pending_verification", sub.Status)
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") || len(sub.Secret) != len("whsec_")+64 {
		t.Errorf("secret format: %q", sub.Secret)
	}
	if len(sub.VerificationToken) != 32 {
		t.Errorf("token length = %d, want 32 hex chars", len(sub.VerificationToken))
	}
	if sub.RetryPolicy.MaxAttempts() < 1 {
		t.Error("retry policy not defaulted")
	}
	if sub.Deliverable() {
		t.Error("pending subscription reports deliverable")
	}
}

func TestCreateValidatesEventTypes(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})

	_, err := h.service.Create(ctx(), webhook.Input{
		URL:        "https://subscriber.example.com/hook",
		EventTypes: []string{"hr.sync_completed", "never.registered"},
	})
	if !errors.Is(err, catalog.ErrUnknownEventType) {
		t.Errorf("err = %v, want ErrUnknownEventType", err)
	}

	// Wildcard patterns are accepted without a registered name.
	if _, err := h.service.Create(ctx(), webhook.Input{
		URL:        "https://subscriber.example.com/hook",
		EventTypes: []string{"hr.*"},
	}); err != nil {
		t.Errorf("wildcard subscription rejected: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})

	var verr *webhook.ValidationError
	if _, err := h.service.Create(ctx(), webhook.Input{
		URL: "not a url", EventTypes: []string{"hr.sync_completed"},
	}); !errors.As(err, &verr) || verr.Field != "url" {
		t.Errorf("bad url err = %v", err)
	}
	if _, err := h.service.Create(ctx(), webhook.Input{
		URL: "https://subscriber.example.com/hook",
	}); !errors.As(err, &verr) || verr.Field != "event_types" {
		t.Errorf("no events err = %v", err)
	}
}

func TestVerifyActivates(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})
	srv := echoServer(t)

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        srv.URL,
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.service.Verify(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	got, err := h.service.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != webhook.StatusActive {
		t.Errorf("status after handshake = %q, want active", got.Status)
	}
	if got.VerifiedAt == nil {
		t.Error("verified timestamp not stamped")
	}
}

func TestVerifyRequiresTokenEcho(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok": true}`)) // 2xx but no token
	}))
	t.Cleanup(srv.Close)

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        srv.URL,
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.service.Verify(ctx(), sub.ID); err == nil {
		t.Fatal("handshake without token echo succeeded")
	}

	got, _ := h.service.Get(ctx(), sub.ID)
	if got.Status != webhook.StatusPendingVerification {
		t.Errorf("status after failed handshake = %q, want pending", got.Status)
	}
}

func TestCreateRunsHandshakeAsync(t *testing.T) {
	h := newHarness(t, webhook.Config{})
	srv := echoServer(t)

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        srv.URL,
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Creation returns pending; activation happens in the background.
	if sub.Status != webhook.StatusPendingVerification {
		t.Errorf("creation returned status %q", sub.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := h.service.Get(ctx(), sub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == webhook.StatusActive {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription never activated, status = %q", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPauseAndActivate(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})
	srv := echoServer(t)

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        srv.URL,
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Operators cannot skip verification.
	if err := h.service.Activate(ctx(), sub.ID); !errors.Is(err, webhook.ErrInvalidTransition) {
		t.Errorf("activate pending err = %v, want ErrInvalidTransition", err)
	}
	if err := h.service.Pause(ctx(), sub.ID); !errors.Is(err, webhook.ErrInvalidTransition) {
		t.Errorf("pause pending err = %v, want ErrInvalidTransition", err)
	}

	if err := h.service.Verify(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.service.Pause(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := h.service.Get(ctx(), sub.ID)
	if got.Status != webhook.StatusPaused {
		t.Errorf("status = %q, want paused", got.Status)
	}

	if err := h.service.Activate(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = h.service.Get(ctx(), sub.ID)
	if got.Status != webhook.StatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestActivateResetsFailureCounter(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})
	srv := echoServer(t)

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        srv.URL,
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.service.Verify(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < webhook.DegradationThreshold; i++ {
		if _, err := h.store.BumpConsecutiveFailures(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.store.SetSubscriptionStatus(ctx(), sub.ID, webhook.StatusDegraded); err != nil {
		t.Fatal(err)
	}

	if err := h.service.Activate(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := h.service.Get(ctx(), sub.ID)
	if got.Status != webhook.StatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0 after reactivation", got.ConsecutiveFailures)
	}
}

func TestRotateSecret(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})

	sub, err := h.service.Create(ctx(), webhook.Input{
		URL:        "https://subscriber.example.com/hook",
		EventTypes: []string{"hr.sync_completed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	old := sub.Secret

	rotated, err := h.service.RotateSecret(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated == old {
		t.Error("rotation returned the old secret")
	}
	if !strings.HasPrefix(rotated, "whsec_") {
		t.Errorf("rotated secret format: %q", rotated)
	}

	got, _ := h.service.Get(ctx(), sub.ID)
	if got.Secret != rotated {
		t.Error("store does not hold the rotated secret")
	}
	if got.SecretRotatedAt == nil {
		t.Error("rotation timestamp not stamped")
	}
	if got.Status != webhook.StatusPendingVerification {
		t.Errorf("rotation changed status to %q", got.Status)
	}
}

func TestResolveSubscriptionsByStatus(t *testing.T) {
	h := newHarness(t, webhook.Config{DisableHandshake: true})
	srv := echoServer(t)

	create := func(events ...string) id.ID {
		t.Helper()
		sub, err := h.service.Create(ctx(), webhook.Input{URL: srv.URL, EventTypes: events})
		if err != nil {
			t.Fatal(err)
		}
		return sub.ID
	}

	activeID := create("hr.sync_completed")
	pausedID := create("hr.sync_completed")
	pendingID := create("hr.sync_completed")
	degradedID := create("hr.*")
	otherID := create("finance.sync_completed")

	for _, subID := range []id.ID{activeID, pausedID, degradedID} {
		if err := h.service.Verify(ctx(), subID); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.service.Pause(ctx(), pausedID); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetSubscriptionStatus(ctx(), degradedID, webhook.StatusDegraded); err != nil {
		t.Fatal(err)
	}

	subs, err := h.store.ResolveSubscriptions(ctx(), "hr.sync_completed")
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[id.ID]bool, len(subs))
	for _, s := range subs {
		got[s.ID] = true
	}
	if !got[activeID] {
		t.Error("active subscription not resolved")
	}
	if !got[degradedID] {
		t.Error("degraded subscription not resolved, deliveries must continue")
	}
	if got[pausedID] || got[pendingID] || got[otherID] {
		t.Errorf("resolved unexpected subscriptions: %v", got)
	}
}
