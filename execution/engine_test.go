package execution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/store/memory"
)

func ctx() context.Context { return context.Background() }

// sleepRecorder captures requested delays without actually waiting.
type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func setup(t *testing.T, policy backoff.Policy, enabled bool) (*memory.Store, *execution.Engine, id.ID, *sleepRecorder) {
	t.Helper()
	s := memory.New()

	svc := connector.NewService(s, nil)
	c, err := svc.Create(ctx(), connector.Input{
		Name:        "hr-system",
		Type:        connector.TypeHR,
		BaseURL:     "https://hr.example.com",
		RetryPolicy: policy,
	})
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		if err := svc.Enable(ctx(), c.ID); err != nil {
			t.Fatal(err)
		}
	}

	rec := &sleepRecorder{}
	engine := execution.NewEngine(s, s, execution.Config{Sleep: rec.sleep}, nil)
	return s, engine, c.ID, rec
}

func TestRetryExhaustion(t *testing.T) {
	policy := backoff.Policy{MaxRetryAttempts: 3, BaseDelay: time.Second}
	_, engine, connID, _ := setup(t, policy, true)

	calls := 0
	log, err := engine.ExecuteWithRetry(ctx(), connID, "hr.pull_employees", "corr-1", "tester",
		func(context.Context) (*execution.CallResult, error) {
			calls++
			return nil, errors.New("connection refused")
		})
	if err != nil {
		t.Fatal(err)
	}

	if calls != 4 {
		t.Errorf("call invoked %d times, want 4 (1 + 3 retries)", calls)
	}
	if log.Status != execution.LogFailed {
		t.Errorf("log status = %q, want failed", log.Status)
	}
	if log.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", log.RetryCount)
	}
	if log.Error != "connection refused" {
		t.Errorf("log error = %q, want last attempt's message", log.Error)
	}
	if log.CompletedAt == nil {
		t.Error("failed log not finalized")
	}
}

func TestCancelledBackoffStampsActualAttempts(t *testing.T) {
	policy := backoff.Policy{MaxRetryAttempts: 3, BaseDelay: time.Second}
	s := memory.New()

	svc := connector.NewService(s, nil)
	c, err := svc.Create(ctx(), connector.Input{
		Name:        "hr-system",
		Type:        connector.TypeHR,
		BaseURL:     "https://hr.example.com",
		RetryPolicy: policy,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Enable(ctx(), c.ID); err != nil {
		t.Fatal(err)
	}

	// The first backoff sleep is interrupted, so only one attempt runs.
	engine := execution.NewEngine(s, s, execution.Config{
		Sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	}, nil)

	calls := 0
	log, err := engine.ExecuteWithRetry(ctx(), c.ID, "hr.pull_employees", "corr-9", "tester",
		func(context.Context) (*execution.CallResult, error) {
			calls++
			return nil, errors.New("connection refused")
		})
	if err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Errorf("call invoked %d times, want 1", calls)
	}
	if log.Status != execution.LogFailed {
		t.Errorf("log status = %q, want failed", log.Status)
	}
	if log.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 for a run cancelled before its first retry", log.RetryCount)
	}
	if log.CompletedAt == nil {
		t.Error("failed log not finalized")
	}
}

func TestDisabledShortCircuit(t *testing.T) {
	_, engine, connID, rec := setup(t, backoff.Policy{MaxRetryAttempts: 5, BaseDelay: time.Second}, false)

	called := false
	log, err := engine.ExecuteWithRetry(ctx(), connID, "hr.pull_employees", "corr-2", "tester",
		func(context.Context) (*execution.CallResult, error) {
			called = true
			return &execution.CallResult{StatusCode: 200}, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	if called {
		t.Error("disabled connector invoked the call")
	}
	if log.Status != execution.LogSkipped {
		t.Errorf("log status = %q, want skipped", log.Status)
	}
	if log.Duration != 0 {
		t.Errorf("skipped log duration = %v, want 0", log.Duration)
	}
	if len(rec.delays) != 0 {
		t.Errorf("skipped execution slept %d times", len(rec.delays))
	}
}

func TestExponentialBackoffDelays(t *testing.T) {
	policy := backoff.Policy{MaxRetryAttempts: 3, BaseDelay: 2 * time.Second, Exponential: true}
	_, engine, connID, rec := setup(t, policy, true)

	_, err := engine.ExecuteWithRetry(ctx(), connID, "op", "corr-3", "tester",
		func(context.Context) (*execution.CallResult, error) {
			return nil, errors.New("boom")
		})
	if err != nil {
		t.Fatal(err)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(rec.delays), len(want))
	}
	for i, w := range want {
		if rec.delays[i] != w {
			t.Errorf("delay before retry %d = %v, want %v", i+1, rec.delays[i], w)
		}
	}
}

func TestFixedBackoffDelays(t *testing.T) {
	policy := backoff.Policy{MaxRetryAttempts: 2, BaseDelay: 3 * time.Second}
	_, engine, connID, rec := setup(t, policy, true)

	_, err := engine.ExecuteWithRetry(ctx(), connID, "op", "corr-4", "tester",
		func(context.Context) (*execution.CallResult, error) {
			return nil, errors.New("boom")
		})
	if err != nil {
		t.Fatal(err)
	}

	want := []time.Duration{3 * time.Second, 3 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(rec.delays), len(want))
	}
	for i, w := range want {
		if rec.delays[i] != w {
			t.Errorf("delay before retry %d = %v, want %v", i+1, rec.delays[i], w)
		}
	}
}

func TestSuccessAfterRetries(t *testing.T) {
	policy := backoff.Policy{MaxRetryAttempts: 4, BaseDelay: time.Second}
	s, engine, connID, _ := setup(t, policy, true)

	calls := 0
	log, err := engine.ExecuteWithRetry(ctx(), connID, "op", "corr-5", "tester",
		func(context.Context) (*execution.CallResult, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return &execution.CallResult{
				Method:     "GET",
				Endpoint:   "https://hr.example.com/employees",
				StatusCode: 200,
				Body:       []byte(`[{"id":"e1"}]`),
			}, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	if calls != 3 {
		t.Errorf("call invoked %d times, want 3", calls)
	}
	if log.Status != execution.LogSuccess {
		t.Errorf("log status = %q, want success", log.Status)
	}
	if log.SucceededAttempt != 3 {
		t.Errorf("SucceededAttempt = %d, want 3", log.SucceededAttempt)
	}
	if log.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", log.RetryCount)
	}
	if log.StatusCode != 200 || log.Method != "GET" {
		t.Errorf("log did not capture call result: %+v", log)
	}

	// Exactly one log persisted for the whole attempt-set.
	logs, err := s.ListLogsByCorrelation(ctx(), "corr-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Errorf("persisted %d logs, want 1", len(logs))
	}
}

func TestUnknownConnector(t *testing.T) {
	s := memory.New()
	engine := execution.NewEngine(s, s, execution.Config{}, nil)

	_, err := engine.ExecuteWithRetry(ctx(), id.NewConnectorID(), "op", "", "",
		func(context.Context) (*execution.CallResult, error) {
			t.Fatal("call should not run for unknown connector")
			return nil, nil
		})
	if err == nil {
		t.Fatal("expected error for unknown connector")
	}
}
