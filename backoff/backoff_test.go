package backoff_test

import (
	"testing"
	"time"

	"github.com/loomhq/loom/backoff"
)

func TestFixedDelayIsConstant(t *testing.T) {
	p := backoff.Policy{MaxRetryAttempts: 4, BaseDelay: 3 * time.Second}

	for retry := 1; retry <= 4; retry++ {
		if got := p.Delay(retry); got != 3*time.Second {
			t.Errorf("Delay(%d) = %v, want 3s", retry, got)
		}
	}
}

func TestExponentialDelayDoubles(t *testing.T) {
	p := backoff.Policy{MaxRetryAttempts: 4, BaseDelay: 5 * time.Second, Exponential: true}

	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestMaxAttempts(t *testing.T) {
	p := backoff.Policy{MaxRetryAttempts: 2}
	if got := p.MaxAttempts(); got != 3 {
		t.Errorf("MaxAttempts() = %d, want 3", got)
	}

	p = backoff.Policy{MaxRetryAttempts: -1}
	if got := p.MaxAttempts(); got != 1 {
		t.Errorf("MaxAttempts() with negative retries = %d, want 1", got)
	}
}

func TestOrDefault(t *testing.T) {
	var zero backoff.Policy
	if got := zero.OrDefault(); got != backoff.Default {
		t.Errorf("OrDefault() on zero policy = %+v, want Default", got)
	}

	p := backoff.Policy{MaxRetryAttempts: 1, BaseDelay: time.Second}
	if got := p.OrDefault(); got != p {
		t.Errorf("OrDefault() on configured policy = %+v, want unchanged", got)
	}
}

func TestNoneDisablesRetries(t *testing.T) {
	if got := backoff.None.OrDefault(); got != backoff.None {
		t.Errorf("OrDefault() on None = %+v, want None, not Default", got)
	}
	if got := backoff.None.MaxAttempts(); got != 1 {
		t.Errorf("None.MaxAttempts() = %d, want 1", got)
	}
}
