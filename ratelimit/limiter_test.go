package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowUnlimited(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		if !l.Allow("sub-1", 0) {
			t.Fatal("limit 0 must always allow")
		}
	}
}

func TestAllowCapsBurst(t *testing.T) {
	l := New()

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("sub-limited", 2) {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d deliveries in one burst, want 2", allowed)
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l := New()

	for i := 0; i < 2; i++ {
		l.Allow("sub-a", 2)
	}
	if l.Allow("sub-a", 2) {
		t.Error("exhausted bucket still allows")
	}
	if !l.Allow("sub-b", 2) {
		t.Error("fresh bucket for another subscription denied")
	}
}

func TestResetRefills(t *testing.T) {
	l := New()

	for i := 0; i < 3; i++ {
		l.Allow("sub-1", 1)
	}
	l.Reset("sub-1")
	if !l.Allow("sub-1", 1) {
		t.Error("reset did not refill the bucket")
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	l := New()

	// Drain the bucket first.
	for l.Allow("sub-1", 1) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "sub-1", 1); err == nil {
		t.Error("Wait returned before the bucket could have refilled")
	}
}
