package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

func testLogger() *logx.Logger {
	return logx.NewLogger("error", "ratelimit-test")
}

func TestNewStartsWithFullBucket(t *testing.T) {
	l := New(10, 2.0, testLogger())
	if got := l.Capacity(); got != 20 {
		t.Errorf("Capacity() = %v, want 20", got)
	}
	if got := l.CurrentTokens(); got < 19.99 || got > 20 {
		t.Errorf("CurrentTokens() = %v, want ~20", got)
	}
}

func TestAcquireConsumesATokenImmediatelyWhenAvailable(t *testing.T) {
	l := New(10, 2.0, testLogger())
	before := l.CurrentTokens()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	after := l.CurrentTokens()
	if before-after < 0.9 {
		t.Errorf("expected roughly one token consumed, before=%v after=%v", before, after)
	}

	snap := l.Snapshot()
	if snap.MessagesAllowed != 1 {
		t.Errorf("MessagesAllowed = %d, want 1", snap.MessagesAllowed)
	}
	if snap.MessagesDelayed != 0 {
		t.Errorf("MessagesDelayed = %d, want 0", snap.MessagesDelayed)
	}
}

func TestAcquireWaitsWhenBucketEmpty(t *testing.T) {
	l := New(100, 1.0, testLogger()) // capacity 100, fast refill for a quick test
	l.tokens = 0
	l.lastRefill = time.Now()

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	elapsed := time.Since(start)

	// At rate=100/s, waiting for one token should take roughly 10ms.
	if elapsed < 2*time.Millisecond {
		t.Errorf("expected Acquire to wait for a refill, elapsed=%v", elapsed)
	}

	snap := l.Snapshot()
	if snap.MessagesDelayed != 1 {
		t.Errorf("MessagesDelayed = %d, want 1", snap.MessagesDelayed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(1, 1.0, testLogger()) // capacity 1, rate 1/s
	l.tokens = 0
	l.lastRefill = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if err == nil {
		t.Fatal("expected Acquire to return an error when the context is cancelled mid-wait")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestRefillLockedCapsAtCapacity(t *testing.T) {
	l := New(10, 1.0, testLogger()) // capacity 10
	l.tokens = 5
	l.lastRefill = time.Now().Add(-10 * time.Second) // plenty of elapsed time

	l.refillLocked(time.Now())

	if l.tokens != l.capacity {
		t.Errorf("tokens = %v, want capped at capacity %v", l.tokens, l.capacity)
	}
}

func TestRefillLockedHandlesNonMonotonicClock(t *testing.T) {
	l := New(10, 1.0, testLogger())
	l.tokens = 3
	future := time.Now().Add(time.Second)
	l.lastRefill = future

	l.refillLocked(time.Now()) // "now" is before lastRefill: negative elapsed

	if l.tokens != 3 {
		t.Errorf("tokens = %v, want unchanged at 3 after a non-monotonic refill", l.tokens)
	}
}

func TestSnapshotComputesAverageWaitTime(t *testing.T) {
	l := New(100, 1.0, testLogger())
	l.tokens = 0
	l.lastRefill = time.Now()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	snap := l.Snapshot()
	if snap.AvgWaitTime <= 0 {
		t.Errorf("AvgWaitTime = %v, want > 0 after one delayed acquire", snap.AvgWaitTime)
	}
	if snap.AvgWaitTime != snap.TotalWaitTime/float64(snap.MessagesDelayed) {
		t.Error("AvgWaitTime should equal TotalWaitTime / MessagesDelayed")
	}
}

func TestResetRestoresFullBucketAndClearsCounters(t *testing.T) {
	l := New(10, 1.0, testLogger())
	_ = l.Acquire(context.Background())

	l.Reset()

	snap := l.Snapshot()
	if snap.MessagesAllowed != 0 || snap.MessagesDelayed != 0 {
		t.Errorf("expected counters cleared, got %+v", snap)
	}
	if l.CurrentTokens() != l.Capacity() {
		t.Errorf("expected tokens restored to capacity after Reset")
	}
}
