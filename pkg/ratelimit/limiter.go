// Package ratelimit implements the gateway's token-bucket admission
// control (C2). It is a direct port of plugins/mqtt_gateway/
// rate_limiter.py's refill/acquire math, wrapped in the teacher's
// mutex-guarded, stats-reporting style (pkg/notifications/
// adaptive_rate_limiter.go).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

// Limiter is a single global token bucket. All methods are safe for
// concurrent use; acquire() serializes callers exactly as the Python
// source's `async with self._lock` does, including across the sleep
// (see DESIGN.md Open Question O3).
type Limiter struct {
	mu sync.Mutex

	rate      float64 // max_messages_per_second
	capacity  float64 // rate * burst_multiplier
	tokens    float64
	lastRefill time.Time

	logger *logx.Logger

	messagesAllowed uint64
	messagesDelayed uint64
	totalWaitTime   float64
	maxWaitTime     float64
}

// New creates a Limiter with a full bucket, given the sustained rate
// and burst multiplier already validated by gwconfig.
func New(ratePerSecond float64, burstMultiplier float64, logger *logx.Logger) *Limiter {
	capacity := ratePerSecond * burstMultiplier
	return &Limiter{
		rate:       ratePerSecond,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: time.Now(),
		logger:     logger,
	}
}

// refillLocked adds tokens for elapsed wall-clock time, capped at
// capacity. A negative elapsed duration (non-monotonic clock) resets
// last_refill without adding tokens and is logged, matching
// rate_limiter.py's defensive branch.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed < 0 {
		l.logger.Error("rate limiter observed non-monotonic clock, resetting refill anchor",
			"elapsed_seconds", elapsed)
		l.lastRefill = now
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = now
}

// Acquire blocks (cooperatively) until a single token is available,
// then consumes it. It holds the limiter's lock for the duration of
// any wait, serializing concurrent callers one at a time. ctx
// cancellation is honored during the wait and returns ctx.Err()
// without leaving the bucket inconsistent.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())

	if l.tokens >= 1 {
		l.tokens--
		l.messagesAllowed++
		return nil
	}

	wait := (1 - l.tokens) / l.rate
	l.messagesDelayed++
	l.totalWaitTime += wait
	if wait > l.maxWaitTime {
		l.maxWaitTime = wait
	}
	if wait >= 1.0 {
		l.logger.Warn("rate limiter significant delay", "wait_seconds", wait)
	} else {
		l.logger.Debug("rate limiter delay", "wait_seconds", wait)
	}

	timer := time.NewTimer(time.Duration(wait * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	l.refillLocked(time.Now())
	if l.tokens < 1 {
		// Guard against floating point edge cases at the boundary;
		// treat as available rather than re-looping.
		l.tokens = 1
	}
	l.tokens--
	l.messagesAllowed++
	return nil
}

// CurrentTokens returns the current token count after applying a
// refill, for health-snapshot reporting.
func (l *Limiter) CurrentTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return l.tokens
}

// Capacity returns the bucket's maximum token count.
func (l *Limiter) Capacity() float64 {
	return l.capacity
}

// Rate returns the configured sustained admission rate.
func (l *Limiter) Rate() float64 {
	return l.rate
}

// Stats is a snapshot of the limiter's counters for the health
// endpoint's nested rate_limit object.
type Stats struct {
	MaxMessagesPerSecond float64
	BurstCapacity        float64
	CurrentTokens        float64
	MessagesAllowed      uint64
	MessagesDelayed      uint64
	TotalWaitTime        float64
	MaxWaitTime          float64
	AvgWaitTime          float64
}

// Snapshot returns the current Stats, refilling tokens first.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())

	var avg float64
	if l.messagesDelayed > 0 {
		avg = l.totalWaitTime / float64(l.messagesDelayed)
	}

	return Stats{
		MaxMessagesPerSecond: l.rate,
		BurstCapacity:        l.capacity,
		CurrentTokens:        l.tokens,
		MessagesAllowed:      l.messagesAllowed,
		MessagesDelayed:      l.messagesDelayed,
		TotalWaitTime:        l.totalWaitTime,
		MaxWaitTime:          l.maxWaitTime,
		AvgWaitTime:          avg,
	}
}

// Reset clears counters and refills the bucket to capacity, used only
// by tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.capacity
	l.lastRefill = time.Now()
	l.messagesAllowed = 0
	l.messagesDelayed = 0
	l.totalWaitTime = 0
	l.maxWaitTime = 0
}
