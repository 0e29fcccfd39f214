package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldownPeriod   = 15 * time.Minute
)

// CooldownGate counts consecutive send failures and pauses sending once the
// threshold is reached. Wait is the blocking form; Allow lets callers skip work
// instead of sleeping.
type CooldownGate struct {
	mu        sync.Mutex
	threshold int
	period    time.Duration
	failures  int
	trippedAt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewCooldownGate(threshold int, period time.Duration) *CooldownGate {
	return NewCooldownGateWithClock(threshold, period, time.Now, sleepWithContext)
}

// NewCooldownGateWithClock is NewCooldownGate with injectable time and sleep.
func NewCooldownGateWithClock(
	threshold int,
	period time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) *CooldownGate {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	if period <= 0 {
		period = DefaultCooldownPeriod
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &CooldownGate{
		threshold: threshold,
		period:    period,
		now:       nowFn,
		sleep:     sleepFn,
	}
}

// Wait blocks for the cool-down period when the threshold has been reached and
// resets the counter afterwards. It reports whether a cool-down was served.
func (g *CooldownGate) Wait(ctx context.Context) (bool, error) {
	if !g.Tripped() {
		return false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := g.sleep(ctx, g.period); err != nil {
		return false, err
	}

	g.Reset()
	return true, nil
}

// Allow never blocks. Once tripped it returns false until the cool-down has
// elapsed, then resets the counter and lets work through again.
func (g *CooldownGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failures < g.threshold {
		return true
	}

	now := g.now()
	if g.trippedAt.IsZero() {
		g.trippedAt = now
		return false
	}
	if now.Sub(g.trippedAt) < g.period {
		return false
	}

	g.failures = 0
	g.trippedAt = time.Time{}
	return true
}

// RecordFailure increments the consecutive failure counter and returns the new value.
func (g *CooldownGate) RecordFailure() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	return g.failures
}

func (g *CooldownGate) RecordSuccess() {
	g.Reset()
}

func (g *CooldownGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = 0
	g.trippedAt = time.Time{}
}

func (g *CooldownGate) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.failures
}

func (g *CooldownGate) Threshold() int {
	return g.threshold
}

func (g *CooldownGate) Period() time.Duration {
	return g.period
}

// Tripped reports whether the failure threshold has been reached.
func (g *CooldownGate) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.failures >= g.threshold
}
