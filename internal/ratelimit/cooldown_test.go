package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCooldownGateAppliesDefaults(t *testing.T) {
	t.Parallel()

	gate := NewCooldownGate(0, 0)
	if gate.Threshold() != DefaultFailureThreshold {
		t.Fatalf("threshold = %d, want %d", gate.Threshold(), DefaultFailureThreshold)
	}
	if gate.Period() != DefaultCooldownPeriod {
		t.Fatalf("period = %s, want %s", gate.Period(), DefaultCooldownPeriod)
	}
}

func TestCooldownGateWaitBelowThresholdDoesNotSleep(t *testing.T) {
	t.Parallel()

	slept := 0
	gate := NewCooldownGateWithClock(5, time.Minute, time.Now, func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	})

	for i := 0; i < 4; i++ {
		gate.RecordFailure()
	}

	waited, err := gate.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if waited || slept != 0 {
		t.Fatalf("waited=%v slept=%d, want no cool-down", waited, slept)
	}
	if gate.Failures() != 4 {
		t.Fatalf("failures = %d, want 4", gate.Failures())
	}
}

func TestCooldownGateWaitAtThresholdSleepsOnceAndResets(t *testing.T) {
	t.Parallel()

	var sleptFor []time.Duration
	gate := NewCooldownGateWithClock(5, 15*time.Minute, time.Now, func(ctx context.Context, d time.Duration) error {
		sleptFor = append(sleptFor, d)
		return nil
	})

	for i := 0; i < 5; i++ {
		gate.RecordFailure()
	}
	if !gate.Tripped() {
		t.Fatal("gate should be tripped after 5 failures")
	}

	waited, err := gate.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !waited {
		t.Fatal("expected a cool-down to be served")
	}
	if len(sleptFor) != 1 || sleptFor[0] != 15*time.Minute {
		t.Fatalf("sleeps = %v, want one 15m sleep", sleptFor)
	}
	if gate.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", gate.Failures())
	}

	waited, err = gate.Wait(context.Background())
	if err != nil || waited {
		t.Fatalf("second Wait() waited=%v err=%v, want no-op", waited, err)
	}
}

func TestCooldownGateWaitCanceled(t *testing.T) {
	t.Parallel()

	gate := NewCooldownGate(1, time.Hour)
	gate.RecordFailure()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waited, err := gate.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if waited {
		t.Fatal("canceled wait should not count as served")
	}
	if gate.Failures() != 1 {
		t.Fatalf("failures = %d, want counter kept at 1", gate.Failures())
	}
}

func TestCooldownGateRecordSuccessResets(t *testing.T) {
	t.Parallel()

	gate := NewCooldownGate(5, time.Minute)
	for i := 1; i <= 4; i++ {
		if got := gate.RecordFailure(); got != i {
			t.Fatalf("RecordFailure() = %d, want %d", got, i)
		}
	}

	gate.RecordSuccess()
	if gate.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", gate.Failures())
	}
}

func TestCooldownGateAllowSkipsDuringCooldown(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	gate := NewCooldownGateWithClock(2, 10*time.Minute, func() time.Time { return now }, nil)

	if !gate.Allow() {
		t.Fatal("fresh gate should allow")
	}

	gate.RecordFailure()
	gate.RecordFailure()

	if gate.Allow() {
		t.Fatal("tripped gate should not allow")
	}

	now = now.Add(9 * time.Minute)
	if gate.Allow() {
		t.Fatal("gate should stay closed before the cool-down elapses")
	}

	now = now.Add(time.Minute)
	if !gate.Allow() {
		t.Fatal("gate should reopen once the cool-down elapsed")
	}
	if gate.Failures() != 0 {
		t.Fatalf("failures = %d, want 0 after reopening", gate.Failures())
	}
}
