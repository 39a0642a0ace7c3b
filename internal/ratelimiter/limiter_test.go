package ratelimiter

import (
	"testing"
	"time"
)

// fakeClock lets tests drive ConsumeUnits deterministically without
// real sleeps.
type fakeClock struct {
	t       time.Time
	slept   []time.Duration
}

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) sleep(d time.Duration) {
	f.slept = append(f.slept, d)
	f.t = f.t.Add(d)
}

func newTestLimiter(limitPerSecond float64, burst time.Duration) (*Limiter, *fakeClock) {
	fc := &fakeClock{t: time.Unix(1000, 0)}
	l := &Limiter{nowFn: fc.now, sleepFn: fc.sleep, next: fc.t}
	l.SetLimit(limitPerSecond, burst)
	return l, fc
}

func TestConsumeUnitsUnderLimitNoSleep(t *testing.T) {
	l, fc := newTestLimiter(10, time.Second)
	delay, err := l.ConsumeUnits(1, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delay != 0 {
		t.Fatalf("expected zero delay under limit, got %v", delay)
	}
	if len(fc.slept) != 0 {
		t.Fatalf("expected no sleep, got %v", fc.slept)
	}
}

func TestConsumeUnitsOverLimitSleeps(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second) // 1 unit/sec
	for i := 0; i < 5; i++ {
		if _, err := l.ConsumeUnits(1, 0, false); err != nil {
			t.Fatalf("unexpected error on iteration %d: %v", i, err)
		}
	}
	// every call after the first exceeds 1/s, so this sixth call must sleep.
	delay, err := l.ConsumeUnits(1, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delay <= 0 {
		t.Fatalf("expected positive delay once over limit, got %v", delay)
	}
}

func TestConsumeUnitsTimeoutFailsWithoutConsume(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)
	// Drive the limiter far over its limit.
	for i := 0; i < 20; i++ {
		l.ConsumeUnits(1, 0, false)
	}
	_, err := l.ConsumeUnits(1, 1*time.Millisecond, false)
	if err == nil {
		t.Fatalf("expected timeout error when sleep exceeds timeout")
	}
}

func TestConsumeUnitsTimeoutConsumeOnTimeout(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)
	for i := 0; i < 20; i++ {
		l.ConsumeUnits(1, 0, false)
	}
	delay, err := l.ConsumeUnits(1, 1*time.Millisecond, true)
	if err != nil {
		t.Fatalf("consumeOnTimeout should not error: %v", err)
	}
	if delay != 1*time.Millisecond {
		t.Fatalf("expected delay equal to timeout, got %v", delay)
	}
}

func TestDisabledLimiterNeverSleeps(t *testing.T) {
	l, fc := newTestLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if _, err := l.ConsumeUnits(10, 0, false); err != nil {
			t.Fatalf("disabled limiter should never error: %v", err)
		}
	}
	if len(fc.slept) != 0 {
		t.Fatalf("disabled limiter should never sleep")
	}
}

func TestNegativeUnitsReturnImmediately(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)
	for i := 0; i < 20; i++ {
		l.ConsumeUnits(1, 0, false)
	}
	delay, err := l.ConsumeUnits(-5, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delay != 0 {
		t.Fatalf("returning units should never sleep, got %v", delay)
	}
}

func TestHandleThrottlingDropsPastCredit(t *testing.T) {
	l, fc := newTestLimiter(1, 10*time.Second)
	for i := 0; i < 3; i++ {
		l.ConsumeUnits(1, 0, false)
	}
	l.HandleThrottling()
	delay, err := l.ConsumeUnits(1, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// After dropping accumulated burst, the next charge should require at
	// most one unit's worth of delay rather than the full backlog.
	if delay > 2*time.Second {
		t.Fatalf("expected throttling reset to shrink backlog, got delay %v (now=%v)", delay, fc.t)
	}
}

func TestNullLimiterNeverBlocks(t *testing.T) {
	var l RateLimiter = NullLimiter{}
	delay, err := l.ConsumeUnits(1000, time.Nanosecond, false)
	if err != nil || delay != 0 {
		t.Fatalf("NullLimiter should be a pure no-op, got delay=%v err=%v", delay, err)
	}
}
