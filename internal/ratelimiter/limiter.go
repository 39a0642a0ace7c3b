// Package ratelimiter implements a token-bucket-by-time pacing primitive:
// a single-resource limiter whose state is a single future instant `next`
// rather than a stored count of tokens, with an exact
// prorate-on-limit-change rule and a throttling-feedback hook.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/Amr-9/kelp/pkg/kelperr"
)

// Limiter paces callers to limitPerSecond units: timePerUnit is the cost
// of one unit, duration the burst window, next the earliest instant a new
// request finds the limiter under its limit, and removePast is set by
// throttling feedback. Invariant: when now >= next the limiter is under
// its limit.
//
// All operations serialize on mu; consumeUnits releases it before sleeping.
type Limiter struct {
	mu sync.Mutex

	timePerUnit time.Duration // zero means disabled
	duration    time.Duration
	next        time.Time
	removePast  bool

	// nowFn and sleepFn are overridable for deterministic tests.
	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// New builds a Limiter at limitPerSecond units/second with the given burst
// window. limitPerSecond <= 0 builds a disabled limiter (see SetLimit).
func New(limitPerSecond float64, burst time.Duration) *Limiter {
	l := &Limiter{
		nowFn:   time.Now,
		sleepFn: time.Sleep,
		next:    time.Now(),
	}
	l.SetLimit(limitPerSecond, burst)
	return l
}

func (l *Limiter) now() time.Time { return l.nowFn() }

// SetLimit recomputes timePerUnit, raises duration to at least one unit's
// worth of time, and prorates any unused burst capacity so a rate change
// neither gives nor takes burst.
func (l *Limiter) SetLimit(limitPerSecond float64, burst time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldTimePerUnit := l.timePerUnit

	if limitPerSecond <= 0 {
		l.timePerUnit = 0
		return
	}

	newTimePerUnit := time.Duration(float64(time.Second) / limitPerSecond)
	if burst < newTimePerUnit {
		burst = newTimePerUnit
	}
	l.duration = burst

	now := l.now()
	if oldTimePerUnit != 0 && l.next.Before(now) {
		elapsed := now.Sub(l.next)
		scaled := time.Duration(float64(elapsed) * (float64(newTimePerUnit) / float64(oldTimePerUnit)))
		l.next = now.Add(-scaled)
	} else if oldTimePerUnit == 0 {
		l.next = now
	}
	l.timePerUnit = newTimePerUnit
}

// HandleThrottling marks that the next ConsumeUnits call must discard any
// accumulated past credit.
func (l *Limiter) HandleThrottling() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removePast = true
}

// ConsumeUnits blocks until the limiter is under its limit and charges
// units, including the negative-units "give back" path used when a
// request's actual consumption is less than what was pre-reserved. A zero
// timeout means no limit; on timeout with consumeOnTimeout false the units
// are not charged and a timeout error is returned.
func (l *Limiter) ConsumeUnits(units int, timeout time.Duration, consumeOnTimeout bool) (time.Duration, error) {
	l.mu.Lock()

	if l.timePerUnit == 0 {
		l.mu.Unlock()
		return 0, nil
	}

	now := l.now()
	maxPast := now.Add(-l.duration)
	if l.removePast {
		maxPast = now
		l.removePast = false
	}
	if l.next.Before(maxPast) {
		l.next = maxPast
	}

	sleep := l.next.Sub(now)
	if sleep < 0 {
		sleep = 0
	}
	newNext := l.next.Add(time.Duration(units) * l.timePerUnit)

	if units < 0 || !l.next.After(now) {
		l.next = newNext
		l.mu.Unlock()
		return 0, nil
	}

	noLimit := timeout == 0
	if noLimit || sleep < timeout {
		l.next = newNext
		l.mu.Unlock()
		l.sleepFn(sleep)
		return sleep, nil
	}

	// sleep >= timeout: the limiter cannot admit this request within the
	// caller's budget.
	l.mu.Unlock()
	l.sleepFn(timeout)
	if consumeOnTimeout {
		return timeout, nil
	}
	return timeout, kelperr.NewTimeoutException(timeout, 0, nil)
}

// NullLimiter is the no-op RateLimiter installed for a table side whose
// TableLimits unit count is zero: every consume call returns immediately
// with zero delay and no state is maintained.
type NullLimiter struct{}

func (NullLimiter) ConsumeUnits(units int, timeout time.Duration, consumeOnTimeout bool) (time.Duration, error) {
	return 0, nil
}

func (NullLimiter) SetLimit(limitPerSecond float64, burst time.Duration) {}

func (NullLimiter) HandleThrottling() {}

// RateLimiter is the interface the coordinator holds per table side,
// satisfied by both *Limiter and NullLimiter.
type RateLimiter interface {
	ConsumeUnits(units int, timeout time.Duration, consumeOnTimeout bool) (time.Duration, error)
	SetLimit(limitPerSecond float64, burst time.Duration)
	HandleThrottling()
}
