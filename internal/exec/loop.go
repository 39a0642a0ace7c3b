// Package exec implements the execution loop: the single
// retry/timeout/protocol-fallback state machine every operation (Get,
// Put, Delete, WriteMultiple, MultiDeleteRange, Query, the table-DDL
// operations) is driven through.
package exec

import (
	"context"
	"time"

	"github.com/Amr-9/kelp/internal/metrics"
	"github.com/Amr-9/kelp/internal/protocol"
	"github.com/Amr-9/kelp/internal/retry"
	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// Submitter is the narrow HTTP submit path contract the loop drives;
// internal/transport.Submitter satisfies it.
type Submitter interface {
	ExecuteRequest(ctx context.Context, req *models.Request) (any, error)
}

// RateCoordinator is the narrow rate-limiting/circuit-breaker contract the
// loop drives around each attempt; internal/coordinator.Coordinator
// satisfies it.
type RateCoordinator interface {
	Admit(ctx context.Context, req *models.Request) error
	Charge(ctx context.Context, req *models.Request, consumed *models.ConsumedCapacity, callErr error)
	HandleThrottling(table string, isWrite bool)
}

// CapacityCarrier is implemented by a submit path's result type when it
// carries a ConsumedCapacity the coordinator must charge.
type CapacityCarrier interface {
	Capacity() models.ConsumedCapacity
}

// RetryHandler decides whether and when the loop retries; both members
// must be pure functions of request state.
type RetryHandler interface {
	ShouldRetry(req *models.Request) bool
	GetRetryDelay(req *models.Request) time.Duration
}

// Config bundles the loop's collaborators.
type Config struct {
	Submitter               Submitter
	Coordinator             RateCoordinator
	Negotiator              *protocol.Negotiator
	RetryHandler            RetryHandler
	SecurityInfoNotReadyTimeout time.Duration
	DisableProtocolFallback bool

	// Metrics records per-request latency/retry/outcome; nil records
	// nothing.
	Metrics *metrics.Recorder

	// SleepFn and NowFn are overridable for deterministic tests; default
	// to time.Sleep/time.Now.
	SleepFn func(time.Duration)
	NowFn   func() time.Time
}

// Loop drives the retry/timeout/protocol-fallback state machine.
type Loop struct {
	cfg Config
}

// New builds a Loop, filling in default Sleep/Now functions.
func New(cfg Config) *Loop {
	if cfg.SleepFn == nil {
		cfg.SleepFn = time.Sleep
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}
	return &Loop{cfg: cfg}
}

// Execute drives req through the state machine until it succeeds or a
// fatal/timeout condition surfaces. The payload's options bag is validated
// exactly once, before the first attempt; the retry loop itself never
// re-validates.
func (l *Loop) Execute(ctx context.Context, req *models.Request) (any, error) {
	start := l.cfg.NowFn()
	if v, ok := req.Payload.(models.Validator); ok {
		if err := v.Validate(); err != nil {
			l.cfg.Metrics.RecordRequest(req.Kind.String(), 0, 0, err)
			return nil, err
		}
	}
	result, err := l.execute(ctx, req)
	l.cfg.Metrics.RecordRequest(req.Kind.String(), l.cfg.NowFn().Sub(start), req.RetryCount, err)
	return result, err
}

func (l *Loop) execute(ctx context.Context, req *models.Request) (any, error) {
	startTime := l.cfg.NowFn()
	timeout := req.Timeout

	for {
		observedVersion := l.cfg.Negotiator.CurrentVersion()
		now := l.cfg.NowFn()
		endTime := startTime.Add(timeout)

		attemptCtx, cancel := context.WithDeadline(ctx, endTime)
		result, err := l.attempt(attemptCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}

		req.AddException(err)
		l.notifyCoordinator(req, err)

		if isSecurityInfoNotReady(err) && timeout < l.cfg.SecurityInfoNotReadyTimeout {
			timeout = l.cfg.SecurityInfoNotReadyTimeout
			endTime = startTime.Add(timeout)
		}

		if isUnsupportedProtocol(err) && now.Before(endTime) && !l.cfg.DisableProtocolFallback {
			if observedVersion != l.cfg.Negotiator.CurrentVersion() || l.cfg.Negotiator.DecrementSerialVersion(observedVersion) {
				current := l.cfg.Negotiator.CurrentVersion()
				if req.MinProtocolVersion > 0 && current < req.MinProtocolVersion {
					return nil, kelperr.NewUnsupportedProtocolError(current, req.MinProtocolVersion)
				}
				continue // no backoff, no retry-count increment
			}
		}

		if isTimeout(err) {
			return nil, kelperr.NewTimeoutException(l.cfg.NowFn().Sub(startTime), req.RetryCount, err)
		}

		if !retry.Classify(err) || !l.cfg.RetryHandler.ShouldRetry(req) {
			return nil, err
		}

		delay := l.cfg.RetryHandler.GetRetryDelay(req)
		preSleepNow := l.cfg.NowFn()
		if !preSleepNow.Add(delay).Before(endTime) {
			return nil, kelperr.NewTimeoutException(preSleepNow.Sub(startTime), req.RetryCount, err)
		}

		req.Timeout = endTime.Sub(preSleepNow.Add(delay))
		req.RetryCount++
		l.cfg.SleepFn(delay)
	}
}

// attempt performs one full iteration of the loop body: pre-consume 0
// units, submit, apply the result, charge consumed units.
func (l *Loop) attempt(ctx context.Context, req *models.Request) (any, error) {
	if err := l.cfg.Coordinator.Admit(ctx, req); err != nil {
		return nil, err
	}

	result, err := l.cfg.Submitter.ExecuteRequest(ctx, req)
	if err != nil {
		l.cfg.Coordinator.Charge(ctx, req, &models.ConsumedCapacity{}, err)
		return nil, err
	}

	if applier, ok := req.Payload.(models.ResultApplier); ok {
		if err := applier.ApplyResult(result); err != nil {
			l.cfg.Coordinator.Charge(ctx, req, &models.ConsumedCapacity{}, err)
			return nil, err
		}
	}

	consumed := models.ConsumedCapacity{}
	if carrier, ok := result.(CapacityCarrier); ok {
		consumed = carrier.Capacity()
	}
	l.cfg.Coordinator.Charge(ctx, req, &consumed, nil)

	return result, nil
}

func (l *Loop) notifyCoordinator(req *models.Request, err error) {
	var svcErr *kelperr.ServiceError
	if se, ok := err.(*kelperr.ServiceError); ok {
		svcErr = se
	}
	if svcErr == nil || req.Table == "" {
		return
	}
	switch svcErr.Code {
	case kelperr.ThrottlingRead:
		l.cfg.Coordinator.HandleThrottling(req.Table, false)
	case kelperr.ThrottlingWrite:
		l.cfg.Coordinator.HandleThrottling(req.Table, true)
	}
}

func isSecurityInfoNotReady(err error) bool {
	se, ok := err.(*kelperr.ServiceError)
	return ok && se.Code == kelperr.SecurityInfoNotReady
}

func isUnsupportedProtocol(err error) bool {
	se, ok := err.(*kelperr.ServiceError)
	return ok && se.Code == kelperr.UnsupportedProtocol
}

func isTimeout(err error) bool {
	_, ok := err.(*kelperr.TimeoutException)
	return ok
}
