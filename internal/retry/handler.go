package retry

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// Default tuning for the exponential backoff curve.
const (
	DefaultInitialInterval     = 50 * time.Millisecond
	DefaultMaxInterval         = 5 * time.Second
	DefaultRandomizationFactor = 0.3
	DefaultMultiplier          = 2.0
	DefaultMaxAttempts         = 10

	// ThrottleFloor is the minimum delay imposed on a throttling failure,
	// regardless of how small the backoff curve's next interval would be.
	ThrottleFloor = 500 * time.Millisecond
)

// Handler implements the execution loop's RetryHandler contract:
// ShouldRetry and GetRetryDelay must be pure functions of request state.
type Handler struct {
	maxAttempts int
	newBackoff  func() *backoff.ExponentialBackOff
}

// NewHandler builds a Handler. maxAttempts <= 0 selects DefaultMaxAttempts.
func NewHandler(maxAttempts int) *Handler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Handler{
		maxAttempts: maxAttempts,
		newBackoff: func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = DefaultInitialInterval
			b.MaxInterval = DefaultMaxInterval
			b.RandomizationFactor = DefaultRandomizationFactor
			b.Multiplier = DefaultMultiplier
			return b
		},
	}
}

// ShouldRetry is driven by the configured maximum attempt count and by the
// nature of the last recorded exception (fatal errors never retry even if
// the attempt budget remains).
func (h *Handler) ShouldRetry(req *models.Request) bool {
	if req.RetryCount >= h.maxAttempts {
		return false
	}
	return Classify(req.LastException())
}

// GetRetryDelay returns the exponential-backoff-with-jitter delay for the
// next attempt, replaying the backoff curve up to req.RetryCount steps so
// the delay is a pure function of request state rather than carrying
// mutable per-request backoff state. Throttling failures are floored at
// ThrottleFloor.
func (h *Handler) GetRetryDelay(req *models.Request) time.Duration {
	b := h.newBackoff()
	var delay time.Duration
	for i := 0; i <= req.RetryCount; i++ {
		delay = b.NextBackOff()
	}

	if isThrottling(req.LastException()) && delay < ThrottleFloor {
		delay = ThrottleFloor
	}
	return delay
}

func isThrottling(err error) bool {
	var svcErr *kelperr.ServiceError
	if !errors.As(err, &svcErr) {
		return false
	}
	return svcErr.Code == kelperr.ThrottlingRead || svcErr.Code == kelperr.ThrottlingWrite
}
