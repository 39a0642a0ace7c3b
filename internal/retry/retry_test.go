package retry

import (
	"errors"
	"net"
	"testing"

	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

func TestClassifyServiceErrors(t *testing.T) {
	retryable := kelperr.NewServiceError(kelperr.ThrottlingRead, 429, "slow down")
	if !Classify(retryable) {
		t.Fatalf("throttling should be retryable")
	}
	fatal := kelperr.NewServiceError(kelperr.TableNotFound, 400, "no such table")
	if Classify(fatal) {
		t.Fatalf("table not found should be fatal")
	}
}

func TestClassifyHTTP5xx(t *testing.T) {
	for _, status := range []int{500, 502, 503, 504} {
		if !IsHTTPStatusRetryable(status) {
			t.Fatalf("status %d should be retryable", status)
		}
	}
	for _, status := range []int{400, 401, 404, 409}	{
		if IsHTTPStatusRetryable(status) {
			t.Fatalf("status %d should not be retryable", status)
		}
	}
}

func TestClassifyTransientNetwork(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if !Classify(err) {
		t.Fatalf("net.OpError should be classified retryable")
	}
}

func TestClassifyLocalErrorsNeverRetry(t *testing.T) {
	err := kelperr.NewArgumentError("bad offset")
	if Classify(err) {
		t.Fatalf("local errors must never be retryable")
	}
}

func TestClassifyCircuitOpenNeverRetries(t *testing.T) {
	err := &kelperr.CircuitOpenError{Table: "orders"}
	if Classify(err) {
		t.Fatalf("circuit open must never be retryable")
	}
}

func TestHandlerShouldRetryRespectsMaxAttempts(t *testing.T) {
	h := NewHandler(3)
	req := &models.Request{}
	req.AddException(kelperr.NewServiceError(kelperr.Retryable, 0, "transient"))
	req.RetryCount = 3
	if h.ShouldRetry(req) {
		t.Fatalf("should not retry once max attempts reached")
	}
	req.RetryCount = 2
	if !h.ShouldRetry(req) {
		t.Fatalf("should retry while attempts remain and error is retryable")
	}
}

func TestHandlerThrottleFloor(t *testing.T) {
	h := NewHandler(5)
	req := &models.Request{}
	req.AddException(kelperr.NewServiceError(kelperr.ThrottlingWrite, 0, "throttled"))
	delay := h.GetRetryDelay(req)
	if delay < ThrottleFloor {
		t.Fatalf("throttled delay %s should be floored at %s", delay, ThrottleFloor)
	}
}
