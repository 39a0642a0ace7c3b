package exec

import (
	"context"
	"testing"
	"time"

	"github.com/Amr-9/kelp/internal/protocol"
	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

type fakeSubmitter struct {
	calls   int
	resultFn func(call int) (any, error)
}

func (f *fakeSubmitter) ExecuteRequest(ctx context.Context, req *models.Request) (any, error) {
	f.calls++
	return f.resultFn(f.calls)
}

type fakeCoordinator struct {
	throttled []string
}

func (f *fakeCoordinator) Admit(ctx context.Context, req *models.Request) error { return nil }
func (f *fakeCoordinator) Charge(ctx context.Context, req *models.Request, consumed *models.ConsumedCapacity, callErr error) {
}
func (f *fakeCoordinator) HandleThrottling(table string, isWrite bool) {
	f.throttled = append(f.throttled, table)
}

type fakeRetryHandler struct {
	maxAttempts int
	delay       time.Duration
}

func (f *fakeRetryHandler) ShouldRetry(req *models.Request) bool {
	return req.RetryCount < f.maxAttempts
}
func (f *fakeRetryHandler) GetRetryDelay(req *models.Request) time.Duration { return f.delay }

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) { return "ok", nil }}
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  &fakeCoordinator{},
		Negotiator:   protocol.NewNegotiator(),
		RetryHandler: &fakeRetryHandler{maxAttempts: 3, delay: time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindGet, Timeout: time.Second}
	res, err := loop.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Fatalf("got %v", res)
	}
	if sub.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", sub.calls)
	}
}

func TestExecuteRetriesRetryableThenSucceeds(t *testing.T) {
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) {
		if call < 3 {
			return nil, kelperr.NewServiceError(kelperr.Retryable, 0, "transient")
		}
		return "ok", nil
	}}
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  &fakeCoordinator{},
		Negotiator:   protocol.NewNegotiator(),
		RetryHandler: &fakeRetryHandler{maxAttempts: 5, delay: time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindGet, Timeout: time.Second}
	res, err := loop.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Fatalf("got %v", res)
	}
	if sub.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", sub.calls)
	}
	if req.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", req.RetryCount)
	}
}

func TestExecuteFatalErrorNeverRetries(t *testing.T) {
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) {
		return nil, kelperr.NewServiceError(kelperr.TableNotFound, 400, "no table")
	}}
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  &fakeCoordinator{},
		Negotiator:   protocol.NewNegotiator(),
		RetryHandler: &fakeRetryHandler{maxAttempts: 5, delay: time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindGet, Timeout: time.Second}
	_, err := loop.Execute(context.Background(), req)
	if err == nil {
		t.Fatalf("expected fatal error to surface")
	}
	if sub.calls != 1 {
		t.Fatalf("fatal error should not retry, got %d calls", sub.calls)
	}
}

func TestExecuteDeadlineExceededWrapsTimeout(t *testing.T) {
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) {
		return nil, kelperr.NewServiceError(kelperr.Retryable, 0, "transient")
	}}
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  &fakeCoordinator{},
		Negotiator:   protocol.NewNegotiator(),
		RetryHandler: &fakeRetryHandler{maxAttempts: 1000, delay: 50 * time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindGet, Timeout: 10 * time.Millisecond}
	_, err := loop.Execute(context.Background(), req)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if _, ok := err.(*kelperr.TimeoutException); !ok {
		t.Fatalf("expected *kelperr.TimeoutException, got %T: %v", err, err)
	}
}

func TestExecuteProtocolFallbackRetriesBelowFloorSucceeds(t *testing.T) {
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) {
		if call == 1 {
			return nil, kelperr.NewServiceError(kelperr.UnsupportedProtocol, 0, "unsupported")
		}
		return "ok", nil
	}}
	negotiator := protocol.NewNegotiator()
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  &fakeCoordinator{},
		Negotiator:   negotiator,
		RetryHandler: &fakeRetryHandler{maxAttempts: 3, delay: time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindGet, Timeout: time.Second, MinProtocolVersion: protocol.DefaultVersion - 1}
	res, err := loop.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Fatalf("got %v", res)
	}
	if negotiator.CurrentVersion() != protocol.DefaultVersion-1 {
		t.Fatalf("expected negotiator to have decremented once, got %d", negotiator.CurrentVersion())
	}
	if req.RetryCount != 0 {
		t.Fatalf("protocol fallback must not count against the retry budget, got %d", req.RetryCount)
	}
}

func TestExecuteProtocolFallbackBelowMinVersionFails(t *testing.T) {
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) {
		return nil, kelperr.NewServiceError(kelperr.UnsupportedProtocol, 0, "unsupported")
	}}
	negotiator := protocol.NewNegotiator()
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  &fakeCoordinator{},
		Negotiator:   negotiator,
		RetryHandler: &fakeRetryHandler{maxAttempts: 3, delay: time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindGet, Timeout: time.Second, MinProtocolVersion: protocol.DefaultVersion}
	_, err := loop.Execute(context.Background(), req)
	if err == nil {
		t.Fatalf("expected an unsupported-protocol error")
	}
	localErr, ok := err.(*kelperr.LocalError)
	if !ok || localErr.Code != kelperr.UnsupportedProtocolError {
		t.Fatalf("expected *kelperr.LocalError{Code: UnsupportedProtocolError}, got %T: %v", err, err)
	}
	if sub.calls != 1 {
		t.Fatalf("expected exactly one attempt before failing the floor check, got %d", sub.calls)
	}
}

func TestExecuteNotifiesCoordinatorOnThrottling(t *testing.T) {
	coord := &fakeCoordinator{}
	sub := &fakeSubmitter{resultFn: func(call int) (any, error) {
		if call == 1 {
			return nil, kelperr.NewServiceError(kelperr.ThrottlingWrite, 0, "throttled")
		}
		return "ok", nil
	}}
	loop := New(Config{
		Submitter:    sub,
		Coordinator:  coord,
		Negotiator:   protocol.NewNegotiator(),
		RetryHandler: &fakeRetryHandler{maxAttempts: 3, delay: time.Millisecond},
		SleepFn:      func(time.Duration) {},
	})
	req := &models.Request{Kind: models.KindPut, Table: "orders", Timeout: time.Second}
	if _, err := loop.Execute(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(coord.throttled) != 1 || coord.throttled[0] != "orders" {
		t.Fatalf("expected coordinator to be notified of throttling on orders, got %v", coord.throttled)
	}
}
