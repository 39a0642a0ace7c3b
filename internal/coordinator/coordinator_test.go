package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/Amr-9/kelp/internal/ratelimiter"
	"github.com/Amr-9/kelp/pkg/models"
)

func TestAdmitWithNoTableNameIsNoop(t *testing.T) {
	c := New(Config{Enabled: true})
	req := &models.Request{}
	if err := c.Admit(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdmitUnknownTableProceedsUnpaced(t *testing.T) {
	called := make(chan struct{}, 1)
	c := New(Config{
		Enabled: true,
		GetTable: func(ctx context.Context, table string) (*models.TableResult, error) {
			called <- struct{}{}
			return &models.TableResult{TableName: table, State: models.TableActive}, nil
		},
	})
	req := &models.Request{Table: "Orders", DoesReads: true}
	if err := c.Admit(context.Background(), req); err != nil {
		t.Fatalf("first call on unknown table should proceed unpaced: %v", err)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("expected background GetTable to be kicked off")
	}
}

func TestAdmitUnknownTableStartsOneFetchNotOnePerRequest(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	c := New(Config{
		Enabled: true,
		GetTable: func(ctx context.Context, table string) (*models.TableResult, error) {
			started <- struct{}{}
			<-release
			return &models.TableResult{TableName: table, State: models.TableActive}, nil
		},
	})
	defer close(release)

	if err := c.Admit(context.Background(), &models.Request{Table: "Orders", DoesReads: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started // the one fetch is now in flight and blocked

	for i := 0; i < 4; i++ {
		req := &models.Request{Table: "Orders", DoesReads: true}
		if err := c.Admit(context.Background(), req); err != nil {
			t.Fatalf("unexpected error on request %d: %v", i, err)
		}
	}

	select {
	case <-started:
		t.Fatalf("expected no second fetch while the first is still in flight")
	default:
	}
}

func TestApplyTableResultInstallsNullLimiterForZeroUnits(t *testing.T) {
	c := New(Config{Enabled: true})
	c.ApplyTableResult("orders", &models.TableResult{
		State:  models.TableActive,
		Limits: models.TableLimits{ReadUnits: 0, WriteUnits: 100},
	}, false)

	c.mu.Lock()
	e := c.entries["orders"]
	c.mu.Unlock()
	if e == nil {
		t.Fatalf("expected entry to be installed")
	}
	if _, ok := e.read.(ratelimiter.NullLimiter); !ok {
		t.Fatalf("expected zero read units to install a NullLimiter, got %T", e.read)
	}
	if _, ok := e.write.(*ratelimiter.Limiter); !ok {
		t.Fatalf("expected nonzero write units to install a real Limiter, got %T", e.write)
	}
}

func TestApplyTableResultRemovesDroppedEntry(t *testing.T) {
	c := New(Config{Enabled: true})
	c.ApplyTableResult("orders", &models.TableResult{
		State:  models.TableActive,
		Limits: models.TableLimits{ReadUnits: 100, WriteUnits: 100},
	}, false)
	c.ApplyTableResult("orders", &models.TableResult{State: models.TableDropped}, false)

	c.mu.Lock()
	_, ok := c.entries["orders"]
	c.mu.Unlock()
	if ok {
		t.Fatalf("dropped table should remove its entry")
	}
}

func TestApplyTableResultNilResultLeavesEntryIntact(t *testing.T) {
	// A nil TableResult is a transient fetch failure (refreshOnce/
	// runRefreshLoop's getTable returned an error), not an explicit Dropped
	// response, and must not tear down an existing entry or its background
	// refresh.
	c := New(Config{Enabled: true})
	c.ApplyTableResult("orders", &models.TableResult{
		State:  models.TableActive,
		Limits: models.TableLimits{ReadUnits: 100, WriteUnits: 100},
	}, false)

	c.mu.Lock()
	before := c.entries["orders"]
	c.mu.Unlock()
	if before == nil {
		t.Fatalf("expected entry to be installed before the fetch failure")
	}

	c.ApplyTableResult("orders", nil, true)

	c.mu.Lock()
	after, ok := c.entries["orders"]
	c.mu.Unlock()
	if !ok || after != before {
		t.Fatalf("expected a transient fetch failure to leave the existing entry untouched, got ok=%v same=%v", ok, after == before)
	}
}

func TestBreakerRecordsOneOutcomePerRequest(t *testing.T) {
	// Admit's Allow() must gate without recording, and Charge's done(...)
	// must be the only call that records an outcome, so each request
	// contributes exactly one entry to gobreaker.Counts rather than two.
	c := New(Config{
		Enabled:        true,
		BreakerEnabled: true,
	})
	c.ApplyTableResult("orders", &models.TableResult{
		State:  models.TableActive,
		Limits: models.TableLimits{ReadUnits: 100, WriteUnits: 100},
	}, false)

	for i := 0; i < 4; i++ {
		req := &models.Request{Table: "orders", DoesReads: true}
		if err := c.Admit(context.Background(), req); err != nil {
			t.Fatalf("unexpected Admit error on request %d: %v", i, err)
		}
		c.Charge(context.Background(), req, &models.ConsumedCapacity{}, nil)
	}

	c.mu.Lock()
	e := c.entries["orders"]
	c.mu.Unlock()
	counts := e.breaker.Counts()
	if counts.Requests != 4 {
		t.Fatalf("expected 4 recorded requests (one per Admit/Charge pair), got %d", counts.Requests)
	}
}
