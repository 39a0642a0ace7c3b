package poller

import (
	"testing"
	"time"

	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

func isActive(r *models.TableResult) bool { return r.State == models.TableActive }

func TestWaitForSatisfiedImmediately(t *testing.T) {
	calls := 0
	p := New(func(timeout time.Duration) (*models.TableResult, error) {
		calls++
		return &models.TableResult{TableName: "t", State: models.TableActive}, nil
	}, nil)
	p.SleepFn = func(time.Duration) { t.Fatal("should not sleep") }

	result := &models.TableResult{TableName: "t", State: models.TableCreating}
	err := p.WaitFor(result, isActive, "create table t", time.Second, 10*time.Millisecond, time.Second, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 poll, got %d", calls)
	}
	if result.State != models.TableActive {
		t.Fatalf("result not updated in place: %v", result.State)
	}
}

func TestWaitForPollsUntilActive(t *testing.T) {
	calls := 0
	var slept []time.Duration
	p := New(func(timeout time.Duration) (*models.TableResult, error) {
		calls++
		state := models.TableCreating
		if calls >= 3 {
			state = models.TableActive
		}
		return &models.TableResult{TableName: "t", State: state}, nil
	}, nil)
	p.SleepFn = func(d time.Duration) { slept = append(slept, d) }

	result := &models.TableResult{TableName: "t", State: models.TableCreating}
	err := p.WaitFor(result, isActive, "create table t", time.Second, 10*time.Millisecond, time.Second, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps between 3 polls, got %d", len(slept))
	}
}

func TestWaitForTimesOut(t *testing.T) {
	now := time.Now()
	p := New(func(timeout time.Duration) (*models.TableResult, error) {
		return &models.TableResult{TableName: "t", State: models.TableCreating}, nil
	}, nil)
	p.NowFn = func() time.Time { return now }
	p.SleepFn = func(d time.Duration) { now = now.Add(d) }

	result := &models.TableResult{TableName: "t", State: models.TableCreating}
	err := p.WaitFor(result, isActive, "create table t", 25*time.Millisecond, 10*time.Millisecond, time.Second, 0, false)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*kelperr.TimeoutException); !ok {
		t.Fatalf("expected TimeoutException, got %T: %v", err, err)
	}
}

func TestWaitForDropUnexpectedTableNotFound(t *testing.T) {
	notFound := kelperr.NewServiceError(kelperr.TableNotFound, 400, "no such table")
	p := New(func(timeout time.Duration) (*models.TableResult, error) {
		return nil, notFound
	}, func(err error) bool {
		se, ok := err.(*kelperr.ServiceError)
		return ok && se.Code == kelperr.TableNotFound
	})

	result := &models.TableResult{TableName: "t", State: models.TableCreating}
	err := p.WaitFor(result, isActive, "create table t", time.Second, 10*time.Millisecond, time.Second, 0, false)
	if err != notFound {
		t.Fatalf("expected the original TableNotFound error surfaced, got %v", err)
	}
	if result.State != models.TableDropped {
		t.Fatalf("expected state updated to Dropped even though propagated as error, got %v", result.State)
	}
}

func TestWaitForDropExpectedTableNotFound(t *testing.T) {
	notFound := kelperr.NewServiceError(kelperr.TableNotFound, 400, "no such table")
	isDropped := func(r *models.TableResult) bool { return r.State == models.TableDropped }
	p := New(func(timeout time.Duration) (*models.TableResult, error) {
		return nil, notFound
	}, func(err error) bool {
		se, ok := err.(*kelperr.ServiceError)
		return ok && se.Code == kelperr.TableNotFound
	})

	result := &models.TableResult{TableName: "t", State: models.TableDropping}
	err := p.WaitFor(result, isDropped, "drop table t", time.Second, 10*time.Millisecond, time.Second, 0, true)
	if err != nil {
		t.Fatalf("expected drop-to-completion to succeed, got %v", err)
	}
	if result.State != models.TableDropped {
		t.Fatalf("expected state Dropped, got %v", result.State)
	}
}

func TestWaitForRespectsClientDefaultTimeoutCap(t *testing.T) {
	var seen []time.Duration
	p := New(func(timeout time.Duration) (*models.TableResult, error) {
		seen = append(seen, timeout)
		return &models.TableResult{TableName: "t", State: models.TableActive}, nil
	}, nil)

	result := &models.TableResult{TableName: "t", State: models.TableCreating}
	err := p.WaitFor(result, isActive, "create table t", time.Minute, 10*time.Millisecond, time.Minute, 5*time.Second, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] > 5*time.Second {
		t.Fatalf("expected per-poll timeout capped at client default, got %v", seen)
	}
}
