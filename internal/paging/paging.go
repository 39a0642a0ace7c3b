// Package paging layers an explicit pull interface over the multi-call
// operations whose results arrive a page at a time: ranged deletes, table
// listing and table-usage history. Each fetch returns the page plus the
// state needed to fetch the next one (nil when iteration is complete); the
// state object owns the continuation token and the remaining limit, so a
// caller can stop, persist the state, and resume later without this package
// holding anything between calls.
package paging

import (
	"context"
	"time"

	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// Executor drives one request through the retry/timeout state machine;
// internal/exec.Loop satisfies it.
type Executor interface {
	Execute(ctx context.Context, req *models.Request) (any, error)
}

// DeleteRangeResult is implemented by the decoded result of a
// MultiDeleteRange exchange.
type DeleteRangeResult interface {
	DeletedCount() int
	ContinuationKey() models.ContinuationKey
	Capacity() models.ConsumedCapacity
}

// DeleteRangeState carries a ranged delete across calls. Payload's
// continuation key advances page by page; callers resuming from a stored
// key simply seed it before the first fetch.
type DeleteRangeState struct {
	Table   string
	Payload *models.MultiDeleteRangePayload
	Timeout time.Duration
}

// FetchNextDeleteRangePage deletes the next slice of the range. A nil next
// state means the range is exhausted.
func FetchNextDeleteRangePage(ctx context.Context, ex Executor, s *DeleteRangeState) (DeleteRangeResult, *DeleteRangeState, error) {
	req := models.NewMultiDeleteRangeRequest(s.Table, s.Payload, s.Timeout)
	res, err := ex.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	dr, ok := res.(DeleteRangeResult)
	if !ok {
		return nil, nil, &kelperr.BadProtocolError{Message: "deleteRange response is not a delete-range result"}
	}
	ck := dr.ContinuationKey()
	if len(ck) == 0 {
		return dr, nil, nil
	}
	next := &DeleteRangeState{
		Table: s.Table,
		Payload: &models.MultiDeleteRangePayload{
			Key:             s.Payload.Key,
			Range:           s.Payload.Range,
			MaxWriteKB:      s.Payload.MaxWriteKB,
			ContinuationKey: ck,
		},
		Timeout: s.Timeout,
	}
	return dr, next, nil
}

// ListTablesResult is implemented by the decoded result of a ListTables
// exchange. LastIndex is the index to resume from.
type ListTablesResult interface {
	TableNames() []string
	LastIndex() int
}

// ListTablesState carries a table listing across calls. Remaining, when
// positive, caps the total number of names across every page.
type ListTablesState struct {
	Namespace  string
	StartIndex int
	Remaining  int
	PageSize   int
	Timeout    time.Duration
}

// FetchNextListTablesPage lists the next page of table names. A nil next
// state means the listing is exhausted (or the caller's overall limit was
// reached).
func FetchNextListTablesPage(ctx context.Context, ex Executor, s *ListTablesState) ([]string, *ListTablesState, error) {
	limit := s.PageSize
	if s.Remaining > 0 && (limit == 0 || s.Remaining < limit) {
		limit = s.Remaining
	}
	req := models.NewListTablesRequest(&models.ListTablesPayload{
		StartIndex: s.StartIndex,
		Limit:      limit,
		Namespace:  s.Namespace,
	}, s.Timeout)
	res, err := ex.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	lt, ok := res.(ListTablesResult)
	if !ok {
		return nil, nil, &kelperr.BadProtocolError{Message: "listTables response is not a table-list result"}
	}

	names := lt.TableNames()
	if len(names) == 0 {
		return nil, nil, nil
	}
	next := &ListTablesState{
		Namespace:  s.Namespace,
		StartIndex: lt.LastIndex(),
		Remaining:  s.Remaining,
		PageSize:   s.PageSize,
		Timeout:    s.Timeout,
	}
	if s.Remaining > 0 {
		next.Remaining = s.Remaining - len(names)
		if next.Remaining <= 0 {
			return names, nil, nil
		}
	}
	if limit > 0 && len(names) < limit {
		// A short page means the server ran out of names.
		return names, nil, nil
	}
	return names, next, nil
}

// UsageRecord is one table-usage sample: the window it covers and the
// throughput observed in it.
type UsageRecord struct {
	Start          time.Time
	SecondsInPeriod int
	ReadUnits      int
	WriteUnits     int
	StorageGB      int
	ReadThrottleCount  int
	WriteThrottleCount int
}

// TableUsageResult is implemented by the decoded result of a TableUsage
// exchange.
type TableUsageResult interface {
	UsageRecords() []UsageRecord
	LastIndex() int
}

// TableUsageState carries a usage-history scan across calls.
type TableUsageState struct {
	Table      string
	StartTime  time.Time
	EndTime    time.Time
	StartIndex int
	Remaining  int
	PageSize   int
	Timeout    time.Duration
}

// FetchNextTableUsagePage fetches the next page of usage records. A nil
// next state means the requested range is exhausted.
func FetchNextTableUsagePage(ctx context.Context, ex Executor, s *TableUsageState) ([]UsageRecord, *TableUsageState, error) {
	limit := s.PageSize
	if s.Remaining > 0 && (limit == 0 || s.Remaining < limit) {
		limit = s.Remaining
	}
	req := models.NewTableUsageRequest(s.Table, &models.TableUsagePayload{
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Limit:      limit,
		StartIndex: s.StartIndex,
	}, s.Timeout)
	res, err := ex.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	tu, ok := res.(TableUsageResult)
	if !ok {
		return nil, nil, &kelperr.BadProtocolError{Message: "tableUsage response is not a usage result"}
	}

	records := tu.UsageRecords()
	if len(records) == 0 {
		return nil, nil, nil
	}
	next := &TableUsageState{
		Table:      s.Table,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		StartIndex: tu.LastIndex(),
		Remaining:  s.Remaining,
		PageSize:   s.PageSize,
		Timeout:    s.Timeout,
	}
	if s.Remaining > 0 {
		next.Remaining = s.Remaining - len(records)
		if next.Remaining <= 0 {
			return records, nil, nil
		}
	}
	if limit > 0 && len(records) < limit {
		return records, nil, nil
	}
	return records, next, nil
}
