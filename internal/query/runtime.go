// Package query implements the client-side query dataflow: a tree of
// iterators executing the server-supplied distributed query plan, sharing
// a Runtime for result registers, memory accounting and continuation
// bookkeeping.
package query

import (
	"context"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// Fetcher is the seam the ReceiveIterator uses to reach the server; it is
// satisfied by driving a models.Request of KindQuery through the execution
// loop (internal/exec.Loop.Execute), kept as a narrow interface here so
// this package never imports internal/exec.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}

// FetchRequest carries everything a single server round-trip needs; which
// fields are populated depends on the distribution kind (plain
// continuation vs. shard-scoped vs. phase-1/phase-2 partition scoped).
type FetchRequest struct {
	Statement           *models.PreparedStatement
	ContinuationKey      models.ContinuationKey
	ShardID              int
	Phase1ContinuationKey models.ContinuationKey
	HasShardID           bool
	Phase                int // 0 = not two-phase, 1 or 2 otherwise
	// Limit bounds the row count a phase-2 AllPartitions refetch may
	// return; zero means no driver-side bound for this call.
	Limit int
}

// FetchResponse is the normalized shape of one server round-trip's result,
// covering both the plain/shard-scoped case and the two-phase
// AllPartitions case.
type FetchResponse struct {
	Rows            []fieldvalue.Value
	ContinuationKey models.ContinuationKey
	HasMore         bool

	// Two-phase (AllPartitions) phase 1 fields.
	Phase1Done      bool
	PartitionIDs    []int
	ResultCounts    []int
	ContinuationKeys []models.ContinuationKey

	Consumed models.ConsumedCapacity
}

// Runtime is the state one query execution's iterator tree shares.
type Runtime struct {
	Client     Fetcher
	Statement  *models.PreparedStatement
	Registers  []fieldvalue.Value

	externalVariables map[string]fieldvalue.Value

	totalMemory int64
	maxMemory   int64

	consumed models.ConsumedCapacity

	fetchDone        bool
	needContinuation bool

	// resultLimit, when > 0, stops ExecuteAsync once this many rows have
	// been buffered for the current call.
	resultLimit int

	// bufferedRows survives across calls when the previous call returned
	// an error, so the rows already materialized are returned on
	// the next call instead of being re-executed.
	bufferedRows []fieldvalue.Value
}

// NewRuntime builds a Runtime. externalVariables must match
// stmt.VariableNames exactly, checked here rather than deferred to first
// use.
func NewRuntime(client Fetcher, stmt *models.PreparedStatement, externalVariables map[string]fieldvalue.Value, maxMemory int64) (*Runtime, error) {
	for _, name := range stmt.VariableNames {
		if _, ok := externalVariables[name]; !ok {
			return nil, kelperr.NewArgumentError("missing external variable: " + name)
		}
	}
	if len(externalVariables) != len(stmt.VariableNames) {
		return nil, kelperr.NewArgumentError("external variables do not match prepared statement's variable list")
	}
	return &Runtime{
		Client:            client,
		Statement:         stmt,
		Registers:         make([]fieldvalue.Value, stmt.RegisterCount),
		externalVariables: externalVariables,
		maxMemory:         maxMemory,
	}, nil
}

// ExternalVariable looks up a bound external variable by name.
func (r *Runtime) ExternalVariable(name string) (fieldvalue.Value, bool) {
	v, ok := r.externalVariables[name]
	return v, ok
}

// TotalMemory returns the current memory charge.
func (r *Runtime) TotalMemory() int64 { return r.totalMemory }

// MaxMemory returns the configured budget (0 means unbounded).
func (r *Runtime) MaxMemory() int64 { return r.maxMemory }

// SetTotalMemory asserts monotonicity and enforces MaxMemory.
func (r *Runtime) SetTotalMemory(v int64) error {
	if v < r.totalMemory {
		return kelperr.NewArgumentError("query memory usage must be monotonically non-decreasing")
	}
	if r.maxMemory > 0 && v > r.maxMemory {
		return kelperr.NewMemoryExceededError(v, r.maxMemory)
	}
	r.totalMemory = v
	return nil
}

// ChargeMemory adds delta to TotalMemory (delta may be negative when a
// slot's value shrinks, e.g. GroupIterator aggregate mutation). A positive
// delta goes through SetTotalMemory's checks; a negative one lowers the
// total directly.
func (r *Runtime) ChargeMemory(delta int64) error {
	if delta < 0 {
		r.totalMemory += delta
		return nil
	}
	return r.SetTotalMemory(r.totalMemory + delta)
}

// ConsumedCapacity returns the accumulated capacity for this runtime.
func (r *Runtime) ConsumedCapacity() models.ConsumedCapacity { return r.consumed }

// AddConsumedCapacity folds a round-trip's charge into the running total.
func (r *Runtime) AddConsumedCapacity(c models.ConsumedCapacity) {
	r.consumed.Add(c)
}

// FetchDone reports whether this top-level Query() call has already used
// its one permitted server round-trip.
func (r *Runtime) FetchDone() bool { return r.fetchDone }

// MarkFetchDone is called by the ReceiveIterator the first time it issues a
// remote fetch during this call.
func (r *Runtime) MarkFetchDone() { r.fetchDone = true }

// NeedContinuation reports whether query evaluation must be resumed.
func (r *Runtime) NeedContinuation() bool { return r.needContinuation }

// RequireContinuation sets the NeedContinuation flag; callers materialize a
// models.ContinuationKey snapshot from Runtime state once this is true.
func (r *Runtime) RequireContinuation() { r.needContinuation = true }

// TakeBufferedRows returns and clears rows carried over from a previous call
// that returned an error after some rows were already produced.
func (r *Runtime) TakeBufferedRows() []fieldvalue.Value {
	rows := r.bufferedRows
	r.bufferedRows = nil
	return rows
}

// SetBufferedRows retains rows for re-offering on the next call, keeping
// at-least-once-visible semantics for rows already materialized.
func (r *Runtime) SetBufferedRows(rows []fieldvalue.Value) {
	r.bufferedRows = rows
}

// SyncIterator produces values without performing I/O.
type SyncIterator interface {
	Next(rt *Runtime) (bool, error)
}

// AsyncIterator may perform I/O (a remote fetch) while producing values.
type AsyncIterator interface {
	Next(ctx context.Context, rt *Runtime) (bool, error)
}

// ExecuteAsync drives root until it returns false or limit rows have been
// buffered for this call.
func ExecuteAsync(ctx context.Context, rt *Runtime, root AsyncIterator, resultRegister int, limit int) ([]fieldvalue.Value, error) {
	rows := rt.TakeBufferedRows()
	rt.resultLimit = limit

	for limit <= 0 || len(rows) < limit {
		more, err := root.Next(ctx, rt)
		if err != nil {
			rt.SetBufferedRows(rows)
			return rows, err
		}
		if !more {
			break
		}
		rows = append(rows, rt.Registers[resultRegister])
		if rt.NeedContinuation() {
			break
		}
	}
	return rows, nil
}
