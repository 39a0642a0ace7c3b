package query

import (
	"context"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
)

// Projection is one column of a non-"SELECT *" projection list: pull Field
// out of the FROM row and bind it to ColumnName in the assembled record.
// Expression evaluation beyond a bare field reference is the query
// compiler's job, not the client-side dataflow's; a projection here only
// ever renames/selects a field the server or an upstream GroupIterator
// aggregate already computed.
type Projection struct {
	ColumnName string
	Field      string
}

// SFWIterator applies projection, OFFSET/LIMIT, and optionally streaming
// grouping over a FROM source (SELECT-FROM-WHERE). It has two modes:
//
//   - Non-grouping (GroupColumnCount < 0, the default): pull one row from
//     FROM, skip it if OFFSET hasn't been consumed yet, else project and
//     emit it.
//   - Grouping (GroupColumnCount >= 0): FROM is assumed to deliver rows
//     already ordered by the leading GroupColumnCount columns (GroupFields),
//     the same key-prefix a GroupIterator elsewhere in the plan would hash
//     on but here folded in streaming fashion instead. SFWIterator maintains
//     one current group; a row whose key matches is folded into it, a row
//     whose key differs completes the current group and starts a new one,
//     and the final pending group is emitted once FROM is exhausted (if
//     offset has been consumed and no continuation is pending).
//
// Offset/limit accounting: one decrement per successfully produced
// candidate (a row in non-grouping mode, a completed group in grouping
// mode), performed before projection; candidates skipped for OFFSET are
// never charged to LIMIT and never written to the result register.
type SFWIterator struct {
	Child          AsyncIterator
	Offset         int
	Limit          int          // 0 means unbounded
	Projections    []Projection // nil means "SELECT *": share Child's register
	resultRegister int

	// GroupColumnCount >= 0 switches Next into grouping mode; GroupFields
	// names the leading grouping columns (len(GroupFields) == GroupColumnCount)
	// and Aggregates folds the remaining columns per group.
	GroupColumnCount int
	GroupFields      []string
	Aggregates       []AggregateSpec

	skipped int
	emitted int

	// Grouping-mode state: the key and running aggregates of the group
	// currently being folded, if any.
	groupKey     fieldvalue.Value
	groupStarted bool
	aggs         []aggState
}

// NewSFWIterator builds a non-grouping SFWIterator; offset/limit must
// already be validated non-negative. projections may be nil for
// "SELECT *".
func NewSFWIterator(child AsyncIterator, offset, limit, resultRegister int) *SFWIterator {
	return &SFWIterator{Child: child, Offset: offset, Limit: limit, resultRegister: resultRegister, GroupColumnCount: -1}
}

// WithProjections attaches an explicit non-"SELECT *" projection list.
func (it *SFWIterator) WithProjections(projections []Projection) *SFWIterator {
	it.Projections = projections
	return it
}

// WithGrouping switches the iterator into grouping mode. groupFields must
// have groupColumnCount entries; an empty groupFields (groupColumnCount ==
// 0) folds every row FROM delivers into a single group.
func (it *SFWIterator) WithGrouping(groupColumnCount int, groupFields []string, aggregates []AggregateSpec) *SFWIterator {
	it.GroupColumnCount = groupColumnCount
	it.GroupFields = groupFields
	it.Aggregates = aggregates
	return it
}

func (it *SFWIterator) Next(ctx context.Context, rt *Runtime) (bool, error) {
	if it.GroupColumnCount >= 0 {
		return it.nextGrouped(ctx, rt)
	}
	return it.nextPlain(ctx, rt)
}

func (it *SFWIterator) nextPlain(ctx context.Context, rt *Runtime) (bool, error) {
	if it.Limit > 0 && it.emitted >= it.Limit {
		return false, nil
	}
	for {
		more, err := it.Child.Next(ctx, rt)
		if err != nil {
			return false, err
		}
		if !more {
			return false, nil
		}
		if it.skipped < it.Offset {
			it.skipped++
			continue
		}
		it.emitted++
		it.project(rt)
		return true, nil
	}
}

// nextGrouped is the streaming fold-on-match grouping mode: FROM rows
// arrive key-prefix sorted, so a group is known complete the moment a row
// with a different key shows up (or FROM runs dry), without ever needing
// to hash the whole input the way GroupIterator does.
func (it *SFWIterator) nextGrouped(ctx context.Context, rt *Runtime) (bool, error) {
	if it.Limit > 0 && it.emitted >= it.Limit {
		return false, nil
	}
	for {
		more, err := it.Child.Next(ctx, rt)
		if err != nil {
			return false, err
		}
		if !more {
			return it.emitPending(rt, true), nil
		}

		row := rt.Registers[it.resultRegister]
		key, ok := it.groupKeyOf(row)
		if !ok {
			// A missing JSON field in a grouping column skips the row
			// without ending the current group.
			continue
		}

		switch {
		case it.groupStarted && it.sameGroup(key):
			it.fold(row)
		case it.groupStarted:
			wasEmitted := it.emitPending(rt, false)
			it.startGroup(key, row)
			if wasEmitted {
				return true, nil
			}
		default:
			it.startGroup(key, row)
		}

		if rt.NeedContinuation() {
			return false, nil
		}
	}
}

// emitPending finalizes the current group, applying OFFSET accounting, and
// writes it to the result/aggregate registers if it survives OFFSET. At
// FROM exhaustion a pending continuation must hold the group open rather
// than finalizing it, since the rows completing it may still be beyond
// this call's fetch budget.
func (it *SFWIterator) emitPending(rt *Runtime, atExhaustion bool) bool {
	if !it.groupStarted {
		return false
	}
	if atExhaustion && rt.NeedContinuation() {
		return false
	}
	it.groupStarted = false
	if it.skipped < it.Offset {
		it.skipped++
		return false
	}
	it.emitGroup(rt)
	it.emitted++
	return true
}

func (it *SFWIterator) startGroup(key fieldvalue.Value, row fieldvalue.Value) {
	it.groupKey = key
	it.groupStarted = true
	it.aggs = make([]aggState, len(it.Aggregates))
	for i, spec := range it.Aggregates {
		it.aggs[i].kind = spec.Kind
	}
	it.fold(row)
}

func (it *SFWIterator) fold(row fieldvalue.Value) {
	for i, spec := range it.Aggregates {
		it.aggs[i].accumulate(row.Get(spec.Field))
	}
}

// groupKeyOf extracts the leading GroupFields from row as the grouping key.
// ok is false iff any grouping column is Empty (a genuinely missing JSON
// field), the signal to skip the row without disturbing the current group.
func (it *SFWIterator) groupKeyOf(row fieldvalue.Value) (fieldvalue.Value, bool) {
	entries := make([]fieldvalue.MapEntry, len(it.GroupFields))
	for i, f := range it.GroupFields {
		v := row.Get(f)
		if v.Kind() == fieldvalue.KindEmpty {
			return fieldvalue.Value{}, false
		}
		entries[i] = fieldvalue.MapEntry{Key: f, Value: v}
	}
	return fieldvalue.NewMap(entries, fieldvalue.MapRecord), true
}

func (it *SFWIterator) sameGroup(key fieldvalue.Value) bool {
	cur, next := it.groupKey.AsMapEntries(), key.AsMapEntries()
	for i := range cur {
		if !fieldvalue.Equals(cur[i].Value, next[i].Value, fieldvalue.NullsLast) {
			return false
		}
	}
	return true
}

// emitGroup writes the completed group's key (optionally renamed through
// Projections) and each aggregate's result to their registers.
func (it *SFWIterator) emitGroup(rt *Runtime) {
	key := it.groupKey
	if len(it.Projections) > 0 {
		entries := make([]fieldvalue.MapEntry, len(it.Projections))
		for i, p := range it.Projections {
			v := key.Get(p.Field)
			if v.Kind() == fieldvalue.KindEmpty {
				v = fieldvalue.Null()
			}
			entries[i] = fieldvalue.MapEntry{Key: p.ColumnName, Value: v}
		}
		key = fieldvalue.NewMap(entries, fieldvalue.MapRecord)
	}
	rt.Registers[it.resultRegister] = key
	for i, spec := range it.Aggregates {
		rt.Registers[spec.Register] = it.aggs[i].result()
	}
}

// project assembles the final result record for non-grouping mode. "SELECT
// *" shares the child's own register (it already holds the full row);
// otherwise build a record-shaped Map pulling Field out of the child's
// row, with Null standing in for a field the row doesn't carry.
func (it *SFWIterator) project(rt *Runtime) {
	if len(it.Projections) == 0 {
		return
	}
	row := rt.Registers[it.resultRegister]
	entries := make([]fieldvalue.MapEntry, len(it.Projections))
	for i, p := range it.Projections {
		v := row.Get(p.Field)
		if v.Kind() == fieldvalue.KindEmpty {
			v = fieldvalue.Null()
		}
		entries[i] = fieldvalue.MapEntry{Key: p.ColumnName, Value: v}
	}
	rt.Registers[it.resultRegister] = fieldvalue.NewMap(entries, fieldvalue.MapRecord)
}
