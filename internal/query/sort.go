package query

import (
	"context"
	"sort"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
)

// SortIterator drains its child fully, sorts in place, and emits rows one
// at a time. It charges the runtime's memory budget for every buffered row
// and aborts mid-drain once the child signals NeedContinuation, leaving
// the rows it already holds unsorted and unconsumed: the call returns a
// continuation rather than a partial order.
type SortIterator struct {
	Child    AsyncIterator
	Specs    []SortSpec
	resultRegister int

	rows    []fieldvalue.Value
	sorted  bool
	pos     int
	drained bool
}

// NewSortIterator builds a SortIterator reading/writing resultRegister.
func NewSortIterator(child AsyncIterator, specs []SortSpec, resultRegister int) *SortIterator {
	return &SortIterator{Child: child, Specs: specs, resultRegister: resultRegister}
}

func (it *SortIterator) Next(ctx context.Context, rt *Runtime) (bool, error) {
	if !it.drained {
		if err := it.drain(ctx, rt); err != nil {
			return false, err
		}
		if !it.drained {
			return false, nil
		}
	}
	if !it.sorted {
		it.sortRows()
		it.sorted = true
	}
	if it.pos >= len(it.rows) {
		return false, nil
	}
	rt.Registers[it.resultRegister] = it.rows[it.pos]
	it.pos++
	return true, nil
}

func (it *SortIterator) drain(ctx context.Context, rt *Runtime) error {
	for {
		more, err := it.Child.Next(ctx, rt)
		if err != nil {
			return err
		}
		if !more {
			if rt.NeedContinuation() {
				// The child stopped for a continuation, not exhaustion.
				return nil
			}
			it.drained = true
			return nil
		}
		row := rt.Registers[it.resultRegister]
		if err := rt.ChargeMemory(row.MemorySize()); err != nil {
			return err
		}
		it.rows = append(it.rows, row)
		if rt.NeedContinuation() {
			// Child can offer no more this call; what we've buffered so
			// far cannot be ordered against unseen rows, so report
			// exhaustion of this call without finishing the sort and
			// resume draining on the next call.
			return nil
		}
	}
}

func (it *SortIterator) sortRows() {
	sort.SliceStable(it.rows, func(i, j int) bool {
		return it.less(it.rows[i], it.rows[j])
	})
}

func (it *SortIterator) less(a, b fieldvalue.Value) bool {
	for _, spec := range it.Specs {
		av := a.Get(spec.Field)
		bv := b.Get(spec.Field)
		cmp, err := fieldvalue.Compare(av, bv, spec.NullRank)
		if err != nil || cmp == 0 {
			continue
		}
		if spec.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}
