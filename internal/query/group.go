package query

import (
	"context"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
)

// AggregateKind enumerates the aggregate functions a grouping plan node can
// carry.
type AggregateKind uint8

const (
	AggMin AggregateKind = iota
	AggMax
	AggSum
	AggCountStar    // COUNT(*): counts every input row
	AggCount        // COUNT(col): counts rows where col is not null/json-null/empty
	AggCountNumbers // COUNT_NUMBERS(col): counts rows where col is numeric
)

// AggregateSpec binds one aggregate function to the field it reads from
// and the register its running value occupies.
type AggregateSpec struct {
	Field    string
	Kind     AggregateKind
	Register int
}

// GroupIterator buckets child rows by a structural group key and maintains
// one running aggregate state per bucket. With no aggregates it degenerates
// to streaming DISTINCT: each grouping tuple is emitted the moment it is
// first inserted, rather than after the child is fully drained.
//
// A row whose grouping column is Empty (the column is genuinely absent) is
// dropped, unless the iterator is in DISTINCT mode, where Empty is promoted
// to Null for key purposes so absent-column rows collapse into the Null
// bucket instead of vanishing.
type GroupIterator struct {
	Child       AsyncIterator
	GroupFields []string
	Aggregates  []AggregateSpec
	NullRank    fieldvalue.NullRank

	// RemoveResult discards each bucket as it is emitted so its storage can
	// be reclaimed while the remaining buckets are still being walked.
	RemoveResult bool

	resultRegister int // register the grouping key row is written to

	buckets map[uint32][]*groupEntry
	order   []*groupEntry
	emitPos int
	drained bool
}

type groupEntry struct {
	key  fieldvalue.Value // the grouping-key row (a record over GroupFields)
	hash uint32
	aggs []aggState
}

type aggState struct {
	kind        AggregateKind
	initialized bool
	numeric     fieldvalue.Value
	count       int64
}

// NewGroupIterator builds a GroupIterator. resultRegister receives the
// group's key row; aggregate results are written to each AggregateSpec's
// own Register once a bucket is emitted. A nil aggregates slice selects
// streaming DISTINCT mode.
func NewGroupIterator(child AsyncIterator, groupFields []string, aggregates []AggregateSpec, resultRegister int) *GroupIterator {
	return &GroupIterator{
		Child:          child,
		GroupFields:    groupFields,
		Aggregates:     aggregates,
		resultRegister: resultRegister,
		buckets:        make(map[uint32][]*groupEntry),
	}
}

// distinct reports whether this iterator is a DISTINCT (no aggregate
// columns) rather than an aggregating GROUP BY.
func (it *GroupIterator) distinct() bool { return len(it.Aggregates) == 0 }

func (it *GroupIterator) Next(ctx context.Context, rt *Runtime) (bool, error) {
	if it.distinct() {
		return it.nextDistinct(ctx, rt)
	}
	if !it.drained {
		if err := it.drainAndGroup(ctx, rt); err != nil {
			return false, err
		}
	}
	if it.emitPos >= len(it.order) {
		return false, nil
	}
	entry := it.order[it.emitPos]
	it.emitPos++
	rt.Registers[it.resultRegister] = entry.key
	for i, spec := range it.Aggregates {
		rt.Registers[spec.Register] = entry.aggs[i].result()
	}
	if it.RemoveResult {
		it.discard(entry)
	}
	return true, nil
}

// nextDistinct streams: pull child rows until one carries a grouping tuple
// not seen before, emit that tuple immediately.
func (it *GroupIterator) nextDistinct(ctx context.Context, rt *Runtime) (bool, error) {
	for {
		more, err := it.Child.Next(ctx, rt)
		if err != nil {
			return false, err
		}
		if !more {
			return false, nil
		}

		row := rt.Registers[it.resultRegister]
		key, ok := it.projectKey(row)
		if !ok {
			continue
		}
		h := it.queryHashCode(key)
		if it.lookup(h, key) != nil {
			if rt.NeedContinuation() {
				return false, nil
			}
			continue
		}

		entry := &groupEntry{key: key, hash: h}
		it.buckets[h] = append(it.buckets[h], entry)
		if err := rt.ChargeMemory(key.MemorySize()); err != nil {
			return false, err
		}
		rt.Registers[it.resultRegister] = key
		return true, nil
	}
}

func (it *GroupIterator) drainAndGroup(ctx context.Context, rt *Runtime) error {
	for {
		more, err := it.Child.Next(ctx, rt)
		if err != nil {
			return err
		}
		if !more {
			it.drained = true
			return nil
		}

		row := rt.Registers[it.resultRegister]
		key, ok := it.projectKey(row)
		if !ok {
			// A grouping column was Empty; the row contributes to no bucket.
			continue
		}
		h := it.queryHashCode(key)

		entry := it.lookup(h, key)
		if entry == nil {
			entry = &groupEntry{key: key, hash: h, aggs: make([]aggState, len(it.Aggregates))}
			for i, spec := range it.Aggregates {
				entry.aggs[i].kind = spec.Kind
			}
			it.buckets[h] = append(it.buckets[h], entry)
			it.order = append(it.order, entry)
			if err := rt.ChargeMemory(key.MemorySize()); err != nil {
				return err
			}
		}

		for i, spec := range it.Aggregates {
			before := entry.aggs[i].result().MemorySize()
			entry.aggs[i].accumulate(row.Get(spec.Field))
			after := entry.aggs[i].result().MemorySize()
			if err := rt.ChargeMemory(after - before); err != nil {
				return err
			}
		}

		if rt.NeedContinuation() {
			it.drained = true
			return nil
		}
	}
}

// discard removes an emitted entry from its bucket so the map no longer
// retains it; order keeps its (nilable) slot so emitPos stays stable.
func (it *GroupIterator) discard(entry *groupEntry) {
	bucket := it.buckets[entry.hash]
	for i, e := range bucket {
		if e == entry {
			it.buckets[entry.hash] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(it.buckets[entry.hash]) == 0 {
		delete(it.buckets, entry.hash)
	}
	it.order[it.emitPos-1] = nil
}

// projectKey builds the record-shaped grouping key row out of GroupFields.
// ok is false when a grouping column is Empty and the iterator is not in
// DISTINCT mode (the row is dropped); in DISTINCT mode Empty is promoted to
// Null so the row lands in the Null bucket.
func (it *GroupIterator) projectKey(row fieldvalue.Value) (fieldvalue.Value, bool) {
	entries := make([]fieldvalue.MapEntry, 0, len(it.GroupFields))
	for _, f := range it.GroupFields {
		v := row.Get(f)
		if v.Kind() == fieldvalue.KindEmpty {
			if !it.distinct() {
				return fieldvalue.Value{}, false
			}
			v = fieldvalue.Null()
		}
		entries = append(entries, fieldvalue.MapEntry{Key: f, Value: v})
	}
	return fieldvalue.NewMap(entries, fieldvalue.MapRecord), true
}

// queryHashCode hashes a key row's fields with the same 31-multiplier
// accumulation HashTuple uses, so equal keys always land in the same bucket.
func (it *GroupIterator) queryHashCode(key fieldvalue.Value) uint32 {
	fields := key.AsMapEntries()
	values := make([]fieldvalue.Value, len(fields))
	for i, e := range fields {
		values[i] = e.Value
	}
	return fieldvalue.HashTuple(values)
}

// lookup finds an existing bucket whose key is structurally equal to key,
// falling back past hash collisions.
func (it *GroupIterator) lookup(h uint32, key fieldvalue.Value) *groupEntry {
	for _, e := range it.buckets[h] {
		if it.queryEquals(e.key, key) {
			return e
		}
	}
	return nil
}

func (it *GroupIterator) queryEquals(a, b fieldvalue.Value) bool {
	af, bf := a.AsMapEntries(), b.AsMapEntries()
	if len(af) != len(bf) {
		return false
	}
	for i := range af {
		if af[i].Key != bf[i].Key {
			return false
		}
		if !fieldvalue.Equals(af[i].Value, bf[i].Value, it.NullRank) {
			return false
		}
	}
	return true
}

// accumulate folds one input value into the running aggregate state.
func (a *aggState) accumulate(v fieldvalue.Value) {
	switch a.kind {
	case AggCountStar:
		a.count++
	case AggCount:
		if !v.IsSpecial() {
			a.count++
		}
	case AggCountNumbers:
		if v.IsNumeric() {
			a.count++
		}
	case AggMin:
		// Null/JSON-null/Empty inputs never seed or replace the running
		// minimum: a special value must be skipped outright rather than
		// folded in and left to the comparison to sort out.
		if v.IsSpecial() {
			return
		}
		if !a.initialized {
			a.numeric, a.initialized = v, true
			return
		}
		if cmp, err := fieldvalue.Compare(v, a.numeric, fieldvalue.NullsLast); err == nil && cmp < 0 {
			a.numeric = v
		}
	case AggMax:
		if v.IsSpecial() {
			return
		}
		if !a.initialized {
			a.numeric, a.initialized = v, true
			return
		}
		if cmp, err := fieldvalue.Compare(v, a.numeric, fieldvalue.NullsFirst); err == nil && cmp > 0 {
			a.numeric = v
		}
	case AggSum:
		if !v.IsNumeric() {
			return
		}
		// The accumulator seeds as the first numeric value itself and only
		// widens (int -> long -> double -> decimal) as wider inputs arrive,
		// so a Long column sums exactly as a Long and a Decimal column
		// never rounds through float64.
		if !a.initialized {
			a.numeric, a.initialized = v, true
			return
		}
		a.numeric = fieldvalue.AddNumeric(a.numeric, v)
	}
}

// result produces the aggregate's current externally-visible value. The
// count family always returns a Long; MIN/MAX/SUM over a group that never
// saw a usable input return Null, not Empty.
func (a *aggState) result() fieldvalue.Value {
	switch a.kind {
	case AggCountStar, AggCount, AggCountNumbers:
		return fieldvalue.NewLong(a.count)
	default:
		if !a.initialized {
			return fieldvalue.Null()
		}
		return a.numeric
	}
}
