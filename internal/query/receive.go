package query

import (
	"context"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// Distribution selects which of the three ReceiveIterator strategies
// applies to a plan.
type Distribution uint8

const (
	Unsorted Distribution = iota
	SortedAllShards
	SortedAllPartitions
)

// SortSpec is one ORDER BY column: the record field the sort key is read
// from, sort direction, and the null rank to apply at this column.
type SortSpec struct {
	Field      string
	Descending bool
	NullRank   fieldvalue.NullRank
}

// partial is one shard's or partition's queue of fetched-but-not-yet-merged
// rows.
type partial struct {
	id        int
	rows      []fieldvalue.Value
	pos       int
	contKey   models.ContinuationKey
	started   bool // at least one fetch has been issued for this partial
	exhausted bool // this partial's last fetch reported no more rows
}

func (p *partial) hasHead() bool { return p.pos < len(p.rows) }
func (p *partial) head() fieldvalue.Value { return p.rows[p.pos] }

// ReceiveIterator is the plan's entry point to the server.
type ReceiveIterator struct {
	Distribution Distribution
	SortSpecs    []SortSpec
	Dedup        bool

	// PrimaryKeyFields names the row fields that make up the
	// duplicate-detection fingerprint when Dedup is set, so rows differing
	// only in non-key projected columns still dedup; empty falls back to
	// whole-row identity.
	PrimaryKeyFields []string

	resultRegister int

	batch       []fieldvalue.Value
	batchPos    int
	contKey     models.ContinuationKey
	srvDone     bool // the server reported no batches remain
	seenFingerprints map[uint64]struct{}

	partials   map[int]*partial
	shardIDs   []int // seeded topology, AllShards case

	phase1Done        bool
	phase1ContKey     models.ContinuationKey
	partitionsSeeded  bool

	// rowsEmitted is the running count of rows this iterator has handed
	// upstream; used to derive the average row size for the AllPartitions
	// phase-2 refetch row-limit bound.
	rowsEmitted int64
}

// maxPhase2RowLimit caps a single phase-2 refetch regardless of how much
// memory budget remains.
const maxPhase2RowLimit = 2048

// phase2RowLimit derives the AllPartitions phase-2 bound:
// limit = min(2048, (maxMemory - duplicatesMemory) / (totalMemory / totalRows)).
// duplicatesMemory approximates the dedup fingerprint set's footprint, since
// that set is owned by this iterator rather than charged through rt.
func (it *ReceiveIterator) phase2RowLimit(rt *Runtime) (int, error) {
	if it.rowsEmitted == 0 || rt.TotalMemory() == 0 || rt.MaxMemory() <= 0 {
		return maxPhase2RowLimit, nil
	}
	avgRowSize := rt.TotalMemory() / it.rowsEmitted
	if avgRowSize <= 0 {
		return maxPhase2RowLimit, nil
	}
	const fingerprintEntrySize = 8
	duplicatesMemory := int64(len(it.seenFingerprints)) * fingerprintEntrySize
	budget := rt.MaxMemory() - duplicatesMemory
	limit := budget / avgRowSize
	if limit > maxPhase2RowLimit {
		limit = maxPhase2RowLimit
	}
	if limit <= 0 {
		return 0, kelperr.NewMemoryExceededError(rt.TotalMemory(), rt.MaxMemory())
	}
	return int(limit), nil
}

// NewReceiveIterator builds a ReceiveIterator writing rows into
// resultRegister.
func NewReceiveIterator(resultRegister int, distribution Distribution, sortSpecs []SortSpec, dedup bool, pkFields []string) *ReceiveIterator {
	return &ReceiveIterator{
		Distribution:     distribution,
		SortSpecs:        sortSpecs,
		Dedup:            dedup,
		PrimaryKeyFields: pkFields,
		resultRegister:   resultRegister,
		seenFingerprints: make(map[uint64]struct{}),
		partials:         make(map[int]*partial),
	}
}

func (it *ReceiveIterator) Next(ctx context.Context, rt *Runtime) (bool, error) {
	switch it.Distribution {
	case SortedAllShards:
		return it.nextAllShards(ctx, rt)
	case SortedAllPartitions:
		return it.nextAllPartitions(ctx, rt)
	default:
		return it.nextUnsorted(ctx, rt)
	}
}

// nextUnsorted streams batches serially, dropping duplicates via a running
// fingerprint set when the plan requires it.
func (it *ReceiveIterator) nextUnsorted(ctx context.Context, rt *Runtime) (bool, error) {
	for {
		if it.batchPos < len(it.batch) {
			row := it.batch[it.batchPos]
			it.batchPos++
			if it.Dedup {
				fp := it.fingerprint(row)
				if _, dup := it.seenFingerprints[fp]; dup {
					continue
				}
				it.seenFingerprints[fp] = struct{}{}
			}
			it.rowsEmitted++
			rt.Registers[it.resultRegister] = row
			return true, nil
		}

		if it.srvDone {
			return false, nil
		}
		if rt.FetchDone() {
			rt.RequireContinuation()
			return false, nil
		}

		resp, err := rt.Client.Fetch(ctx, &FetchRequest{
			Statement:       rt.Statement,
			ContinuationKey: it.contKey,
		})
		if err != nil {
			return false, err
		}
		rt.MarkFetchDone()
		rt.AddConsumedCapacity(resp.Consumed)
		it.batch = resp.Rows
		it.batchPos = 0
		it.contKey = resp.ContinuationKey
		if !resp.HasMore && len(resp.ContinuationKey) == 0 {
			it.srvDone = true
		}
		if len(it.batch) == 0 && it.srvDone {
			return false, nil
		}
	}
}

func (it *ReceiveIterator) seedShards(stmt *models.PreparedStatement) {
	if it.partitionsSeeded {
		return
	}
	it.partitionsSeeded = true
	if stmt.Topology == nil {
		return
	}
	it.shardIDs = stmt.Topology.ShardIDs
	for _, id := range stmt.Topology.ShardIDs {
		it.partials[id] = &partial{id: id}
	}
}

// nextAllShards is the sorted AllShards strategy: a merge pattern over one
// partial per shard. Every shard must have been fetched at least once
// before the merge can trust a local minimum, so an unstarted shard is
// primed before comparing heads; once started, a shard is refetched lazily
// only when its buffer runs dry. Like nextUnsorted, at most one remote
// fetch (priming or refilling, whichever shard it targets) is issued per
// top-level Query() call; a merge that still needs more shards primed or
// refilled once that budget is spent emits nothing further this call and
// requires a continuation instead.
func (it *ReceiveIterator) nextAllShards(ctx context.Context, rt *Runtime) (bool, error) {
	it.seedShards(rt.Statement)
	it.reconcileShardTopology(rt.Statement)

	for {
		if it.allPrimed() {
			minID, ok := it.minHead(rt)
			if ok {
				p := it.partials[minID]
				row := p.head()
				p.pos++
				it.rowsEmitted++
				rt.Registers[it.resultRegister] = row
				return true, nil
			}
		}

		target := it.nextFetchTarget()
		if target == nil {
			return false, nil // every shard started and currently exhausted
		}
		if rt.FetchDone() {
			rt.RequireContinuation()
			return false, nil
		}
		if err := it.refetchShard(ctx, rt, target); err != nil {
			return false, err
		}
	}
}

// allPrimed reports whether every known shard has been fetched at least
// once, so minHead's local minimum can be trusted: a shard that has never
// been fetched might still yield a row smaller than anything currently
// buffered.
func (it *ReceiveIterator) allPrimed() bool {
	for _, p := range it.partials {
		if !p.started {
			return false
		}
	}
	return true
}

// nextFetchTarget picks the next partial needing a remote round-trip:
// unstarted shards are primed before any started shard is refilled, both in
// deterministic id order.
func (it *ReceiveIterator) nextFetchTarget() *partial {
	for _, id := range sortedKeys(it.partials) {
		p := it.partials[id]
		if !p.started && !p.exhausted {
			return p
		}
	}
	for _, id := range sortedKeys(it.partials) {
		p := it.partials[id]
		if p.started && !p.hasHead() && !p.exhausted {
			return p
		}
	}
	return nil
}

func (it *ReceiveIterator) reconcileShardTopology(stmt *models.PreparedStatement) {
	if stmt.Topology == nil {
		return
	}
	live := make(map[int]bool, len(stmt.Topology.ShardIDs))
	for _, id := range stmt.Topology.ShardIDs {
		live[id] = true
		if _, ok := it.partials[id]; !ok {
			it.partials[id] = &partial{id: id}
		}
	}
	for id := range it.partials {
		if !live[id] {
			delete(it.partials, id)
		}
	}
}

// refetchShard issues the single round-trip nextAllShards's caller already
// confirmed is still within this call's budget (rt.FetchDone() checked
// before calling this), then marks that budget spent.
func (it *ReceiveIterator) refetchShard(ctx context.Context, rt *Runtime, p *partial) error {
	phase := 0
	limit := 0
	if it.Distribution == SortedAllPartitions {
		phase = 2
		l, err := it.phase2RowLimit(rt)
		if err != nil {
			return err
		}
		limit = l
	}
	resp, err := rt.Client.Fetch(ctx, &FetchRequest{
		Statement:       rt.Statement,
		ContinuationKey: p.contKey,
		HasShardID:      true,
		ShardID:         p.id,
		Phase:           phase,
		Limit:           limit,
	})
	if err != nil {
		return err
	}
	rt.MarkFetchDone()
	p.started = true
	rt.AddConsumedCapacity(resp.Consumed)
	p.rows = resp.Rows
	p.pos = 0
	p.contKey = resp.ContinuationKey
	if len(resp.Rows) == 0 && !resp.HasMore {
		p.exhausted = true
	}
	return nil
}

// minHead returns the id of the partial with the smallest head row under
// it.SortSpecs, or ok=false if no partial currently has a head. Ties
// (including the all-unsorted case where SortSpecs is empty) break on
// partial id, giving the merge a deterministic order so repeated
// executions against unchanged data return rows in the same order.
func (it *ReceiveIterator) minHead(rt *Runtime) (int, bool) {
	bestID := -1
	var bestRow fieldvalue.Value
	found := false
	for _, id := range sortedKeys(it.partials) {
		p := it.partials[id]
		if !p.hasHead() {
			continue
		}
		if !found {
			bestID, bestRow, found = id, p.head(), true
			continue
		}
		if it.less(p.head(), bestRow) {
			bestID, bestRow = id, p.head()
		}
	}
	return bestID, found
}

// less reports whether a sorts before b under it.SortSpecs, evaluating
// columns left to right and treating a comparison error as "not less"
// (the row is retained; ReceiveIterator does not surface per-row
// comparison failures, SortIterator does for the in-memory sort stages).
func (it *ReceiveIterator) less(a, b fieldvalue.Value) bool {
	for _, spec := range it.SortSpecs {
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

func sortedKeys(m map[int]*partial) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic tie-break by id.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// nextAllPartitions is the sorted AllPartitions strategy: a phase-1
// discovery pass followed by the same merge-heap pattern as the shard
// case, with refetches bounded by a memory-derived row limit.
func (it *ReceiveIterator) nextAllPartitions(ctx context.Context, rt *Runtime) (bool, error) {
	if !it.phase1Done {
		if err := it.runPhase1(ctx, rt); err != nil {
			return false, err
		}
		if !it.phase1Done {
			// The call's one-round-trip budget was spent discovering
			// partitions; a continuation is required before phase 2 can
			// start merging (rt.RequireContinuation was already set by
			// runPhase1's FetchDone check).
			return false, nil
		}
	}
	return it.nextAllShards(ctx, rt) // phase 2 is the identical merge pattern
}

// runPhase1 issues at most one phase-1 discovery round-trip per call,
// matching the driver-wide one-round-trip-per-Query()-call budget: a
// multi-page phase 1 spans several Query() calls rather than looping
// through pages within one.
func (it *ReceiveIterator) runPhase1(ctx context.Context, rt *Runtime) error {
	if rt.FetchDone() {
		rt.RequireContinuation()
		return nil
	}

	resp, err := rt.Client.Fetch(ctx, &FetchRequest{
		Statement:             rt.Statement,
		Phase:                 1,
		Phase1ContinuationKey: it.phase1ContKey,
	})
	if err != nil {
		return err
	}
	rt.MarkFetchDone()
	rt.AddConsumedCapacity(resp.Consumed)

	if len(resp.PartitionIDs) != len(resp.ResultCounts) || len(resp.PartitionIDs) != len(resp.ContinuationKeys) {
		return &kelperr.BadProtocolError{Message: "phase 1 response arrays have mismatched lengths"}
	}

	offset := 0
	for i, pid := range resp.PartitionIDs {
		count := resp.ResultCounts[i]
		if offset+count > len(resp.Rows) {
			return &kelperr.BadProtocolError{Message: "phase 1 resultCounts exceed row payload"}
		}
		p, ok := it.partials[pid]
		if !ok {
			p = &partial{id: pid}
			it.partials[pid] = p
		}
		p.rows = append(p.rows, resp.Rows[offset:offset+count]...)
		p.contKey = resp.ContinuationKeys[i]
		p.started = true // phase 1 already seeded this partition's buffer
		offset += count
	}

	it.phase1ContKey = resp.ContinuationKey
	if resp.Phase1Done {
		it.phase1Done = true
	} else {
		rt.RequireContinuation()
	}
	return nil
}

// fingerprint computes the duplicate-detection hash of a row: the tuple
// hash of the declared primary-key fields when the plan names them, the
// whole row's hash otherwise.
func (it *ReceiveIterator) fingerprint(row fieldvalue.Value) uint64 {
	if len(it.PrimaryKeyFields) == 0 {
		return uint64(row.HashCode())
	}
	keys := make([]fieldvalue.Value, len(it.PrimaryKeyFields))
	for i, f := range it.PrimaryKeyFields {
		keys[i] = row.Get(f)
	}
	return uint64(fieldvalue.HashTuple(keys))
}
