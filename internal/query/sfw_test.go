package query

import (
	"context"
	"testing"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
)

func TestSFWIteratorOffsetLimit(t *testing.T) {
	child := &fixedIterator{
		rows: []fieldvalue.Value{row(1), row(2), row(3), row(4), row(5)},
		reg:  0,
	}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 1), map[string]fieldvalue.Value{}, 0)
	it := NewSFWIterator(child, 1, 2, 0)

	got, err := ExecuteAsync(context.Background(), rt, it, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int32{2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Get("id").AsInteger() != w {
			t.Fatalf("row %d: expected id %d, got %d", i, w, got[i].Get("id").AsInteger())
		}
	}
}

func TestSFWIteratorZeroLimitUnbounded(t *testing.T) {
	child := &fixedIterator{rows: []fieldvalue.Value{row(1), row(2)}, reg: 0}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 1), map[string]fieldvalue.Value{}, 0)
	it := NewSFWIterator(child, 0, 0, 0)

	got, err := ExecuteAsync(context.Background(), rt, it, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both rows with no limit, got %d", len(got))
	}
}

func TestSFWIteratorGroupingFoldsOnKeyPrefixMatch(t *testing.T) {
	// FROM delivers rows already ordered by "g" (the grouping column), as
	// the grouping mode's fold-on-match streaming requires.
	child := &fixedIterator{
		rows: []fieldvalue.Value{
			keyedRow("a", 10), keyedRow("a", 5), keyedRow("b", 1), keyedRow("b", 7), keyedRow("b", 3),
		},
		reg: 0,
	}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 2), map[string]fieldvalue.Value{}, 0)
	it := NewSFWIterator(child, 0, 0, 0).WithGrouping(1, []string{"g"}, []AggregateSpec{
		{Field: "amount", Kind: AggSum, Register: 1},
	})

	type group struct {
		key string
		sum int64
	}
	var got []group
	for {
		more, err := it.Next(context.Background(), rt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !more {
			break
		}
		got = append(got, group{key: rt.Registers[0].Get("g").AsString(), sum: rt.Registers[1].AsLong()})
	}

	want := []group{{"a", 15}, {"b", 11}}
	if len(got) != len(want) {
		t.Fatalf("expected %d groups, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("group %d: expected %+v, got %+v", i, w, got[i])
		}
	}
}

func TestSFWIteratorGroupingSkipsMissingFieldWithoutEndingGroup(t *testing.T) {
	bare := fieldvalue.NewMap(nil, fieldvalue.MapRecord) // "g" is a genuinely missing JSON field
	child := &fixedIterator{
		rows: []fieldvalue.Value{keyedRow("a", 10), bare, keyedRow("a", 5)},
		reg:  0,
	}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 2), map[string]fieldvalue.Value{}, 0)
	it := NewSFWIterator(child, 0, 0, 0).WithGrouping(1, []string{"g"}, []AggregateSpec{
		{Field: "amount", Kind: AggSum, Register: 1},
	})

	more, err := it.Next(context.Background(), rt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !more {
		t.Fatalf("expected one group")
	}
	if rt.Registers[1].AsLong() != 15 {
		t.Fatalf("expected the bare row to be skipped without starting a new group or ending \"a\", got sum %v", rt.Registers[1])
	}
	if more2, err := it.Next(context.Background(), rt); err != nil || more2 {
		t.Fatalf("expected no further groups, got more=%v err=%v", more2, err)
	}
}

func TestSFWIteratorGroupingHoldsPendingGroupUntilContinuationClears(t *testing.T) {
	child := &fixedIterator{rows: []fieldvalue.Value{keyedRow("a", 10), keyedRow("a", 5)}, reg: 0}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 2), map[string]fieldvalue.Value{}, 0)
	it := NewSFWIterator(child, 0, 0, 0).WithGrouping(1, []string{"g"}, []AggregateSpec{
		{Field: "amount", Kind: AggSum, Register: 1},
	})
	rt.RequireContinuation()

	more, err := it.Next(context.Background(), rt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if more {
		t.Fatalf("expected the pending group to be held back while a continuation is required")
	}
	if !it.groupStarted {
		t.Fatalf("expected the pending group to remain intact, not be discarded")
	}
}

func TestSFWIteratorProjectsNamedColumns(t *testing.T) {
	child := &fixedIterator{rows: []fieldvalue.Value{row(1), row(2)}, reg: 0}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 1), map[string]fieldvalue.Value{}, 0)
	it := NewSFWIterator(child, 0, 0, 0).WithProjections([]Projection{
		{ColumnName: "identifier", Field: "id"},
		{ColumnName: "missing", Field: "does_not_exist"},
	})

	got, err := ExecuteAsync(context.Background(), rt, it, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Get("identifier").AsInteger() != 1 {
		t.Fatalf("expected projected column 'identifier' to carry the source id, got %v", got[0].Get("identifier"))
	}
	if got[0].Get("id").Kind() != fieldvalue.KindEmpty {
		t.Fatalf("expected the original 'id' column to be absent from a projected record")
	}
	if got[0].Get("missing").Kind() != fieldvalue.KindNull {
		t.Fatalf("expected a field absent from the source row to project as Null, got %v", got[0].Get("missing").Kind())
	}
}
