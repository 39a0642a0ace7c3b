package query

import (
	"context"
	"testing"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
)

func TestSortIteratorOrdersDescending(t *testing.T) {
	child := &fixedIterator{
		rows: []fieldvalue.Value{row(3), row(1), row(2)},
		reg:  0,
	}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 1), map[string]fieldvalue.Value{}, 0)
	it := NewSortIterator(child, []SortSpec{{Field: "id", Descending: true, NullRank: fieldvalue.NullsLast}}, 0)

	got, err := ExecuteAsync(context.Background(), rt, it, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int32{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Get("id").AsInteger() != w {
			t.Fatalf("row %d: expected %d, got %d", i, w, got[i].Get("id").AsInteger())
		}
	}
}

func TestSortIteratorChargesMemory(t *testing.T) {
	child := &fixedIterator{rows: []fieldvalue.Value{row(1), row(2)}, reg: 0}
	rt, _ := NewRuntime(&fakeFetcher{}, stmt(nil, 1), map[string]fieldvalue.Value{}, 0)
	it := NewSortIterator(child, nil, 0)

	if _, err := ExecuteAsync(context.Background(), rt, it, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.TotalMemory() <= 0 {
		t.Fatalf("expected sort to charge memory for buffered rows")
	}
}
