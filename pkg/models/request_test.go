package models

import (
	"errors"
	"testing"
)

func TestRequestAddException(t *testing.T) {
	r := &Request{Kind: KindGet}
	if r.LastException() != nil {
		t.Fatalf("fresh request should have no last exception")
	}
	e1 := errors.New("first")
	e2 := errors.New("second")
	r.AddException(e1)
	r.AddException(e2)
	if r.LastException() != e2 {
		t.Fatalf("LastException should return the most recent error")
	}
	if len(r.Exceptions) != 2 {
		t.Fatalf("expected 2 recorded exceptions, got %d", len(r.Exceptions))
	}
}

func TestConsumedCapacityAdd(t *testing.T) {
	c := ConsumedCapacity{ReadUnits: 1, WriteUnits: 2}
	c.Add(ConsumedCapacity{ReadUnits: 3, WriteUnits: 4})
	if c.ReadUnits != 4 || c.WriteUnits != 6 {
		t.Fatalf("got %+v", c)
	}
}

func TestNormalizeTableName(t *testing.T) {
	if NormalizeTableName("MyTable") != "mytable" {
		t.Fatalf("expected lowercase normalization")
	}
}
