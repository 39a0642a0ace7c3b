package models

import (
	"testing"
	"time"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
)

func pk(id int32) fieldvalue.Value {
	return fieldvalue.NewMap([]fieldvalue.MapEntry{
		{Key: "id", Value: fieldvalue.NewInteger(id)},
	}, fieldvalue.MapRecord)
}

func TestGetPayloadValidate(t *testing.T) {
	if err := (&GetPayload{Key: pk(1)}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (&GetPayload{Key: fieldvalue.NewString("not a record")}).Validate(); err == nil {
		t.Fatalf("expected non-record key to fail validation")
	}
	if err := (&GetPayload{Key: fieldvalue.NewMap(nil, fieldvalue.MapRecord)}).Validate(); err == nil {
		t.Fatalf("expected empty key to fail validation")
	}
}

func TestPutPayloadVersionOptionConsistency(t *testing.T) {
	row := pk(1)
	if err := (&PutPayload{Row: row, Option: PutIfVersion}).Validate(); err == nil {
		t.Fatalf("ifVersion without a match version should fail")
	}
	if err := (&PutPayload{Row: row, Option: PutAlways, MatchVersion: []byte{1}}).Validate(); err == nil {
		t.Fatalf("match version without ifVersion should fail")
	}
	if err := (&PutPayload{Row: row, Option: PutIfVersion, MatchVersion: []byte{1}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriteMultiplePayloadValidate(t *testing.T) {
	if err := (&WriteMultiplePayload{}).Validate(); err == nil {
		t.Fatalf("empty batch should fail")
	}
	ops := []WriteOperation{
		{Put: &PutPayload{Row: pk(1)}},
		{Delete: &DeletePayload{Key: pk(2)}},
	}
	if err := (&WriteMultiplePayload{Operations: ops}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	both := []WriteOperation{{Put: &PutPayload{Row: pk(1)}, Delete: &DeletePayload{Key: pk(1)}}}
	if err := (&WriteMultiplePayload{Operations: both}).Validate(); err == nil {
		t.Fatalf("operation with both put and delete should fail")
	}
}

func TestMultiDeleteRangePayloadValidate(t *testing.T) {
	p := &MultiDeleteRangePayload{Key: pk(1)}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Range = &FieldRange{}
	if err := p.Validate(); err == nil {
		t.Fatalf("field range without path should fail")
	}
	p.Range = &FieldRange{FieldPath: "ts", Start: fieldvalue.NewLong(5)}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryPayloadValidate(t *testing.T) {
	if err := (&QueryPayload{}).Validate(); err == nil {
		t.Fatalf("query without statement or prepared should fail")
	}
	if err := (&QueryPayload{Statement: "SELECT * FROM t", Prepared: &PreparedStatement{}}).Validate(); err == nil {
		t.Fatalf("statement and prepared together should fail")
	}
	if err := (&QueryPayload{Statement: "SELECT * FROM t", Limit: -1}).Validate(); err == nil {
		t.Fatalf("negative limit should fail")
	}
	vars := map[string]fieldvalue.Value{"$v": fieldvalue.NewInteger(1)}
	if err := (&QueryPayload{Statement: "SELECT * FROM t", ExternalVariables: vars}).Validate(); err == nil {
		t.Fatalf("external variables without a prepared statement should fail")
	}
	if err := (&QueryPayload{Prepared: &PreparedStatement{}, ExternalVariables: vars}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTableUsagePayloadValidate(t *testing.T) {
	now := time.Now()
	p := &TableUsagePayload{StartTime: now, EndTime: now.Add(-time.Hour)}
	if err := p.Validate(); err == nil {
		t.Fatalf("end before start should fail")
	}
	p.EndTime = now.Add(time.Hour)
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestConstructorsSetCapabilitySides(t *testing.T) {
	get := NewGetRequest("orders", pk(1), time.Second)
	if !get.DoesReads || get.DoesWrites {
		t.Fatalf("get must read and not write")
	}
	put := NewPutRequest("orders", pk(1), time.Second)
	if put.DoesReads || !put.DoesWrites {
		t.Fatalf("put must write and not read")
	}
	q := NewQueryRequest("orders", &QueryPayload{Statement: "SELECT 1"}, time.Second)
	if !q.DoesReads || !q.DoesWrites {
		t.Fatalf("query must consult both limiter sides")
	}
	prep := NewPrepareRequest("SELECT 1", time.Second)
	if prep.Table != "" {
		t.Fatalf("prepare is table-less")
	}
}
