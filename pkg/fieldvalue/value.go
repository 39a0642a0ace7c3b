// Package fieldvalue implements the database's scalar and composite value
// model used throughout the query runtime: a single sum type wide enough to
// hold every wire value the service can return, plus the normative
// comparison, equality and hashing rules the query iterators depend on.
package fieldvalue

import (
	"fmt"
	"math/big"
	"time"
)

// Kind tags which variant a Value currently holds.
type Kind uint8

const (
	// KindEmpty is first so the zero Value means "no value", the same
	// answer Get returns for an absent map key.
	KindEmpty Kind = iota
	KindNull
	KindJSONNull
	KindInteger
	KindLong
	KindDouble
	KindDecimal
	KindString
	KindBoolean
	KindTimestamp
	KindBinary
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	case KindBinary:
		return "binary"
	case KindNull:
		return "null"
	case KindJSONNull:
		return "json_null"
	case KindEmpty:
		return "empty"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// MapShape distinguishes a record-shaped map (positional key order tied to a
// known set of field names, as produced by SELECT projections) from a
// general map (arbitrary keys, as produced by a JSON column).
type MapShape uint8

const (
	MapGeneral MapShape = iota
	MapRecord
)

// MapEntry is one key/value pair of a Value of KindMap. Order is preserved
// because record-shaped maps are compared and hashed positionally.
type MapEntry struct {
	Key   string
	Value Value
}

// Value is the sum type over every field value the wire protocol can carry.
// Exactly one of the typed fields is meaningful, selected by Kind; the zero
// Value is Empty.
type Value struct {
	kind Kind

	i64  int64       // Integer, Long, Boolean (0/1), Timestamp (unix nanos)
	f64  float64     // Double
	dec  *big.Rat    // Decimal
	str  string      // String
	bin  []byte      // Binary
	arr  []Value     // Array
	mp   []MapEntry  // Map
	shp  MapShape    // Map shape
}

// Null, JSONNull and Empty are the three "special" values; they carry no
// payload, so telling them apart is a check of Kind alone.
func Null() Value     { return Value{kind: KindNull} }
func JSONNull() Value { return Value{kind: KindJSONNull} }
func Empty() Value    { return Value{kind: KindEmpty} }

func NewInteger(v int32) Value  { return Value{kind: KindInteger, i64: int64(v)} }
func NewLong(v int64) Value     { return Value{kind: KindLong, i64: v} }
func NewDouble(v float64) Value { return Value{kind: KindDouble, f64: v} }
func NewDecimal(v *big.Rat) Value {
	return Value{kind: KindDecimal, dec: v}
}
func NewString(v string) Value { return Value{kind: KindString, str: v} }
func NewBoolean(v bool) Value {
	b := int64(0)
	if v {
		b = 1
	}
	return Value{kind: KindBoolean, i64: b}
}
func NewTimestamp(v time.Time) Value {
	return Value{kind: KindTimestamp, i64: v.UnixNano()}
}
func NewBinary(v []byte) Value { return Value{kind: KindBinary, bin: v} }
func NewArray(v []Value) Value { return Value{kind: KindArray, arr: v} }
func NewMap(entries []MapEntry, shape MapShape) Value {
	return Value{kind: KindMap, mp: entries, shp: shape}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsSpecial() bool {
	return v.kind == KindNull || v.kind == KindJSONNull || v.kind == KindEmpty
}

func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInteger, KindLong, KindDouble, KindDecimal:
		return true
	default:
		return false
	}
}

func (v Value) AsInteger() int32      { return int32(v.i64) }
func (v Value) AsLong() int64         { return v.i64 }
func (v Value) AsDouble() float64     { return v.f64 }
func (v Value) AsDecimal() *big.Rat   { return v.dec }
func (v Value) AsString() string      { return v.str }
func (v Value) AsBoolean() bool       { return v.i64 != 0 }
func (v Value) AsTimestamp() time.Time {
	return time.Unix(0, v.i64).UTC()
}
func (v Value) AsBinary() []byte   { return v.bin }
func (v Value) AsArray() []Value   { return v.arr }
func (v Value) AsMapEntries() []MapEntry { return v.mp }
func (v Value) MapShape() MapShape { return v.shp }

// Get returns the value of a map field by key, or Empty if the key is
// absent. Record-shaped maps produced by a projection represent "column not
// present for this row" as an Empty entry rather than omitting the key, but
// this lookup treats both cases identically.
func (v Value) Get(key string) Value {
	if v.kind != KindMap {
		return Empty()
	}
	for _, e := range v.mp {
		if e.Key == key {
			return e.Value
		}
	}
	return Empty()
}

// MemorySize estimates the in-memory footprint of this value in bytes, used
// by the query runtime's memory accounting. It is a heuristic, not an
// exact measurement: the goal is a stable, monotonic-enough estimate that
// the budget check in the query package's Runtime.SetTotalMemory behaves
// sanely.
func (v Value) MemorySize() int64 {
	const header = 16
	switch v.kind {
	case KindNull, KindJSONNull, KindEmpty, KindBoolean:
		return header
	case KindInteger:
		return header + 4
	case KindLong, KindDouble, KindTimestamp:
		return header + 8
	case KindDecimal:
		if v.dec == nil {
			return header
		}
		return header + int64(len(v.dec.RatString()))
	case KindString:
		return header + int64(len(v.str))
	case KindBinary:
		return header + int64(len(v.bin))
	case KindArray:
		sz := int64(header)
		for _, e := range v.arr {
			sz += e.MemorySize()
		}
		return sz
	case KindMap:
		sz := int64(header)
		for _, e := range v.mp {
			sz += int64(len(e.Key)) + e.Value.MemorySize()
		}
		return sz
	default:
		return header
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindJSONNull:
		return "JSON_NULL"
	case KindEmpty:
		return "EMPTY"
	case KindInteger:
		return fmt.Sprintf("%d", int32(v.i64))
	case KindLong:
		return fmt.Sprintf("%d", v.i64)
	case KindDouble:
		return fmt.Sprintf("%g", v.f64)
	case KindDecimal:
		if v.dec == nil {
			return "0"
		}
		return v.dec.RatString()
	case KindString:
		return v.str
	case KindBoolean:
		return fmt.Sprintf("%t", v.i64 != 0)
	case KindTimestamp:
		return v.AsTimestamp().Format(time.RFC3339Nano)
	case KindBinary:
		return fmt.Sprintf("<%d bytes>", len(v.bin))
	case KindArray:
		return fmt.Sprintf("<array len=%d>", len(v.arr))
	case KindMap:
		return fmt.Sprintf("<map len=%d>", len(v.mp))
	default:
		return "<unknown>"
	}
}
