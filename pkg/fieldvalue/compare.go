package fieldvalue

import (
	"bytes"
	"errors"
	"math"
	"math/big"
)

// ErrComparisonNotSupported is returned by Compare when the two values have
// no defined ordering between them (mismatched, non-numeric kinds).
var ErrComparisonNotSupported = errors.New("fieldvalue: comparison not supported between these kinds")

// NullRank selects where Null and JsonNull sort relative to ordinary values;
// the caller picks this per query (NULLS FIRST / NULLS LAST).
type NullRank int

const (
	NullsFirst NullRank = -1
	NullsLast  NullRank = 1
)

// Compare orders a against b under the query language's comparison rules.
// It returns -1, 0, 1 the usual way, or ErrComparisonNotSupported if the
// pair has no defined ordering. special governs where Null/JsonNull rank;
// Empty always sorts below both regardless of special.
func Compare(a, b Value, special NullRank) (int, error) {
	if r, ok := compareSpecial(a, b, special); ok {
		return r, nil
	}

	switch {
	case a.IsNumeric() && b.IsNumeric():
		return compareNumeric(a, b), nil
	case a.kind == KindString && b.kind == KindString:
		return bytes.Compare([]byte(a.str), []byte(b.str)), nil
	case a.kind == KindBoolean && b.kind == KindBoolean:
		return compareInt64(a.i64, b.i64), nil
	case a.kind == KindTimestamp && b.kind == KindTimestamp:
		return compareInt64(a.i64, b.i64), nil
	case a.kind == KindBinary && b.kind == KindBinary:
		if bytes.Equal(a.bin, b.bin) {
			return 0, nil
		}
		return 0, ErrComparisonNotSupported
	case a.kind == KindArray && b.kind == KindArray:
		return compareArrayEq(a.arr, b.arr, special)
	case a.kind == KindMap && b.kind == KindMap:
		return compareMapEq(a, b, special)
	default:
		return 0, ErrComparisonNotSupported
	}
}

// compareSpecial handles the Null/JsonNull/Empty ranking rules, returning
// (result, true) when at least one operand is special, else (_, false).
func compareSpecial(a, b Value, special NullRank) (int, bool) {
	aEmpty, bEmpty := a.kind == KindEmpty, b.kind == KindEmpty
	if aEmpty || bEmpty {
		switch {
		case aEmpty && bEmpty:
			return 0, true
		case aEmpty:
			return -1, true
		default:
			return 1, true
		}
	}
	aNull := a.kind == KindNull || a.kind == KindJSONNull
	bNull := b.kind == KindNull || b.kind == KindJSONNull
	if aNull || bNull {
		switch {
		case aNull && bNull:
			// Null and JsonNull share the same sort rank even though they
			// are equal only to themselves; Equals checks kind separately.
			return 0, true
		case aNull:
			return int(special), true
		default:
			return -int(special), true
		}
	}
	return 0, false
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareNumeric implements the int -> long -> double -> decimal coercion
// chain: the pair is promoted to the widest kind present, with double vs
// decimal handled specially so an exact decimal is never silently rounded by
// naive float conversion, and double NaN/Inf are handled explicitly.
func compareNumeric(a, b Value) int {
	widest := widestNumericKind(a.kind, b.kind)
	switch widest {
	case KindInteger, KindLong:
		return compareInt64(asLong(a), asLong(b))
	case KindDouble:
		if a.kind == KindDecimal || b.kind == KindDecimal {
			return compareDoubleDecimal(a, b)
		}
		return compareDouble(asDouble(a), asDouble(b))
	default: // KindDecimal
		if a.kind == KindDouble || b.kind == KindDouble {
			return compareDoubleDecimal(a, b)
		}
		return asDecimal(a).Cmp(asDecimal(b))
	}
}

func widestNumericKind(a, b Kind) Kind {
	rank := func(k Kind) int {
		switch k {
		case KindInteger:
			return 0
		case KindLong:
			return 1
		case KindDouble:
			return 2
		case KindDecimal:
			return 3
		default:
			return -1
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

func asLong(v Value) int64 {
	if v.kind == KindInteger {
		return int64(int32(v.i64))
	}
	return v.i64
}

func asDouble(v Value) float64 {
	switch v.kind {
	case KindInteger, KindLong:
		return float64(v.i64)
	case KindDouble:
		return v.f64
	case KindDecimal:
		if v.dec == nil {
			return 0
		}
		f, _ := v.dec.Float64()
		return f
	default:
		return 0
	}
}

func asDecimal(v Value) *big.Rat {
	switch v.kind {
	case KindDecimal:
		if v.dec == nil {
			return new(big.Rat)
		}
		return v.dec
	case KindInteger, KindLong:
		return new(big.Rat).SetInt64(asLong(v))
	case KindDouble:
		r := new(big.Rat)
		r.SetFloat64(v.f64)
		return r
	default:
		return new(big.Rat)
	}
}

// AddNumeric sums two numeric values, widening the pair along the same
// int -> long -> double -> decimal chain Compare coerces over: a decimal
// operand makes the sum an exact decimal, a double makes it a double, and
// pure integer input accumulates as a Long so repeated folding cannot
// overflow a 32-bit value. Callers guarantee both operands are numeric.
func AddNumeric(a, b Value) Value {
	switch widestNumericKind(a.kind, b.kind) {
	case KindDecimal:
		return NewDecimal(new(big.Rat).Add(asDecimal(a), asDecimal(b)))
	case KindDouble:
		return NewDouble(asDouble(a) + asDouble(b))
	default:
		return NewLong(asLong(a) + asLong(b))
	}
}

// compareDouble handles IEEE-754 NaN/Inf ordering explicitly: NaN sorts
// above every other double (including +Inf), matching the query language's
// total order requirement (comparisons must never silently return "equal"
// for distinct NaN/number pairs via Go's native float comparison, which
// treats NaN as unordered).
func compareDouble(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareDoubleDecimal treats the decimal side as exact: the double is
// compared against the decimal's exact rational value rather than
// converting the decimal down to a lossy float64.
func compareDoubleDecimal(a, b Value) int {
	var d Value
	var dec *big.Rat
	if a.kind == KindDecimal {
		dec, d = asDecimal(a), b
		if math.IsNaN(d.f64) {
			return -1
		}
		if math.IsInf(d.f64, 0) {
			return -int(math.Copysign(1, d.f64))
		}
		r := new(big.Rat)
		r.SetFloat64(d.f64)
		return dec.Cmp(r)
	}
	dec, d = asDecimal(b), a
	if math.IsNaN(d.f64) {
		return 1
	}
	if math.IsInf(d.f64, 0) {
		return int(math.Copysign(1, d.f64))
	}
	r := new(big.Rat)
	r.SetFloat64(d.f64)
	return r.Cmp(dec)
}

func compareArrayEq(a, b []Value, special NullRank) (int, error) {
	if len(a) != len(b) {
		return 0, ErrComparisonNotSupported
	}
	for i := range a {
		r, err := Compare(a[i], b[i], special)
		if err != nil {
			return 0, err
		}
		if r != 0 {
			return 0, ErrComparisonNotSupported
		}
	}
	return 0, nil
}

func compareMapEq(a, b Value, special NullRank) (int, error) {
	if len(a.mp) != len(b.mp) {
		return 0, ErrComparisonNotSupported
	}
	if a.shp == MapRecord && b.shp == MapRecord {
		for i := range a.mp {
			if a.mp[i].Key != b.mp[i].Key {
				return 0, ErrComparisonNotSupported
			}
			r, err := Compare(a.mp[i].Value, b.mp[i].Value, special)
			if err != nil {
				return 0, err
			}
			if r != 0 {
				return 0, ErrComparisonNotSupported
			}
		}
		return 0, nil
	}
	for _, ea := range a.mp {
		bv := b.Get(ea.Key)
		if bv.kind == KindEmpty && !hasKey(b, ea.Key) {
			return 0, ErrComparisonNotSupported
		}
		r, err := Compare(ea.Value, bv, special)
		if err != nil {
			return 0, err
		}
		if r != 0 {
			return 0, ErrComparisonNotSupported
		}
	}
	return 0, nil
}

func hasKey(v Value, key string) bool {
	for _, e := range v.mp {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Equals implements queryEquals: structural equality under the same rules as
// Compare, except binary and cross-type pairs that Compare rejects as
// incomparable are simply unequal rather than erroring. Null, JsonNull and
// Empty are each equal only to an identically-kinded value.
func Equals(a, b Value, special NullRank) bool {
	if a.IsSpecial() || b.IsSpecial() {
		return a.kind == b.kind
	}
	r, err := Compare(a, b, special)
	if err != nil {
		return false
	}
	return r == 0
}
