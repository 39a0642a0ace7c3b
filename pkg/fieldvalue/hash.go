package fieldvalue

import "math"

// HashCode implements queryHashCode, the structural hash used by
// GroupIterator to bucket grouping tuples before falling back to Equals for
// collision resolution. Values that compare equal under Equals must hash
// equal here; the converse need not hold.
func (v Value) HashCode() uint32 {
	switch v.kind {
	case KindNull:
		return 1
	case KindJSONNull:
		return 2
	case KindEmpty:
		return 3
	case KindInteger, KindLong, KindDouble, KindDecimal:
		// Every numeric kind hashes through its float64 value, so values
		// Equals treats as equal across kinds hash alike; whole numbers
		// hash as the integer they hold.
		f := asDouble(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return hashInt64(int64(f))
		}
		return hashInt64(int64(math.Float64bits(f)))
	case KindBoolean:
		return hashInt64(v.i64)
	case KindTimestamp:
		return hashInt64(v.i64)
	case KindString:
		return hashString(v.str)
	case KindBinary:
		return hashBytes(v.bin)
	case KindArray:
		h := uint32(17)
		for _, e := range v.arr {
			h = 31*h + e.HashCode()
		}
		return h
	case KindMap:
		// Entry hashes are summed so the result does not depend on entry
		// order, since maps compare equal by key set.
		h := uint32(19)
		for _, e := range v.mp {
			h += 31*hashString(e.Key) + e.Value.HashCode()
		}
		return h
	default:
		return 0
	}
}

func hashInt64(v int64) uint32 {
	return uint32(v) ^ uint32(v>>32)
}

func hashString(s string) uint32 {
	var h uint32 = 7
	for i := 0; i < len(s); i++ {
		h = 31*h + uint32(s[i])
	}
	return h
}

func hashBytes(b []byte) uint32 {
	var h uint32 = 11
	for _, c := range b {
		h = 31*h + uint32(c)
	}
	return h
}

// HashTuple accumulates the 31-multiplier rolling hash of a grouping
// tuple, matching the accumulation style used for arrays above.
func HashTuple(fields []Value) uint32 {
	h := uint32(1)
	for _, f := range fields {
		h = 31*h + f.HashCode()
	}
	return h
}
