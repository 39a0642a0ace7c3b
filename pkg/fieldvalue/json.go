package fieldvalue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/tidwall/gjson"
)

// MarshalJSON renders a Value as natural JSON: maps as objects (entry order
// preserved), arrays as arrays, binary as base64, timestamps as
// RFC3339Nano, decimals as exact number strings. Null, JsonNull and Empty
// all render as JSON null; the distinction between them is a query-runtime
// concern that does not survive a round trip through plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull, KindJSONNull, KindEmpty:
		return []byte("null"), nil
	case KindInteger:
		return json.Marshal(int32(v.i64))
	case KindLong:
		return json.Marshal(v.i64)
	case KindDouble:
		if math.IsNaN(v.f64) || math.IsInf(v.f64, 0) {
			return json.Marshal(fmt.Sprintf("%g", v.f64))
		}
		return json.Marshal(v.f64)
	case KindDecimal:
		if v.dec == nil {
			return []byte(`"0"`), nil
		}
		return json.Marshal(v.dec.RatString())
	case KindString:
		return json.Marshal(v.str)
	case KindBoolean:
		return json.Marshal(v.i64 != 0)
	case KindTimestamp:
		return json.Marshal(v.AsTimestamp().Format(time.RFC3339Nano))
	case KindBinary:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.bin))
	case KindArray:
		return json.Marshal(v.arr)
	case KindMap:
		buf := []byte{'{'}
		for i, e := range v.mp {
			if i > 0 {
				buf = append(buf, ',')
			}
			k, err := json.Marshal(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := e.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, k...)
			buf = append(buf, ':')
			buf = append(buf, val...)
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("fieldvalue: cannot marshal kind %s", v.kind)
	}
}

// FromJSON decodes one JSON value (a row, a scalar, an array) into a Value.
// Numbers without a fractional part or exponent become Long, all others
// Double; objects become general maps in document order. The richer kinds
// (Timestamp, Binary, Decimal, record shape) cannot be inferred from plain
// JSON and are only produced by a schema-aware wire codec.
func FromJSON(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, fmt.Errorf("fieldvalue: invalid JSON")
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null()
	case gjson.False:
		return NewBoolean(false)
	case gjson.True:
		return NewBoolean(true)
	case gjson.String:
		return NewString(r.Str)
	case gjson.Number:
		if isIntegral(r.Raw) {
			return NewLong(r.Int())
		}
		return NewDouble(r.Num)
	case gjson.JSON:
		if r.IsArray() {
			var elems []Value
			r.ForEach(func(_, item gjson.Result) bool {
				elems = append(elems, fromResult(item))
				return true
			})
			return NewArray(elems)
		}
		var entries []MapEntry
		r.ForEach(func(key, item gjson.Result) bool {
			entries = append(entries, MapEntry{Key: key.String(), Value: fromResult(item)})
			return true
		})
		return NewMap(entries, MapGeneral)
	default:
		return Null()
	}
}

// isIntegral reports whether a raw JSON number literal has no fractional or
// exponent part, so it can be held exactly as a Long. Values too wide even
// for int64 fall back to Double via the caller's gjson coercion.
func isIntegral(raw string) bool {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '.', 'e', 'E':
			return false
		}
	}
	_, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return false
	}
	return len(raw) < 19 // conservatively within int64 range
}
