// Package payload implements the structured value carried by a Predict call
// and its JSON text codec.
//
// A Value is a tagged variant over the JSON data model:
//
//	Null | Bool | Number | String | Seq ([]Value) | Map (map[string]Value)
//
// Numbers keep their JSON literal (json.Number) so that a decoded payload is
// encoded back without float rounding. Values are immutable: accessors that
// expose nested containers return copies, so a handler cannot mutate the
// payload it was given.
package payload

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSeq
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one node of a decoded payload. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	s    string // string contents, or the number literal
	seq  []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(n, 10)} }

// Float wraps a finite float. NaN and infinities have no JSON form and
// become Null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number wraps a JSON number literal. It fails if n is not a valid literal.
func Number(n json.Number) (Value, error) {
	if !isNumberLiteral(string(n)) {
		return Value{}, fmt.Errorf("payload: invalid number %q", string(n))
	}
	return Value{kind: KindNumber, s: string(n)}, nil
}

func isNumberLiteral(s string) bool {
	if s == "" || !(s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Seq builds a sequence. The slice is copied.
func Seq(items ...Value) Value {
	return Value{kind: KindSeq, seq: append([]Value(nil), items...)}
}

// Map builds a mapping. The map is copied.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number literal held by v.
func (v Value) AsNumber() (json.Number, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return json.Number(v.s), true
}

// AsFloat returns the number held by v as a float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Len returns the number of elements of a Seq or fields of a Map, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSeq:
		return len(v.seq)
	case KindMap:
		return len(v.m)
	}
	return 0
}

// Index returns the i-th element of a Seq.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindSeq || i < 0 || i >= len(v.seq) {
		return Value{}, false
	}
	return v.seq[i], true
}

// Get returns the field key of a Map.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[key]
	return f, ok
}

// Keys returns the sorted field names of a Map.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the elements of a Seq.
func (v Value) Items() []Value {
	if v.kind != KindSeq {
		return nil
	}
	return append([]Value(nil), v.seq...)
}

// Fields returns a copy of the fields of a Map.
func (v Value) Fields() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	m := make(map[string]Value, len(v.m))
	for k, f := range v.m {
		m[k] = f
	}
	return m
}

// Equal reports whether v and o hold the same tree. Numbers are equal when
// their literals match or they denote the same float64.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindNumber:
		if v.s == o.s {
			return true
		}
		a, errA := strconv.ParseFloat(v.s, 64)
		b, errB := strconv.ParseFloat(o.s, 64)
		return errA == nil && errB == nil && a == b
	case KindSeq:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, f := range v.m {
			g, ok := o.m[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v as compact JSON.
func (v Value) String() string {
	b, err := Encode(v)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	return string(b)
}

// FromAny converts a tree built from the encoding/json data model
// (nil, bool, float64, json.Number, string, []any, map[string]any) into a
// Value. Go integer types and Value itself are accepted too.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t)
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case string:
		return String(t), nil
	case []any:
		seq := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			seq[i] = v
		}
		return Value{kind: KindSeq, seq: seq}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("payload: unsupported type %T", x)
	}
}

// Any converts v back into the encoding/json data model. Numbers are
// returned as json.Number.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.s)
	case KindString:
		return v.s
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, item := range v.seq {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.Any()
		}
		return out
	}
	return nil
}
