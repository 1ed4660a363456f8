// Package settings provides hierarchical key-value persistence with change
// auditing and external-registry synchronization.
package settings

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/macrokit/macrokit/errors"
)

// ValueKind discriminates the closed set of setting value shapes.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindBool   ValueKind = "bool"
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindString ValueKind = "string"
	KindList   ValueKind = "list"
	KindMap    ValueKind = "map"
)

// Value is a setting value: one of null, bool, int, float, string, an ordered
// list of values, or a string-keyed map of values. The closed variant keeps
// validation and serialization total functions.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps an ordered sequence of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Map wraps a string-keyed map of values.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind returns the value's shape discriminator.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsBool returns the bool payload; ok is false for other kinds.
func (v Value) AsBool() (bool, bool) { return v.b, v.Kind() == KindBool }

// AsInt returns the int payload; ok is false for other kinds.
func (v Value) AsInt() (int64, bool) { return v.i, v.Kind() == KindInt }

// AsFloat returns the numeric payload as float64 for int and float kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind() {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the string payload; ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.s, v.Kind() == KindString }

// AsList returns the list payload; ok is false for other kinds.
func (v Value) AsList() ([]Value, bool) { return v.list, v.Kind() == KindList }

// AsMap returns the map payload; ok is false for other kinds.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.Kind() == KindMap }

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for idx := range v.list {
			if !v.list[idx].Equal(o.list[idx]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, vv := range v.m {
			ov, ok := o.m[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value as its JSON encoding, for logs and history rows.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		// Deterministic key order for stable history rows
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for idx, k := range keys {
			if idx > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, errors.AssertionFailedf("unreachable value kind %q", v.kind)
}

// UnmarshalJSON decodes plain JSON into the closed variant. Whole numbers
// decode as int, everything else numeric as float.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	parsed, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, errors.NewValidationf("unparseable number %q", t.String())
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			pv, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, pv)
		}
		return List(items...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			pv, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = pv
		}
		return Map(m), nil
	}
	return Value{}, errors.NewValidationf("unsupported value shape %T", raw)
}

// ParseValue decodes a JSON string into a Value.
func ParseValue(raw string) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON([]byte(raw)); err != nil {
		return Value{}, errors.Wrapf(errors.ErrValidation, "parse value: %v", err)
	}
	return v, nil
}
