// Package canonical normalizes heterogeneous external payloads into
// schema-versioned canonical entities. External data flows through the
// package as a tagged Value variant rather than untyped any, so every
// transformation is an explicit case over the six JSON shapes.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is a tagged variant over the JSON data shapes. The zero value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
}

// Null is the null Value.
var Null = Value{}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float64.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array wraps a slice of Values.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Object wraps a map of Values.
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// Kind returns the shape tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload. ok is false for non-strings.
func (v Value) AsString() (s string, ok bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the numeric payload. ok is false for non-numbers.
func (v Value) AsNumber() (f float64, ok bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the bool payload. ok is false for non-bools.
func (v Value) AsBool() (b, ok bool) {
	return v.b, v.kind == KindBool
}

// AsArray returns the array payload. ok is false for non-arrays.
func (v Value) AsArray() (vs []Value, ok bool) {
	return v.arr, v.kind == KindArray
}

// AsObject returns the object payload. ok is false for non-objects.
func (v Value) AsObject() (m map[string]Value, ok bool) {
	return v.obj, v.kind == KindObject
}

// Text renders the value as the plain string used for lookup table keys
// and external id resolution. Arrays and objects render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("canonical: cannot marshal value of kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("canonical: unmarshal value: %w", err)
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON value (any) into a tagged Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null, fmt.Errorf("canonical: number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		arr := make([]Value, 0, len(t))
		for _, el := range t {
			v, err := FromAny(el)
			if err != nil {
				return Null, err
			}
			arr = append(arr, v)
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, el := range t {
			v, err := FromAny(el)
			if err != nil {
				return Null, err
			}
			obj[k] = v
		}
		return Value{kind: KindObject, obj: obj}, nil
	default:
		return Null, fmt.Errorf("canonical: unsupported value type %T", raw)
	}
}

// Payload is an external or canonical data payload keyed by field name.
type Payload map[string]Value

// ParsePayload decodes a JSON object into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("canonical: parse payload: %w", err)
	}
	p := make(Payload, len(raw))
	for k, el := range raw {
		v, err := FromAny(el)
		if err != nil {
			return nil, err
		}
		p[k] = v
	}
	return p, nil
}
