package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// ErrNotScalar is returned when a JSON value is an object, array or null.
var ErrNotScalar = errors.New("stat value is not a scalar")

// Kind identifies which field of a Value is set.
type Kind uint8

const (
	KindNumber Kind = iota + 1
	KindString
	KindBool
)

// Value is a tagged scalar stat value.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the value's kind, or 0 for the zero Value.
func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric value and whether v is a number.
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Str returns the string value and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Boolean returns the boolean value and whether v is a bool.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindString:
		return v.str
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	}
	return "<nil>"
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Only scalars are accepted.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ValueFromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueFromJSON decodes a raw JSON scalar.
func ValueFromJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, fmt.Errorf("decode stat value: %w", err)
	}
	switch t := x.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("decode stat number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	}
	return Value{}, ErrNotScalar
}

// Stats is an open map of named scalar stats.
type Stats map[string]Value

// InitialStats is the seed every new session starts with unless the scenario overrides it.
func InitialStats() Stats {
	return Stats{
		"integrity": Number(100),
		"heat":      Number(0),
		"speed":     Number(0),
	}
}

// Clone returns a shallow copy (values are immutable).
func (s Stats) Clone() Stats {
	out := make(Stats, len(s))
	maps.Copy(out, s)
	return out
}

// Merge returns a new map with partial laid over s. Keys in partial win;
// keys absent from partial are kept.
func (s Stats) Merge(partial Stats) Stats {
	out := s.Clone()
	maps.Copy(out, partial)
	return out
}

// Equal reports whether both maps hold the same keys and values.
func (s Stats) Equal(o Stats) bool {
	return maps.EqualFunc(s, o, Value.Equal)
}
