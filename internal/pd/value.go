package pd

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindStrings
	KindTime
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindStrings: "strings",
	KindTime:    "time",
}

func (k Kind) String() string { return kindNames[k] }

// Value is a typed property value. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	ss   []string
	t    time.Time
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue returns a floating point Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// StringsValue returns a string list Value holding a copy of ss.
func StringsValue(ss []string) Value { return Value{kind: KindStrings, ss: slices.Clone(ss)} }

// TimeValue returns a time Value.
func TimeValue(t time.Time) Value { return Value{kind: KindTime, t: t} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsStrings() ([]string, bool) {
	if v.kind != KindStrings {
		return nil, false
	}
	return slices.Clone(v.ss), true
}

func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// String formats the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStrings:
		return strings.Join(v.ss, ", ")
	case KindTime:
		return v.t.Format(time.RFC3339)
	default:
		return ""
	}
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindStrings:
		return slices.Equal(v.ss, o.ss)
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// ParseValue interprets text typed by a user: integers, floats, booleans and
// RFC 3339 times are recognized, comma-separated text becomes a string list
// when asList is set, anything else is a string.
func ParseValue(text string, asList bool) Value {
	if asList {
		var parts []string
		for _, p := range strings.Split(text, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return StringsValue(parts)
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return IntValue(i)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return FloatValue(f)
	}
	if b, err := strconv.ParseBool(text); err == nil {
		return BoolValue(b)
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return TimeValue(t)
	}
	return StringValue(text)
}

type wireValue struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// MarshalJSON encodes the value with its kind so it round-trips exactly.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindString:
		payload = v.s
	case KindInt:
		payload = v.i
	case KindFloat:
		payload = v.f
	case KindBool:
		payload = v.b
	case KindStrings:
		payload = v.ss
	case KindTime:
		payload = v.t.Format(time.RFC3339Nano)
	default:
		return []byte("null"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.kind.String(), Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}

	var err error
	switch w.Type {
	case "string":
		var s string
		err = json.Unmarshal(w.Value, &s)
		*v = StringValue(s)
	case "int":
		var i int64
		err = json.Unmarshal(w.Value, &i)
		*v = IntValue(i)
	case "float":
		var f float64
		err = json.Unmarshal(w.Value, &f)
		*v = FloatValue(f)
	case "bool":
		var b bool
		err = json.Unmarshal(w.Value, &b)
		*v = BoolValue(b)
	case "strings":
		var ss []string
		err = json.Unmarshal(w.Value, &ss)
		*v = StringsValue(ss)
	case "time":
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			var t time.Time
			t, err = time.Parse(time.RFC3339Nano, s)
			*v = TimeValue(t)
		}
	default:
		return fmt.Errorf("decoding value: unknown type %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("decoding %s value: %w", w.Type, err)
	}
	return nil
}
