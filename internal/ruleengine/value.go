package ruleengine

import (
	"math"
	"time"
)

// Kind enumerates the value shapes a matcher can be evaluated against.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindString
	KindDate
	KindInt
	KindStringList
	KindKey
)

// Attributes are caller-supplied values keyed by attribute name.
type Attributes map[string]any

// Value is a tagged union over every supported attribute kind. Matchers switch
// on Kind and read only the field that belongs to it.
type Value struct {
	kind Kind
	b    bool
	s    string
	i    int64 // KindInt, and epoch milliseconds for KindDate
	list []string
	key  Key
}

func BoolValue(b bool) Value           { return Value{kind: KindBool, b: b} }
func StringValue(s string) Value       { return Value{kind: KindString, s: s} }
func IntValue(i int64) Value           { return Value{kind: KindInt, i: i} }
func DateValue(epochMs int64) Value    { return Value{kind: KindDate, i: epochMs} }
func StringListValue(l []string) Value { return Value{kind: KindStringList, list: l} }
func KeyValue(k Key) Value             { return Value{kind: KindKey, key: k} }

// NoValue is the value of a missing or unsupported attribute.
func NoValue() Value { return Value{} }

func (v Value) Kind() Kind { return v.kind }

// AsString returns the string form for kinds that have one. Keys resolve to
// their matching key.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindKey:
		return v.key.MatchingKey, true
	default:
		return "", false
	}
}

// ValueOf converts an arbitrary attribute value into the tagged union.
// Unsupported types become NoValue so matchers simply do not match.
func ValueOf(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return NoValue()
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case string:
		return StringValue(x)
	case Key:
		return KeyValue(x)
	case time.Time:
		return DateValue(x.UnixMilli())
	case int:
		return IntValue(int64(x))
	case int8:
		return IntValue(int64(x))
	case int16:
		return IntValue(int64(x))
	case int32:
		return IntValue(int64(x))
	case int64:
		return IntValue(x)
	case uint:
		return IntValue(int64(x))
	case uint8:
		return IntValue(int64(x))
	case uint16:
		return IntValue(int64(x))
	case uint32:
		return IntValue(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return NoValue()
		}
		return IntValue(int64(x))
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	case []string:
		return StringListValue(x)
	case []any:
		list := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return NoValue()
			}
			list = append(list, s)
		}
		return StringListValue(list)
	default:
		return NoValue()
	}
}

// floatValue accepts only integral floats, which is what JSON decoding
// produces for integer attributes.
func floatValue(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return NoValue()
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return NoValue()
	}
	return IntValue(int64(f))
}
