package expression

import (
	"fmt"
	"reflect"
	"strconv"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindOpaque:
		return "object"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is the closed set of values the evaluator works with. The zero Value
// is null.
type Value struct {
	kind   Kind
	num    float64
	str    string
	b      bool
	opaque any
}

var Null = Value{}

func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }
func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

// OpaqueValue wraps an arbitrary Go value. Use FromAny to get number, string
// and bool values normalised.
func OpaqueValue(v any) Value {
	if v == nil {
		return Null
	}
	return Value{kind: KindOpaque, opaque: v}
}

// FromAny converts a Go value into a Value. Every integer and float width
// becomes a Number, including named types whose underlying kind is numeric;
// the same holds for strings and bools.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null
	case Value:
		return x
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(float64(x))
	case int:
		return NumberValue(float64(x))
	case int8:
		return NumberValue(float64(x))
	case int16:
		return NumberValue(float64(x))
	case int32:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case uint:
		return NumberValue(float64(x))
	case uint8:
		return NumberValue(float64(x))
	case uint16:
		return NumberValue(float64(x))
	case uint32:
		return NumberValue(float64(x))
	case uint64:
		return NumberValue(float64(x))
	case string:
		return StringValue(x)
	case bool:
		return BoolValue(x)
	}
	return fromKind(v)
}

// fromKind normalises named types such as time.Duration or a string enum by
// their underlying kind.
func fromKind(v any) Value {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NumberValue(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return NumberValue(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return NumberValue(rv.Float())
	case reflect.String:
		return StringValue(rv.String())
	case reflect.Bool:
		return BoolValue(rv.Bool())
	}
	return OpaqueValue(v)
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Number() float64 { return v.num }
func (v Value) Str() string     { return v.str }
func (v Value) Bool() bool      { return v.b }

// Interface returns the Go representation: nil, float64, string, bool or the
// wrapped opaque value.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindOpaque:
		return v.opaque
	}
	return nil
}

// String renders the value the way string concatenation does: numbers in
// their shortest form, null as "null".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindNumber:
		return formatNumber(v.num)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return fmt.Sprint(v.opaque)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Equal reports structural equality. Numbers compare by value regardless of
// their original width; values of different kinds are never equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num == other.num
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	}
	if c, ok := compareOpaque(v.opaque, other.opaque); ok {
		return c == 0
	}
	return reflect.DeepEqual(v.opaque, other.opaque)
}

// Compare orders two values of the same kind. ok is false when the pair has
// no ordering.
func (v Value) Compare(other Value) (int, bool) {
	if v.kind != other.kind {
		return 0, false
	}
	switch v.kind {
	case KindNumber:
		return cmp3(v.num < other.num, v.num > other.num), true
	case KindString:
		return cmp3(v.str < other.str, v.str > other.str), true
	case KindBool:
		return cmp3(!v.b && other.b, v.b && !other.b), true
	case KindOpaque:
		return compareOpaque(v.opaque, other.opaque)
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// compareOpaque orders a and b when both have the same type T and T has a
// method Compare(T) int, as time.Time does.
func compareOpaque(a, b any) (int, bool) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return 0, false
	}
	m := av.MethodByName("Compare")
	if !m.IsValid() {
		return 0, false
	}
	mt := m.Type()
	if mt.NumIn() != 1 || mt.In(0) != av.Type() || mt.NumOut() != 1 || mt.Out(0).Kind() != reflect.Int {
		return 0, false
	}
	return int(m.Call([]reflect.Value{bv})[0].Int()), true
}
