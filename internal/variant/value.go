package variant

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Value is an immutable typed value. The zero Value is invalid.
type Value struct {
	typ      Type
	b        bool
	i        int64
	u        uint64
	f        float64
	s        string
	children []Value
}

// NewBool returns a boolean value.
func NewBool(v bool) Value { return Value{typ: TypeBoolean, b: v} }

// NewByte returns a byte value.
func NewByte(v uint8) Value { return Value{typ: TypeByte, u: uint64(v)} }

// NewInt16 returns an int16 value.
func NewInt16(v int16) Value { return Value{typ: TypeInt16, i: int64(v)} }

// NewUint16 returns a uint16 value.
func NewUint16(v uint16) Value { return Value{typ: TypeUint16, u: uint64(v)} }

// NewInt32 returns an int32 value.
func NewInt32(v int32) Value { return Value{typ: TypeInt32, i: int64(v)} }

// NewUint32 returns a uint32 value.
func NewUint32(v uint32) Value { return Value{typ: TypeUint32, u: uint64(v)} }

// NewInt64 returns an int64 value.
func NewInt64(v int64) Value { return Value{typ: TypeInt64, i: v} }

// NewUint64 returns a uint64 value.
func NewUint64(v uint64) Value { return Value{typ: TypeUint64, u: v} }

// NewHandle returns a handle value.
func NewHandle(v int32) Value { return Value{typ: TypeHandle, i: int64(v)} }

// NewDouble returns a double value.
func NewDouble(v float64) Value { return Value{typ: TypeDouble, f: v} }

// NewString returns a string value.
func NewString(v string) Value { return Value{typ: TypeString, s: v} }

// NewObjectPath returns an object path value. The path is not validated.
func NewObjectPath(v string) Value { return Value{typ: TypeObjectPath, s: v} }

// NewSignature returns a signature value.
func NewSignature(v string) Value { return Value{typ: TypeSignature, s: v} }

// NewVariant boxes v.
func NewVariant(v Value) Value {
	return Value{typ: TypeVariant, children: []Value{v}}
}

// NewStrv returns an "as" value.
func NewStrv(items []string) Value {
	children := make([]Value, len(items))
	for i, s := range items {
		children[i] = NewString(s)
	}
	return Value{typ: TypeStrv, children: children}
}

// NewNothing returns the empty maybe of the given element type.
func NewNothing(elem Type) Value { return Value{typ: MaybeOf(elem)} }

// NewJust wraps v in a maybe.
func NewJust(v Value) Value {
	return Value{typ: MaybeOf(v.typ), children: []Value{v}}
}

// NewArray builds an array of elem. It fails if an item has another type.
func NewArray(elem Type, items ...Value) (Value, error) {
	if !elem.IsValid() {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidType, elem)
	}
	for i, it := range items {
		if it.typ != elem {
			return Value{}, fmt.Errorf("array item %d has type '%s', want '%s'", i, it.typ, elem)
		}
	}
	return Value{typ: ArrayOf(elem), children: append([]Value(nil), items...)}, nil
}

// MustArray is like NewArray but panics on a type mismatch.
func MustArray(elem Type, items ...Value) Value {
	v, err := NewArray(elem, items...)
	if err != nil {
		panic(err)
	}
	return v
}

// NewTuple builds a tuple of the given items.
func NewTuple(items ...Value) Value {
	types := make([]Type, len(items))
	for i, it := range items {
		types[i] = it.typ
	}
	return Value{typ: TupleOf(types...), children: append([]Value(nil), items...)}
}

// NewDictEntry builds a dict entry. The key must have a basic type.
func NewDictEntry(key, value Value) (Value, error) {
	if !key.typ.IsBasic() {
		return Value{}, fmt.Errorf("dict entry key type '%s' is not basic", key.typ)
	}
	return Value{typ: DictEntryOf(key.typ, value.typ), children: []Value{key, value}}, nil
}

// Type returns the value's type signature.
func (v Value) Type() Type { return v.typ }

// Kind returns the value's class.
func (v Value) Kind() Kind { return v.typ.Kind() }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.typ != "" }

// Bool returns the boolean held by v, false for other kinds.
func (v Value) Bool() bool { return v.b }

// Byte returns the byte held by v.
func (v Value) Byte() uint8 { return uint8(v.u) }

// Int16 returns the int16 held by v.
func (v Value) Int16() int16 { return int16(v.i) }

// Uint16 returns the uint16 held by v.
func (v Value) Uint16() uint16 { return uint16(v.u) }

// Int32 returns the int32 held by v (int32 or handle).
func (v Value) Int32() int32 { return int32(v.i) }

// Uint32 returns the uint32 held by v.
func (v Value) Uint32() uint32 { return uint32(v.u) }

// Int64 returns the int64 held by v.
func (v Value) Int64() int64 { return v.i }

// Uint64 returns the uint64 held by v.
func (v Value) Uint64() uint64 { return v.u }

// Double returns the double held by v.
func (v Value) Double() float64 { return v.f }

// Str returns the text of a string, object path or signature value.
func (v Value) Str() string { return v.s }

// Len returns the number of children of a container value.
func (v Value) Len() int { return len(v.children) }

// Index returns the i'th child of a container value.
func (v Value) Index(i int) Value { return v.children[i] }

// ValidUTF8 reports whether every string inside v is valid UTF-8.
func (v Value) ValidUTF8() bool {
	if v.typ.IsStringLike() && !utf8.ValidString(v.s) {
		return false
	}
	for _, c := range v.children {
		if !c.ValidUTF8() {
			return false
		}
	}
	return true
}

// Children returns a copy of the children of a container value.
func (v Value) Children() []Value { return append([]Value(nil), v.children...) }

// Unbox returns the value inside a variant, or the value of a non-empty maybe.
func (v Value) Unbox() (Value, bool) {
	switch v.Kind() {
	case Variant, Maybe:
		if len(v.children) == 1 {
			return v.children[0], true
		}
	}
	return Value{}, false
}

// Strv returns the strings of an "as" value, nil for other types.
func (v Value) Strv() []string {
	if v.typ != TypeStrv {
		return nil
	}
	out := make([]string, len(v.children))
	for i, c := range v.children {
		out[i] = c.s
	}
	return out
}

// AsInt64 converts any integer kind to int64. It fails for uint64 values
// above math.MaxInt64 and for non-integer kinds.
func (v Value) AsInt64() (int64, bool) {
	switch v.Kind() {
	case Int16, Int32, Int64, Handle:
		return v.i, true
	case Byte, Uint16, Uint32:
		return int64(v.u), true
	case Uint64:
		if v.u > math.MaxInt64 {
			return 0, false
		}
		return int64(v.u), true
	}
	return 0, false
}

// AsUint64 converts any non-negative integer to uint64.
func (v Value) AsUint64() (uint64, bool) {
	switch v.Kind() {
	case Byte, Uint16, Uint32, Uint64:
		return v.u, true
	case Int16, Int32, Int64, Handle:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	}
	return 0, false
}

// AsFloat64 converts any numeric kind to float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind() {
	case Double:
		return v.f, true
	case Int16, Int32, Int64, Handle:
		return float64(v.i), true
	case Byte, Uint16, Uint32, Uint64:
		return float64(v.u), true
	}
	return 0, false
}

// FromInt64 builds a value of numeric type t from n, failing if n does not fit.
func FromInt64(t Type, n int64) (Value, bool) {
	switch t.Kind() {
	case Byte:
		if n < 0 || n > math.MaxUint8 {
			return Value{}, false
		}
		return NewByte(uint8(n)), true
	case Int16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return Value{}, false
		}
		return NewInt16(int16(n)), true
	case Uint16:
		if n < 0 || n > math.MaxUint16 {
			return Value{}, false
		}
		return NewUint16(uint16(n)), true
	case Int32, Handle:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, false
		}
		return Value{typ: t, i: n}, true
	case Uint32:
		if n < 0 || n > math.MaxUint32 {
			return Value{}, false
		}
		return NewUint32(uint32(n)), true
	case Int64:
		return NewInt64(n), true
	case Uint64:
		if n < 0 {
			return Value{}, false
		}
		return NewUint64(uint64(n)), true
	case Double:
		return NewDouble(float64(n)), true
	}
	return Value{}, false
}

// FromUint64 builds a value of numeric type t from n, failing if n does not fit.
func FromUint64(t Type, n uint64) (Value, bool) {
	if t.Kind() == Uint64 {
		return NewUint64(n), true
	}
	if t.Kind() == Double {
		return NewDouble(float64(n)), true
	}
	if n > math.MaxInt64 {
		return Value{}, false
	}
	return FromInt64(t, int64(n))
}

// Equal reports whether a and b have the same type and contents.
func Equal(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.Kind() {
	case Bool:
		return a.b == b.b
	case Byte, Uint16, Uint32, Uint64:
		return a.u == b.u
	case Int16, Int32, Int64, Handle:
		return a.i == b.i
	case Double:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case String, ObjectPath, Signature:
		return a.s == b.s
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// Compare orders two basic values of the same type. It returns -1, 0 or +1,
// and false when the values are not comparable.
func Compare(a, b Value) (int, bool) {
	if a.typ != b.typ || !a.typ.IsBasic() {
		return 0, false
	}
	switch a.Kind() {
	case Bool:
		return cmp(btoi(a.b), btoi(b.b)), true
	case Byte, Uint16, Uint32, Uint64:
		return cmp(a.u, b.u), true
	case Int16, Int32, Int64, Handle:
		return cmp(a.i, b.i), true
	case Double:
		return cmp(a.f, b.f), true
	default:
		return strings.Compare(a.s, b.s), true
	}
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cmp[T int | int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String returns the annotated text form of v.
func (v Value) String() string {
	if !v.IsValid() {
		return "<invalid>"
	}
	return v.Print(true)
}
