// Package variant implements the value model stored by settings backends: a
// closed set of typed values described by compact type signatures, with a
// human readable text format.
//
// Signatures follow the familiar D-Bus style alphabet:
//
//	b  boolean        y  byte          n  int16       q  uint16
//	i  int32          u  uint32        x  int64       t  uint64
//	h  handle         d  double        s  string      o  object path
//	g  signature      v  variant       mT maybe       aT array
//	(T...) tuple      {KT} dict entry
package variant

import (
	"errors"
	"fmt"
	"strings"
)

// Type is a value type signature such as "s", "as" or "(ii)".
type Type string

// Basic and commonly used types.
const (
	TypeBoolean    Type = "b"
	TypeByte       Type = "y"
	TypeInt16      Type = "n"
	TypeUint16     Type = "q"
	TypeInt32      Type = "i"
	TypeUint32     Type = "u"
	TypeInt64      Type = "x"
	TypeUint64     Type = "t"
	TypeHandle     Type = "h"
	TypeDouble     Type = "d"
	TypeString     Type = "s"
	TypeObjectPath Type = "o"
	TypeSignature  Type = "g"
	TypeVariant    Type = "v"
	TypeStrv       Type = "as"
	TypeByteString Type = "ay"
	TypeUnit       Type = "()"
)

// ErrInvalidType is returned for malformed type signatures.
var ErrInvalidType = errors.New("invalid type signature")

// Kind is the class of a type.
type Kind uint8

// Kinds of values.
const (
	Invalid Kind = iota
	Bool
	Byte
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Handle
	Double
	String
	ObjectPath
	Signature
	Variant
	Maybe
	Array
	Tuple
	DictEntry
)

var kindNames = [...]string{
	Invalid:    "invalid",
	Bool:       "boolean",
	Byte:       "byte",
	Int16:      "int16",
	Uint16:     "uint16",
	Int32:      "int32",
	Uint32:     "uint32",
	Int64:      "int64",
	Uint64:     "uint64",
	Handle:     "handle",
	Double:     "double",
	String:     "string",
	ObjectPath: "objectpath",
	Signature:  "signature",
	Variant:    "variant",
	Maybe:      "maybe",
	Array:      "array",
	Tuple:      "tuple",
	DictEntry:  "dict entry",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

var basicKinds = map[byte]Kind{
	'b': Bool, 'y': Byte, 'n': Int16, 'q': Uint16, 'i': Int32, 'u': Uint32,
	'x': Int64, 't': Uint64, 'h': Handle, 'd': Double, 's': String,
	'o': ObjectPath, 'g': Signature, 'v': Variant,
}

// Kind returns the class of t, or Invalid if t is not a single complete type.
func (t Type) Kind() Kind {
	if !t.IsValid() {
		return Invalid
	}
	switch t[0] {
	case 'm':
		return Maybe
	case 'a':
		return Array
	case '(':
		return Tuple
	case '{':
		return DictEntry
	}
	return basicKinds[t[0]]
}

// IsValid reports whether t is exactly one complete type.
func (t Type) IsValid() bool {
	n, err := scanType(string(t), 0)
	return err == nil && n == len(t)
}

// IsBasic reports whether t is a basic (non-container) type. Variant is not basic.
func (t Type) IsBasic() bool {
	switch t.Kind() {
	case Invalid, Variant, Maybe, Array, Tuple, DictEntry:
		return false
	}
	return true
}

// IsNumeric reports whether t is an integer or floating point type.
func (t Type) IsNumeric() bool {
	switch t.Kind() {
	case Byte, Int16, Uint16, Int32, Uint32, Int64, Uint64, Handle, Double:
		return true
	}
	return false
}

// IsStringLike reports whether t is a string, object path or signature.
func (t Type) IsStringLike() bool {
	switch t.Kind() {
	case String, ObjectPath, Signature:
		return true
	}
	return false
}

// Elem returns the element type of an array or maybe type.
func (t Type) Elem() Type {
	switch t.Kind() {
	case Array, Maybe:
		return t[1:]
	}
	return ""
}

// Items returns the member types of a tuple or dict entry type.
func (t Type) Items() []Type {
	switch t.Kind() {
	case Tuple, DictEntry:
	default:
		return nil
	}
	var items []Type
	s := string(t)
	for i := 1; i < len(s)-1; {
		n, err := scanType(s, i)
		if err != nil {
			return nil
		}
		items = append(items, Type(s[i:n]))
		i = n
	}
	return items
}

// IsDict reports whether t is an array of dict entries.
func (t Type) IsDict() bool {
	return t.Kind() == Array && t.Elem().Kind() == DictEntry
}

// String returns the signature text.
func (t Type) String() string { return string(t) }

// ParseType validates a signature.
func ParseType(sig string) (Type, error) {
	n, err := scanType(sig, 0)
	if err != nil {
		return "", err
	}
	if n != len(sig) {
		return "", fmt.Errorf("%w: trailing characters in %q", ErrInvalidType, sig)
	}
	return Type(sig), nil
}

// ArrayOf returns the array type with the given element.
func ArrayOf(elem Type) Type { return "a" + elem }

// MaybeOf returns the maybe type with the given element.
func MaybeOf(elem Type) Type { return "m" + elem }

// TupleOf returns the tuple type of the given members.
func TupleOf(items ...Type) Type {
	var b strings.Builder
	b.WriteByte('(')
	for _, it := range items {
		b.WriteString(string(it))
	}
	b.WriteByte(')')
	return Type(b.String())
}

// DictEntryOf returns the dict entry type for key and value.
func DictEntryOf(key, value Type) Type {
	return Type("{" + string(key) + string(value) + "}")
}

// scanType returns the end offset of the single complete type starting at i.
func scanType(s string, i int) (int, error) {
	if i >= len(s) {
		return 0, fmt.Errorf("%w: %q is incomplete", ErrInvalidType, s)
	}
	c := s[i]
	if _, ok := basicKinds[c]; ok {
		return i + 1, nil
	}
	switch c {
	case 'a', 'm':
		return scanType(s, i+1)
	case '(':
		i++
		for {
			if i >= len(s) {
				return 0, fmt.Errorf("%w: unterminated tuple in %q", ErrInvalidType, s)
			}
			if s[i] == ')' {
				return i + 1, nil
			}
			n, err := scanType(s, i)
			if err != nil {
				return 0, err
			}
			i = n
		}
	case '{':
		if i+1 >= len(s) || !Type(s[i+1:i+2]).IsBasic() {
			return 0, fmt.Errorf("%w: dict entry key must be basic in %q", ErrInvalidType, s)
		}
		n, err := scanType(s, i+2)
		if err != nil {
			return 0, err
		}
		if n >= len(s) || s[n] != '}' {
			return 0, fmt.Errorf("%w: unterminated dict entry in %q", ErrInvalidType, s)
		}
		return n + 1, nil
	}
	return 0, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidType, c, s)
}
