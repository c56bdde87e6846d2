package schema

import (
	"math"

	"github.com/dshills/confstore/internal/strinfo"
	"github.com/dshills/confstore/internal/variant"
)

// ConstraintKind identifies how a key restricts its values beyond the type.
type ConstraintKind int

const (
	// ConstraintNone accepts every value of the key's type.
	ConstraintNone ConstraintKind = iota

	// ConstraintRange bounds a numeric value to [min, max].
	ConstraintRange

	// ConstraintEnum restricts a string to the nicks of an enumeration.
	ConstraintEnum

	// ConstraintFlags restricts a string array to the nicks of a flags type.
	ConstraintFlags

	// ConstraintChoices restricts a string (or each string of an array) to a
	// fixed list.
	ConstraintChoices
)

// String returns the constraint name as reported by range queries.
func (c ConstraintKind) String() string {
	switch c {
	case ConstraintRange:
		return "range"
	case ConstraintEnum, ConstraintChoices:
		return "enum"
	case ConstraintFlags:
		return "flags"
	default:
		return "type"
	}
}

// L10nCategory selects the message catalog used to translate a default.
type L10nCategory int

const (
	L10nNone L10nCategory = iota
	L10nMessages
	L10nTime
)

// Key describes one key of a schema. Keys are immutable.
type Key struct {
	schemaID    string
	name        string
	typ         variant.Type
	def         variant.Value
	defText     string
	summary     string
	description string
	l10n        L10nCategory
	context     string

	constraint ConstraintKind
	min, max   variant.Value
	table      *strinfo.Table
}

// SchemaID returns the id of the schema the key belongs to.
func (k *Key) SchemaID() string { return k.schemaID }

// Name returns the key name.
func (k *Key) Name() string { return k.name }

// Type returns the key's value type.
func (k *Key) Type() variant.Type { return k.typ }

// DefaultValue returns the schema default.
func (k *Key) DefaultValue() variant.Value { return k.def }

// DefaultText returns the default as written in the schema, before parsing.
func (k *Key) DefaultText() string { return k.defText }

// Summary returns the one-line summary, if any.
func (k *Key) Summary() string { return k.summary }

// Description returns the long description, if any.
func (k *Key) Description() string { return k.description }

// L10n returns the translation category of the default value.
func (k *Key) L10n() L10nCategory { return k.l10n }

// Context returns the translation context of the default value.
func (k *Key) Context() string { return k.context }

// Constraint returns the kind of value restriction on the key.
func (k *Key) Constraint() ConstraintKind { return k.constraint }

// Bounds returns the range limits of a ConstraintRange key.
func (k *Key) Bounds() (min, max variant.Value, ok bool) {
	if k.constraint != ConstraintRange {
		return variant.Value{}, variant.Value{}, false
	}
	return k.min, k.max, true
}

// Table returns the nick table of an enum, flags or choices key.
func (k *Key) Table() *strinfo.Table { return k.table }

// IsEnum reports whether the key holds an enumeration nick.
func (k *Key) IsEnum() bool { return k.constraint == ConstraintEnum }

// IsFlags reports whether the key holds a set of flags nicks.
func (k *Key) IsFlags() bool { return k.constraint == ConstraintFlags }

// Range describes the permitted values as a "(sv)" pair: ('type', <@T []>),
// ('range', <(min, max)>), ('enum', <[...]>) or ('flags', <[...]>).
func (k *Key) Range() variant.Value {
	var detail variant.Value
	switch k.constraint {
	case ConstraintRange:
		detail = variant.NewTuple(k.min, k.max)
	case ConstraintEnum, ConstraintFlags, ConstraintChoices:
		detail = variant.NewStrv(k.table.Names())
	default:
		detail = variant.MustArray(k.typ)
	}
	return variant.NewTuple(variant.NewString(k.constraint.String()), variant.NewVariant(detail))
}

// RangeCheck reports whether value may be stored in the key.
func (k *Key) RangeCheck(value variant.Value) bool {
	_, ok := k.Validate(value)
	return ok
}

// Validate is the write-side form of Fixup. It rejects strings that are
// not valid UTF-8 and flags sequences naming an alias; enum aliases are
// still normalized to their target.
func (k *Key) Validate(value variant.Value) (variant.Value, bool) {
	if !value.ValidUTF8() {
		return variant.Value{}, false
	}
	if k.constraint == ConstraintFlags && value.Type() == variant.TypeStrv {
		for _, s := range value.Strv() {
			if !k.table.IsCanonicalName(s) {
				return variant.Value{}, false
			}
		}
	}
	return k.Fixup(value)
}

// Fixup validates value against the key's type and constraint and returns
// its canonical form: enum and flags aliases are replaced by their targets.
// It is the lenient check applied to stored values on read.
func (k *Key) Fixup(value variant.Value) (variant.Value, bool) {
	if value.Type() != k.typ {
		return variant.Value{}, false
	}
	switch k.constraint {
	case ConstraintNone:
		return value, true

	case ConstraintRange:
		return value, k.inRange(value)

	case ConstraintEnum, ConstraintChoices:
		return k.fixupStrings(value, false)

	case ConstraintFlags:
		return k.fixupStrings(value, true)
	}
	return variant.Value{}, false
}

func (k *Key) inRange(value variant.Value) bool {
	if value.Kind() == variant.Array || value.Kind() == variant.Maybe {
		for _, c := range value.Children() {
			if !k.inRange(c) {
				return false
			}
		}
		return true
	}
	lo, ok1 := variant.Compare(k.min, value)
	hi, ok2 := variant.Compare(value, k.max)
	return ok1 && ok2 && lo <= 0 && hi <= 0
}

// canonical resolves an alias and reports whether the result is a canonical
// entry.
func (k *Key) canonical(name string) (string, bool) {
	if target, ok := k.table.ResolveAlias(name); ok {
		name = target
	}
	return name, k.table.IsCanonicalName(name)
}

func (k *Key) fixupStrings(value variant.Value, unique bool) (variant.Value, bool) {
	switch value.Kind() {
	case variant.String:
		name, ok := k.canonical(value.Str())
		if !ok {
			return variant.Value{}, false
		}
		return variant.NewString(name), true

	case variant.Array:
		if value.Type() != variant.TypeStrv {
			return variant.Value{}, false
		}
		in := value.Strv()
		out := make([]string, 0, len(in))
		seen := make(map[string]bool, len(in))
		for _, s := range in {
			name, ok := k.canonical(s)
			if !ok || (unique && seen[name]) {
				return variant.Value{}, false
			}
			seen[name] = true
			out = append(out, name)
		}
		return variant.NewStrv(out), true
	}
	return variant.Value{}, false
}

// EnumValue converts an enum key value to its integer. It fails for keys
// that are not enums.
func (k *Key) EnumValue(value variant.Value) (int, bool) {
	if k.constraint != ConstraintEnum || value.Kind() != variant.String {
		return 0, false
	}
	name, ok := k.canonical(value.Str())
	if !ok {
		return 0, false
	}
	v, ok := k.table.ValueForName(name)
	return int(int32(v)), ok
}

// EnumNick returns the nick of an enum integer.
func (k *Key) EnumNick(value int) (string, bool) {
	if k.constraint != ConstraintEnum || value < math.MinInt32 || value > math.MaxInt32 {
		return "", false
	}
	return k.table.NameForValue(uint32(int32(value)))
}

// FlagsValue converts a flags key value to its bit mask.
func (k *Key) FlagsValue(value variant.Value) (uint32, bool) {
	if k.constraint != ConstraintFlags || value.Type() != variant.TypeStrv {
		return 0, false
	}
	fixed, ok := k.fixupStrings(value, true)
	if !ok {
		return 0, false
	}
	return k.table.NamesToFlags(fixed.Strv())
}

// FlagsNicks expands a bit mask into nicks.
func (k *Key) FlagsNicks(value uint32) ([]string, bool) {
	if k.constraint != ConstraintFlags {
		return nil, false
	}
	return k.table.FlagsToNames(value)
}
