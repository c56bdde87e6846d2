package binding

import (
	"math"

	"github.com/dshills/confstore/internal/schema"
	"github.com/dshills/confstore/internal/variant"
)

// Mapping converts values between a settings key and a property. A nil
// function falls back to the default conversion for that direction.
// Release, if set, runs exactly once when the binding is destroyed.
type Mapping struct {
	// ToProperty converts a settings value to the property kind. Returning
	// false leaves the property unchanged.
	ToProperty func(value variant.Value, kind Kind) (any, bool)

	// ToSetting converts a property value to the key type. Returning false
	// leaves the setting unchanged.
	ToSetting func(value any, typ variant.Type) (variant.Value, bool)

	Release func()
}

// compatible reports whether the default conversions can map between the
// property kind and the key.
func compatible(kind Kind, k *schema.Key) bool {
	t := k.Type()
	switch kind {
	case KindBool:
		return t == variant.TypeBoolean
	case KindInt8, KindUint8:
		return t == variant.TypeByte
	case KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64, KindFloat64:
		return t.IsNumeric() && t != variant.TypeByte
	case KindString:
		return t.IsStringLike()
	case KindStrv:
		return t == variant.TypeStrv
	case KindEnum:
		return t == variant.TypeString && k.IsEnum()
	case KindFlags:
		return t == variant.TypeStrv && k.IsFlags()
	case KindVariant:
		return true
	}
	return false
}

// toProperty is the default settings-to-property conversion.
func toProperty(k *schema.Key, value variant.Value, kind Kind) (any, bool) {
	switch kind {
	case KindBool:
		if value.Kind() != variant.Bool {
			return nil, false
		}
		return value.Bool(), true
	case KindInt8:
		if value.Kind() != variant.Byte {
			return nil, false
		}
		return int8(value.Byte()), true
	case KindUint8:
		if value.Kind() != variant.Byte {
			return nil, false
		}
		return value.Byte(), true
	case KindString:
		if !value.Type().IsStringLike() {
			return nil, false
		}
		return value.Str(), true
	case KindStrv:
		if value.Type() != variant.TypeStrv {
			return nil, false
		}
		return value.Strv(), true
	case KindEnum:
		return k.EnumValue(value)
	case KindFlags:
		return k.FlagsValue(value)
	case KindVariant:
		return value, true
	}
	return NumberToKind(value, kind)
}

// NumberToKind converts a numeric value to the Go type of a numeric
// property kind, failing when it does not fit.
func NumberToKind(value variant.Value, kind Kind) (any, bool) {
	if kind == KindFloat64 {
		return value.AsFloat64()
	}
	if value.Kind() == variant.Double {
		f := value.Double()
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, false
		}
		if f < 0 {
			if f < math.MinInt64 {
				return nil, false
			}
			return intToKind(int64(f), kind)
		}
		if f >= math.MaxUint64 {
			return nil, false
		}
		return uintToKind(uint64(f), kind)
	}
	if n, ok := value.AsInt64(); ok {
		return intToKind(n, kind)
	}
	if n, ok := value.AsUint64(); ok {
		return uintToKind(n, kind)
	}
	return nil, false
}

func intToKind(n int64, kind Kind) (any, bool) {
	switch kind {
	case KindInt16:
		if n >= math.MinInt16 && n <= math.MaxInt16 {
			return int16(n), true
		}
	case KindUint16:
		if n >= 0 && n <= math.MaxUint16 {
			return uint16(n), true
		}
	case KindInt32:
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), true
		}
	case KindUint32:
		if n >= 0 && n <= math.MaxUint32 {
			return uint32(n), true
		}
	case KindInt64:
		return n, true
	case KindUint64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return nil, false
}

func uintToKind(n uint64, kind Kind) (any, bool) {
	switch kind {
	case KindUint64:
		return n, true
	case KindInt64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
		return nil, false
	}
	if n > math.MaxInt64 {
		return nil, false
	}
	return intToKind(int64(n), kind)
}

// toSetting is the default property-to-settings conversion.
func toSetting(k *schema.Key, value any, typ variant.Type) (variant.Value, bool) {
	switch v := value.(type) {
	case bool:
		if typ != variant.TypeBoolean {
			return variant.Value{}, false
		}
		return variant.NewBool(v), true
	case int8:
		if typ != variant.TypeByte {
			return variant.Value{}, false
		}
		return variant.NewByte(uint8(v)), true
	case uint8:
		if typ != variant.TypeByte {
			return variant.Value{}, false
		}
		return variant.NewByte(v), true
	case string:
		switch typ {
		case variant.TypeString:
			return variant.NewString(v), true
		case variant.TypeObjectPath:
			return variant.NewObjectPath(v), true
		case variant.TypeSignature:
			return variant.NewSignature(v), true
		}
		return variant.Value{}, false
	case []string:
		if typ != variant.TypeStrv {
			return variant.Value{}, false
		}
		return variant.NewStrv(v), true
	case int:
		nick, ok := k.EnumNick(v)
		if !ok {
			return variant.Value{}, false
		}
		return variant.NewString(nick), true
	case variant.Value:
		return v, true
	}
	if v, ok := value.(uint32); ok && k.IsFlags() && typ == variant.TypeStrv {
		nicks, ok := k.FlagsNicks(v)
		if !ok {
			return variant.Value{}, false
		}
		return variant.NewStrv(nicks), true
	}
	return NumberToValue(value, typ)
}

// NumberToValue converts a Go number to a value of numeric type typ,
// failing when it does not fit.
func NumberToValue(value any, typ variant.Type) (variant.Value, bool) {
	switch v := value.(type) {
	case int16:
		return variant.FromInt64(typ, int64(v))
	case uint16:
		return variant.FromUint64(typ, uint64(v))
	case int32:
		return variant.FromInt64(typ, int64(v))
	case uint32:
		return variant.FromUint64(typ, uint64(v))
	case int64:
		return variant.FromInt64(typ, v)
	case uint64:
		return variant.FromUint64(typ, v)
	case int:
		return variant.FromInt64(typ, int64(v))
	case float64:
		if typ == variant.TypeDouble {
			return variant.NewDouble(v), true
		}
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return variant.Value{}, false
		}
		if v < 0 {
			if v < math.MinInt64 {
				return variant.Value{}, false
			}
			return variant.FromInt64(typ, int64(v))
		}
		if v >= math.MaxUint64 {
			return variant.Value{}, false
		}
		return variant.FromUint64(typ, uint64(v))
	}
	return variant.Value{}, false
}
