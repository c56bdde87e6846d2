package variant

import (
	"math"
	"strconv"
	"strings"
)

// Print renders v in text form. With annotate set, type annotations are
// added wherever the type could not be inferred back from the text, so the
// output can be parsed without an expected type.
func (v Value) Print(annotate bool) string {
	var b strings.Builder
	printValue(&b, v, annotate)
	return b.String()
}

func printValue(b *strings.Builder, v Value, annotate bool) {
	switch v.Kind() {
	case Maybe:
		if len(v.children) == 0 {
			if annotate {
				b.WriteString("@" + string(v.typ) + " ")
			}
			b.WriteString("nothing")
			return
		}
		if annotate {
			b.WriteString("@" + string(v.typ) + " ")
		}
		inner := v.children[0]
		if inner.Kind() == Maybe {
			b.WriteString("just ")
		}
		printValue(b, inner, false)

	case Array:
		if len(v.children) == 0 {
			if annotate {
				b.WriteString("@" + string(v.typ) + " ")
			}
			b.WriteString("[]")
			return
		}
		if v.typ.IsDict() {
			b.WriteByte('{')
			for i, e := range v.children {
				if i > 0 {
					b.WriteString(", ")
				}
				printValue(b, e.children[0], annotate)
				b.WriteString(": ")
				printValue(b, e.children[1], annotate)
				annotate = false
			}
			b.WriteByte('}')
			return
		}
		b.WriteByte('[')
		for i, e := range v.children {
			if i > 0 {
				b.WriteString(", ")
			}
			printValue(b, e, annotate)
			annotate = false
		}
		b.WriteByte(']')

	case Tuple:
		b.WriteByte('(')
		for i, e := range v.children {
			if i > 0 {
				b.WriteString(", ")
			}
			printValue(b, e, annotate)
		}
		if len(v.children) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')

	case DictEntry:
		b.WriteByte('{')
		printValue(b, v.children[0], annotate)
		b.WriteString(", ")
		printValue(b, v.children[1], annotate)
		b.WriteByte('}')

	case Variant:
		b.WriteByte('<')
		printValue(b, v.children[0], true)
		b.WriteByte('>')

	case Bool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case Byte:
		if annotate {
			b.WriteString("byte ")
		}
		b.WriteString("0x")
		if v.u < 0x10 {
			b.WriteByte('0')
		}
		b.WriteString(strconv.FormatUint(v.u, 16))

	case Int16, Int64, Handle:
		if annotate {
			b.WriteString(v.Kind().String() + " ")
		}
		b.WriteString(strconv.FormatInt(v.i, 10))

	case Int32:
		b.WriteString(strconv.FormatInt(v.i, 10))

	case Uint16, Uint32, Uint64:
		if annotate {
			b.WriteString(v.Kind().String() + " ")
		}
		b.WriteString(strconv.FormatUint(v.u, 10))

	case Double:
		b.WriteString(formatDouble(v.f))

	case String:
		b.WriteString(Quote(v.s))

	case ObjectPath, Signature:
		if annotate {
			b.WriteString(v.Kind().String() + " ")
		}
		b.WriteString(Quote(v.s))
	}
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Quote renders s as a string literal. Single quotes are used unless the
// text contains a single quote and no double quote.
func Quote(s string) string {
	q := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch r {
		case rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\\':
			b.WriteString(`\\`)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\v':
			b.WriteString(`\v`)
		default:
			if r < 0x20 || r == 0x7f {
				b.WriteString(`\u`)
				h := strconv.FormatInt(int64(r), 16)
				b.WriteString(strings.Repeat("0", 4-len(h)) + h)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte(q)
	return b.String()
}
