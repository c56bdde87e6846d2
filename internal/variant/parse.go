package variant

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrParse is wrapped by every text parsing error.
var ErrParse = errors.New("parse error")

// ParseError describes where parsing failed.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Offset, e.Msg)
}

// Unwrap makes errors.Is(err, ErrParse) work.
func (e *ParseError) Unwrap() error { return ErrParse }

// Parse reads a value from its text form. When want is non-empty the text is
// parsed as that type; otherwise the type is inferred from the text and any
// annotations it carries.
func Parse(want Type, text string) (Value, error) {
	if want != "" && !want.IsValid() {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidType, want)
	}
	p := &parser{src: text}
	v, err := p.value(want)
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Value{}, p.errorf("unexpected trailing text %q", p.src[p.pos:])
	}
	return v, nil
}

// MustParse is like Parse but panics on error.
func MustParse(want Type, text string) Value {
	v, err := Parse(want, text)
	if err != nil {
		panic(fmt.Sprintf("variant.MustParse(%q, %q): %v", want, text, err))
	}
	return v
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) accept(c byte) bool {
	p.skipSpace()
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if !p.accept(c) {
		return p.errorf("expected '%c'", c)
	}
	return nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' || c == '+' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *parser) word() string {
	start := p.pos
	for p.pos < len(p.src) && isWordByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

var keywordTypes = map[string]Type{
	"boolean":    TypeBoolean,
	"byte":       TypeByte,
	"int16":      TypeInt16,
	"uint16":     TypeUint16,
	"int32":      TypeInt32,
	"uint32":     TypeUint32,
	"int64":      TypeInt64,
	"uint64":     TypeUint64,
	"handle":     TypeHandle,
	"double":     TypeDouble,
	"string":     TypeString,
	"objectpath": TypeObjectPath,
	"signature":  TypeSignature,
}

// annotation consumes a leading "@T" or type keyword, returning the
// annotated type or "".
func (p *parser) annotation() (Type, error) {
	p.skipSpace()
	if p.peek() == '@' {
		p.pos++
		start := p.pos
		n, err := scanType(p.src, p.pos)
		if err != nil {
			return "", p.errorf("bad type annotation: %v", err)
		}
		p.pos = n
		return Type(p.src[start:n]), nil
	}
	save := p.pos
	w := p.word()
	if t, ok := keywordTypes[w]; ok {
		return t, nil
	}
	p.pos = save
	return "", nil
}

func (p *parser) value(want Type) (Value, error) {
	ann, err := p.annotation()
	if err != nil {
		return Value{}, err
	}
	if ann != "" {
		if want != "" && ann != want {
			return Value{}, p.errorf("type annotation '%s' does not match expected type '%s'", ann, want)
		}
		want = ann
	}
	p.skipSpace()

	switch c := p.peek(); {
	case c == 0:
		return Value{}, p.errorf("unexpected end of input")
	case c == '[':
		return p.array(want)
	case c == '(':
		return p.tuple(want)
	case c == '{':
		return p.brace(want)
	case c == '<':
		return p.boxed(want)
	case c == '\'' || c == '"':
		return p.str(want)
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number(want)
	}

	save := p.pos
	w := p.word()
	switch w {
	case "true", "false":
		if want.Kind() == Maybe && want.Elem() == TypeBoolean {
			return NewJust(NewBool(w == "true")), nil
		}
		if want != "" && want != TypeBoolean {
			return Value{}, p.errorf("boolean given where '%s' expected", want)
		}
		return NewBool(w == "true"), nil
	case "nothing":
		if want == "" {
			return Value{}, p.errorf("unable to infer type of 'nothing'")
		}
		if want.Kind() != Maybe {
			return Value{}, p.errorf("'nothing' given where '%s' expected", want)
		}
		return NewNothing(want.Elem()), nil
	case "just":
		var elem Type
		if want != "" {
			if want.Kind() != Maybe {
				return Value{}, p.errorf("'just' given where '%s' expected", want)
			}
			elem = want.Elem()
		}
		inner, err := p.value(elem)
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	case "inf", "nan":
		p.pos = save
		return p.number(want)
	}
	p.pos = save
	if want.Kind() == Maybe {
		inner, err := p.value(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	}
	return Value{}, p.errorf("unexpected %q", p.src[p.pos:min(len(p.src), p.pos+8)])
}

func (p *parser) array(want Type) (Value, error) {
	var elem Type
	switch want.Kind() {
	case Invalid:
	case Array:
		elem = want.Elem()
	case Maybe:
		inner, err := p.array(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	default:
		return Value{}, p.errorf("array given where '%s' expected", want)
	}
	p.pos++ // '['
	var items []Value
	if !p.accept(']') {
		for {
			it, err := p.value(elem)
			if err != nil {
				return Value{}, err
			}
			if elem == "" {
				elem = it.typ
			} else if it.typ != elem {
				return Value{}, p.errorf("array items have inconsistent types '%s' and '%s'", elem, it.typ)
			}
			items = append(items, it)
			if p.accept(']') {
				break
			}
			if err := p.expect(','); err != nil {
				return Value{}, err
			}
		}
	}
	if elem == "" {
		return Value{}, p.errorf("unable to infer type of empty array")
	}
	return Value{typ: ArrayOf(elem), children: items}, nil
}

func (p *parser) tuple(want Type) (Value, error) {
	var types []Type
	switch want.Kind() {
	case Invalid:
	case Tuple:
		types = want.Items()
	case Maybe:
		inner, err := p.tuple(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	default:
		return Value{}, p.errorf("tuple given where '%s' expected", want)
	}
	p.pos++ // '('
	var items []Value
	if !p.accept(')') {
		for {
			var t Type
			if want != "" {
				if len(items) >= len(types) {
					return Value{}, p.errorf("too many items in tuple of type '%s'", want)
				}
				t = types[len(items)]
			}
			it, err := p.value(t)
			if err != nil {
				return Value{}, err
			}
			items = append(items, it)
			if p.accept(')') {
				break
			}
			if err := p.expect(','); err != nil {
				return Value{}, err
			}
			if p.accept(')') {
				break
			}
		}
	}
	if want != "" && len(items) != len(types) {
		return Value{}, p.errorf("too few items in tuple of type '%s'", want)
	}
	return NewTuple(items...), nil
}

// brace parses either a dictionary "{k: v, ...}" or a dict entry "{k, v}".
func (p *parser) brace(want Type) (Value, error) {
	var keyType, valType Type
	dict := false
	switch want.Kind() {
	case Invalid:
	case Array:
		if !want.IsDict() {
			return Value{}, p.errorf("dictionary given where '%s' expected", want)
		}
		dict = true
		kv := want.Elem().Items()
		keyType, valType = kv[0], kv[1]
	case DictEntry:
		kv := want.Items()
		keyType, valType = kv[0], kv[1]
	case Maybe:
		inner, err := p.brace(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	default:
		return Value{}, p.errorf("dictionary given where '%s' expected", want)
	}
	p.pos++ // '{'

	if p.accept('}') {
		if !dict {
			return Value{}, p.errorf("unable to infer type of empty dictionary")
		}
		return Value{typ: want}, nil
	}

	var entries []Value
	for {
		k, err := p.value(keyType)
		if err != nil {
			return Value{}, err
		}
		if !k.typ.IsBasic() {
			return Value{}, p.errorf("dictionary key type '%s' is not basic", k.typ)
		}
		keyType = k.typ
		p.skipSpace()
		sep := p.peek()
		if len(entries) == 0 && want == "" {
			dict = sep == ':'
		}
		if dict {
			if err := p.expect(':'); err != nil {
				return Value{}, err
			}
		} else if err := p.expect(','); err != nil {
			return Value{}, err
		}
		v, err := p.value(valType)
		if err != nil {
			return Value{}, err
		}
		valType = v.typ
		entries = append(entries, Value{typ: DictEntryOf(keyType, valType), children: []Value{k, v}})
		if !dict {
			if err := p.expect('}'); err != nil {
				return Value{}, err
			}
			return entries[0], nil
		}
		if p.accept('}') {
			break
		}
		if err := p.expect(','); err != nil {
			return Value{}, err
		}
	}
	et := DictEntryOf(keyType, valType)
	for _, e := range entries {
		if e.typ != et {
			return Value{}, p.errorf("dictionary entries have inconsistent types")
		}
	}
	return Value{typ: ArrayOf(et), children: entries}, nil
}

func (p *parser) boxed(want Type) (Value, error) {
	switch want.Kind() {
	case Invalid, Variant:
	case Maybe:
		inner, err := p.boxed(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	default:
		return Value{}, p.errorf("variant given where '%s' expected", want)
	}
	p.pos++ // '<'
	inner, err := p.value("")
	if err != nil {
		return Value{}, err
	}
	if err := p.expect('>'); err != nil {
		return Value{}, err
	}
	return NewVariant(inner), nil
}

func (p *parser) str(want Type) (Value, error) {
	switch want.Kind() {
	case Invalid:
		want = TypeString
	case String, ObjectPath, Signature:
	case Maybe:
		inner, err := p.str(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	default:
		return Value{}, p.errorf("string given where '%s' expected", want)
	}
	s, err := p.quoted()
	if err != nil {
		return Value{}, err
	}
	if want == TypeSignature {
		if !validSignature(s) {
			return Value{}, p.errorf("invalid signature %q", s)
		}
	}
	return Value{typ: want, s: s}, nil
}

func (p *parser) quoted() (string, error) {
	q := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for {
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated string constant")
		}
		c := p.src[p.pos]
		if c == q {
			p.pos++
			return b.String(), nil
		}
		if c != '\\' {
			r, n := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += n
			continue
		}
		p.pos++
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated escape")
		}
		e := p.src[p.pos]
		p.pos++
		switch e {
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case 'u', 'U':
			n := 4
			if e == 'U' {
				n = 8
			}
			if p.pos+n > len(p.src) {
				return "", p.errorf("truncated unicode escape")
			}
			r, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
			if err != nil {
				return "", p.errorf("invalid unicode escape")
			}
			b.WriteRune(rune(r))
			p.pos += n
		default:
			b.WriteByte(e)
		}
	}
}

func (p *parser) number(want Type) (Value, error) {
	start := p.pos
	text := p.word()
	if want.Kind() == Maybe {
		p.pos = start
		inner, err := p.number(want.Elem())
		if err != nil {
			return Value{}, err
		}
		return NewJust(inner), nil
	}
	if want == "" {
		if strings.ContainsAny(text, ".eE") && !strings.HasPrefix(text, "0x") ||
			text == "inf" || text == "nan" || strings.HasSuffix(text, "inf") {
			want = TypeDouble
		} else {
			want = TypeInt32
		}
	}
	if !want.IsNumeric() {
		p.pos = start
		return Value{}, p.errorf("number given where '%s' expected", want)
	}
	if want == TypeDouble {
		f, err := parseFloat(text)
		if err != nil {
			p.pos = start
			return Value{}, p.errorf("invalid double %q", text)
		}
		return NewDouble(f), nil
	}
	neg := strings.HasPrefix(text, "-")
	digits := strings.TrimLeft(text, "+-")
	base := 10
	switch {
	case strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X"):
		base, digits = 16, digits[2:]
	case len(digits) > 1 && digits[0] == '0':
		base, digits = 8, digits[1:]
	}
	u, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		p.pos = start
		return Value{}, p.errorf("invalid number %q", text)
	}
	var (
		v  Value
		ok bool
	)
	if neg {
		if u > 1<<63 {
			ok = false
		} else {
			v, ok = FromInt64(want, -int64(u))
		}
	} else {
		v, ok = FromUint64(want, u)
	}
	if !ok {
		p.pos = start
		return Value{}, p.errorf("number %s out of range for type '%s'", text, want)
	}
	return v, nil
}

func parseFloat(text string) (float64, error) {
	switch text {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(text, 64)
}

// validSignature reports whether s is a sequence of zero or more complete types.
func validSignature(s string) bool {
	for i := 0; i < len(s); {
		n, err := scanType(s, i)
		if err != nil {
			return false
		}
		i = n
	}
	return true
}
