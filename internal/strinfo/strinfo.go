// Package strinfo implements the compact immutable string table used to map
// enum and flags nicknames to integer values.
//
// A table is a sequence of little-endian 32-bit words. Each entry is a value
// word followed by the entry's name:
//
//	+-------+--------+------------------+-----+-----------------+
//	| value | marker | name bytes ...   | NUL | zero pad | 0xff |
//	+-------+--------+------------------+-----+-----------------+
//
// The marker byte is 0xff for a canonical entry and 0xfe for an alias. The
// name occupies max(2, (len+6)/4) words, the last of which ends in 0xff. An
// alias stores, in place of a value, the word index of its target's value
// word.
package strinfo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	markerCanonical = 0xff
	markerAlias     = 0xfe

	// MaxNameLength is the longest name that fits in an entry.
	MaxNameLength = 32*4 - 6
)

var (
	// ErrDuplicateName is returned when a name is added twice.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNameTooLong is returned for names over MaxNameLength bytes.
	ErrNameTooLong = errors.New("name too long")

	// ErrUnknownTarget is returned when an alias target is not a canonical entry.
	ErrUnknownTarget = errors.New("alias target is not a canonical entry")

	// ErrCorrupt is returned when decoding malformed table data.
	ErrCorrupt = errors.New("corrupt string table")
)

// stringToWords encodes name the way it is laid out in a table.
func stringToWords(name string, alias bool) ([]uint32, bool) {
	size := len(name)
	n := (size + 6) >> 2
	if n < 2 {
		n = 2
	}
	if n > 32 || strings.IndexByte(name, 0) >= 0 {
		return nil, false
	}
	buf := make([]byte, n*4)
	if alias {
		buf[0] = markerAlias
	} else {
		buf[0] = markerCanonical
	}
	copy(buf[1:], name)
	buf[len(buf)-1] = 0xff
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words, true
}

// Table is an immutable string table.
type Table struct {
	words []uint32
}

// scan returns the offset in haystack where needle begins, or -1.
func scan(haystack, needle []uint32) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// findString returns the index of the value word of the named entry, or -1.
func findString(words []uint32, name string, alias bool) int {
	if len(words) < 1 {
		return -1
	}
	pattern, ok := stringToWords(name, alias)
	if !ok {
		return -1
	}
	return scan(words[1:], pattern)
}

// findInteger returns the index of the value word holding value for a
// canonical entry, or -1.
func findInteger(words []uint32, value uint32) int {
	for i := 0; i+1 < len(words); i++ {
		if words[i] != value {
			continue
		}
		// the value word must be preceded by the end of a name (or the
		// table start) and followed by a canonical marker.
		prevOK := i == 0 || words[i-1]>>24 == 0xff
		if prevOK && words[i+1]&0xff == markerCanonical {
			return i
		}
	}
	return -1
}

// nameAt decodes the name stored after the value word at index i.
func nameAt(words []uint32, i int) string {
	var b []byte
	for w := i + 1; w < len(words); w++ {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], words[w])
		start := 0
		if w == i+1 {
			start = 1
		}
		for _, c := range buf[start:] {
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}

// ValueForName returns the value of a canonical entry. Aliases are not
// resolved.
func (t *Table) ValueForName(name string) (uint32, bool) {
	i := findString(t.words, name, false)
	if i < 0 {
		return 0, false
	}
	return t.words[i], true
}

// NameForValue returns the canonical name holding value.
func (t *Table) NameForValue(value uint32) (string, bool) {
	i := findInteger(t.words, value)
	if i < 0 {
		return "", false
	}
	return nameAt(t.words, i), true
}

// ResolveAlias returns the canonical target of an alias.
func (t *Table) ResolveAlias(alias string) (string, bool) {
	i := findString(t.words, alias, true)
	if i < 0 {
		return "", false
	}
	target := int(t.words[i])
	if target+1 >= len(t.words) {
		return "", false
	}
	return nameAt(t.words, target), true
}

// IsCanonicalName reports whether name is a canonical (non-alias) entry.
func (t *Table) IsCanonicalName(name string) bool {
	return findString(t.words, name, false) >= 0
}

// IsValidName reports whether name is a canonical entry or an alias.
func (t *Table) IsValidName(name string) bool {
	return t.IsCanonicalName(name) || findString(t.words, name, true) >= 0
}

// Entry is one decoded table record.
type Entry struct {
	Name  string
	Value uint32
	Alias bool
	// Target is the canonical name an alias points to.
	Target string
}

// Entries decodes every record in insertion order.
func (t *Table) Entries() []Entry {
	var out []Entry
	for i := 0; i+2 < len(t.words); {
		marker := t.words[i+1] & 0xff
		name := nameAt(t.words, i)
		n := (len(name) + 6) >> 2
		if n < 2 {
			n = 2
		}
		e := Entry{Name: name, Value: t.words[i]}
		if marker == markerAlias {
			e.Alias = true
			e.Target = nameAt(t.words, int(t.words[i]))
			e.Value = 0
			if v, ok := t.ValueForName(e.Target); ok {
				e.Value = v
			}
		}
		out = append(out, e)
		i += 1 + n
	}
	return out
}

// Names returns the canonical names in insertion order.
func (t *Table) Names() []string {
	var names []string
	for _, e := range t.Entries() {
		if !e.Alias {
			names = append(names, e.Name)
		}
	}
	return names
}

// Bytes returns the little-endian encoding of the table.
func (t *Table) Bytes() []byte {
	buf := make([]byte, len(t.words)*4)
	for i, w := range t.words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// Words returns a copy of the table words.
func (t *Table) Words() []uint32 {
	return append([]uint32(nil), t.words...)
}

// FromBytes decodes and validates an encoded table.
func FromBytes(data []byte) (*Table, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrCorrupt, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	for i := 0; i < len(words); {
		if i+2 >= len(words) {
			return nil, fmt.Errorf("%w: truncated entry at word %d", ErrCorrupt, i)
		}
		marker := words[i+1] & 0xff
		if marker != markerCanonical && marker != markerAlias {
			return nil, fmt.Errorf("%w: bad marker at word %d", ErrCorrupt, i+1)
		}
		name := nameAt(words, i)
		expect, ok := stringToWords(name, marker == markerAlias)
		if !ok || i+1+len(expect) > len(words) || scan(words[i+1:i+1+len(expect)], expect) != 0 {
			return nil, fmt.Errorf("%w: bad name at word %d", ErrCorrupt, i+1)
		}
		if marker == markerAlias {
			target := int(words[i])
			if target >= i || words[target+1]&0xff != markerCanonical {
				return nil, fmt.Errorf("%w: dangling alias at word %d", ErrCorrupt, i)
			}
		}
		i += 1 + len(expect)
	}
	return &Table{words: words}, nil
}

// Builder assembles a Table. The zero value is ready to use.
type Builder struct {
	words []uint32
	names map[string]bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) checkName(name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}
	if b.names[name] {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	return nil
}

func (b *Builder) appendString(name string, alias bool) error {
	words, ok := stringToWords(name, alias)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}
	b.words = append(b.words, words...)
	if b.names == nil {
		b.names = make(map[string]bool)
	}
	b.names[name] = true
	return nil
}

// AppendItem adds a canonical entry.
func (b *Builder) AppendItem(name string, value uint32) error {
	if err := b.checkName(name); err != nil {
		return err
	}
	b.words = append(b.words, value)
	if err := b.appendString(name, false); err != nil {
		b.words = b.words[:len(b.words)-1]
		return err
	}
	return nil
}

// AppendAlias adds alias pointing at target, which must already be present
// as a canonical entry.
func (b *Builder) AppendAlias(alias, target string) error {
	if err := b.checkName(alias); err != nil {
		return err
	}
	i := findString(b.words, target, false)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	b.words = append(b.words, uint32(i))
	if err := b.appendString(alias, true); err != nil {
		b.words = b.words[:len(b.words)-1]
		return err
	}
	return nil
}

// Table returns the built table. The builder may keep being used.
func (b *Builder) Table() *Table {
	return &Table{words: append([]uint32(nil), b.words...)}
}
