package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/dshills/confstore/internal/variant"
)

// CompiledFile is the name of the compiled schema file inside a schema
// directory.
const CompiledFile = "gschemas.compiled.json"

// Source is a set of schemas, optionally chained to a parent source that is
// consulted by recursive lookups.
type Source struct {
	parent  *Source
	dir     string
	schemas map[string]*Schema
	order   []string
}

// NewSource creates a source holding the given schemas. Extended schemas are
// resolved against this source first and then the parent chain.
func NewSource(parent *Source, schemas ...*Schema) (*Source, error) {
	src := &Source{
		parent:  parent,
		schemas: make(map[string]*Schema, len(schemas)),
	}
	for _, s := range schemas {
		if _, dup := src.schemas[s.id]; dup {
			return nil, &DefinitionError{Schema: s.id, Message: "defined twice"}
		}
		src.schemas[s.id] = s.clone(src)
		src.order = append(src.order, s.id)
	}

	resolved := make(map[string]bool)
	for _, id := range src.order {
		if err := src.resolveExtends(id, resolved, make(map[string]bool)); err != nil {
			return nil, err
		}
	}
	return src, nil
}

func (src *Source) resolveExtends(id string, resolved, visiting map[string]bool) error {
	if resolved[id] {
		return nil
	}
	s := src.schemas[id]
	if s.extends == "" {
		resolved[id] = true
		return nil
	}
	if visiting[id] {
		return &DefinitionError{Schema: id, Message: "extends itself"}
	}
	visiting[id] = true

	if _, local := src.schemas[s.extends]; local {
		if err := src.resolveExtends(s.extends, resolved, visiting); err != nil {
			return err
		}
	}
	base, ok := src.Lookup(s.extends, true)
	if !ok {
		return &DefinitionError{Schema: id, Message: fmt.Sprintf("extends unknown schema '%s'", s.extends)}
	}

	for _, name := range base.keyOrder {
		if _, own := s.keys[name]; own {
			continue
		}
		inherited := *base.keys[name]
		inherited.schemaID = s.id
		s.keys[name] = &inherited
		s.keyOrder = append(s.keyOrder, name)
	}
	for _, name := range base.childOrder {
		if _, own := s.children[name]; own {
			continue
		}
		s.children[name] = base.children[name]
		s.childOrder = append(s.childOrder, name)
	}
	resolved[id] = true
	return nil
}

// NewSourceFromDirectory loads the compiled schema file in dir. Untrusted
// sources have every default checked against its key's constraint.
//
// A missing directory or file yields an error matching ErrNotFound and
// fs.ErrNotExist; an empty or malformed file yields ErrCorrupt.
func NewSourceFromDirectory(dir string, parent *Source, trusted bool) (*Source, error) {
	data, err := os.ReadFile(filepath.Join(dir, CompiledFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	schemas, err := parseCompiled(data, trusted)
	if err != nil {
		return nil, err
	}
	src, err := NewSource(parent, schemas...)
	if err != nil {
		return nil, err
	}
	src.dir = dir
	return src, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// parseCompiled reads the JSON schema document:
//
//	{
//	  "enums": {"org.test.Enum": {"values": [{"nick": "foo", "value": 1}],
//	                              "aliases": [{"alias": "qux", "target": "foo"}]}},
//	  "flags": {...same shape...},
//	  "schemas": [{"id": "org.test", "path": "/test/", "gettext-domain": "test",
//	               "extends": "", "list-of": "",
//	               "keys": [{"name": "k", "type": "s", "default": "'x'",
//	                         "summary": "", "description": "",
//	                         "l10n": "messages", "context": "",
//	                         "range": {"min": "0", "max": "9"},
//	                         "enum": "org.test.Enum", "flags": "...",
//	                         "choices": ["a", "b"]}],
//	               "children": [{"name": "c", "schema": "org.test.c"}]}]
//	}
func parseCompiled(data []byte, trusted bool) ([]*Schema, error) {
	if len(data) == 0 {
		return nil, corrupt("empty file")
	}
	if !gjson.ValidBytes(data) {
		return nil, corrupt("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() || !root.Get("schemas").IsArray() {
		return nil, corrupt("missing schemas list")
	}

	tables := make(map[string]*tableDef)
	for _, section := range []string{"enums", "flags"} {
		var err error
		root.Get(section).ForEach(func(id, def gjson.Result) bool {
			var t *tableDef
			if t, err = parseTable(def); err != nil {
				err = corrupt("%s '%s': %v", section, id.String(), err)
				return false
			}
			t.flags = section == "flags"
			tables[id.String()] = t
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	var schemas []*Schema
	for _, sd := range root.Get("schemas").Array() {
		b := NewBuilder(sd.Get("id").String())
		b.skipDefaultCheck = trusted
		b.Path(sd.Get("path").String()).
			GettextDomain(sd.Get("gettext-domain").String()).
			Extends(sd.Get("extends").String()).
			ListOf(sd.Get("list-of").String())

		for _, kd := range sd.Get("keys").Array() {
			opts, err := keyOptions(kd, tables)
			if err != nil {
				return nil, corrupt("schema '%s': %v", sd.Get("id").String(), err)
			}
			b.Key(kd.Get("name").String(), variant.Type(kd.Get("type").String()), kd.Get("default").String(), opts...)
		}
		for _, cd := range sd.Get("children").Array() {
			b.Child(cd.Get("name").String(), cd.Get("schema").String())
		}
		s, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

type tableDef struct {
	nicks   []Nick
	aliases []Alias
	flags   bool
}

func parseTable(def gjson.Result) (*tableDef, error) {
	t := &tableDef{}
	for _, v := range def.Get("values").Array() {
		nick := v.Get("nick")
		if !nick.Exists() {
			return nil, errors.New("value without nick")
		}
		t.nicks = append(t.nicks, Nick{Name: nick.String(), Value: int(v.Get("value").Int())})
	}
	for _, a := range def.Get("aliases").Array() {
		t.aliases = append(t.aliases, Alias{Alias: a.Get("alias").String(), Target: a.Get("target").String()})
	}
	return t, nil
}

func keyOptions(kd gjson.Result, tables map[string]*tableDef) ([]KeyOption, error) {
	opts := []KeyOption{
		WithSummary(kd.Get("summary").String()),
		WithDescription(kd.Get("description").String()),
	}
	switch kd.Get("l10n").String() {
	case "":
	case "messages":
		opts = append(opts, WithL10n(L10nMessages, kd.Get("context").String()))
	case "time":
		opts = append(opts, WithL10n(L10nTime, kd.Get("context").String()))
	default:
		return nil, fmt.Errorf("key '%s': unknown l10n category", kd.Get("name").String())
	}

	if r := kd.Get("range"); r.Exists() {
		opts = append(opts, WithRange(r.Get("min").String(), r.Get("max").String()))
	}
	for _, field := range []string{"enum", "flags"} {
		ref := kd.Get(field)
		if !ref.Exists() {
			continue
		}
		def, ok := tables[ref.String()]
		if !ok || def.flags != (field == "flags") {
			return nil, fmt.Errorf("key '%s': unknown %s type '%s'", kd.Get("name").String(), field, ref.String())
		}
		table, err := NewTable(def.nicks, def.aliases)
		if err != nil {
			return nil, fmt.Errorf("key '%s': %v", kd.Get("name").String(), err)
		}
		if field == "flags" {
			opts = append(opts, WithFlags(table))
		} else {
			opts = append(opts, WithEnum(table))
		}
	}
	if c := kd.Get("choices"); c.Exists() {
		var choices []string
		for _, v := range c.Array() {
			choices = append(choices, v.String())
		}
		opts = append(opts, WithChoices(choices...))
	}
	return opts, nil
}

// Parent returns the parent source, if any.
func (src *Source) Parent() *Source { return src.parent }

// Dir returns the directory a source was loaded from, "" for sources built
// in memory.
func (src *Source) Dir() string { return src.dir }

// Lookup finds a schema by id. A recursive lookup falls back to the parent
// chain.
func (src *Source) Lookup(id string, recursive bool) (*Schema, bool) {
	for s := src; s != nil; s = s.parent {
		if schema, ok := s.schemas[id]; ok {
			return schema, true
		}
		if !recursive {
			break
		}
	}
	return nil, false
}

// ListSchemas returns the sorted ids of the non-relocatable and relocatable
// schemas. A recursive listing includes the parent chain.
func (src *Source) ListSchemas(recursive bool) (nonRelocatable, relocatable []string) {
	seen := make(map[string]bool)
	for s := src; s != nil; s = s.parent {
		for _, id := range s.order {
			if seen[id] {
				continue
			}
			seen[id] = true
			if s.schemas[id].IsRelocatable() {
				relocatable = append(relocatable, id)
			} else {
				nonRelocatable = append(nonRelocatable, id)
			}
		}
		if !recursive {
			break
		}
	}
	sort.Strings(nonRelocatable)
	sort.Strings(relocatable)
	return nonRelocatable, relocatable
}
