package schema

import (
	"errors"
	"fmt"

	"github.com/dshills/confstore/internal/strinfo"
	"github.com/dshills/confstore/internal/variant"
)

// Nick is one named value of an enum or flags type.
type Nick struct {
	Name  string
	Value int
}

// Alias maps an alternative nick to a canonical one.
type Alias struct {
	Alias  string
	Target string
}

// NewTable builds the nick table for an enum or flags type.
func NewTable(nicks []Nick, aliases []Alias) (*strinfo.Table, error) {
	b := strinfo.NewBuilder()
	for _, n := range nicks {
		if err := b.AppendItem(n.Name, uint32(int32(n.Value))); err != nil {
			return nil, err
		}
	}
	for _, a := range aliases {
		if err := b.AppendAlias(a.Alias, a.Target); err != nil {
			return nil, err
		}
	}
	return b.Table(), nil
}

// KeyOption configures a key added with Builder.Key.
type KeyOption func(*keySpec)

type keySpec struct {
	summary     string
	description string
	l10n        L10nCategory
	context     string

	constraint ConstraintKind
	min, max   string
	table      *strinfo.Table
	choices    []string
}

// WithSummary sets the key summary.
func WithSummary(s string) KeyOption {
	return func(k *keySpec) { k.summary = s }
}

// WithDescription sets the key description.
func WithDescription(s string) KeyOption {
	return func(k *keySpec) { k.description = s }
}

// WithL10n marks the default as translatable in the given category.
func WithL10n(category L10nCategory, context string) KeyOption {
	return func(k *keySpec) {
		k.l10n = category
		k.context = context
	}
}

// WithRange bounds a numeric key. Bounds are given in text form.
func WithRange(min, max string) KeyOption {
	return func(k *keySpec) {
		k.constraint = ConstraintRange
		k.min, k.max = min, max
	}
}

// WithEnum restricts a string key to the nicks of table.
func WithEnum(table *strinfo.Table) KeyOption {
	return func(k *keySpec) {
		k.constraint = ConstraintEnum
		k.table = table
	}
}

// WithFlags restricts a string array key to the nicks of table.
func WithFlags(table *strinfo.Table) KeyOption {
	return func(k *keySpec) {
		k.constraint = ConstraintFlags
		k.table = table
	}
}

// WithChoices restricts a string (or string array) key to a list of values.
func WithChoices(choices ...string) KeyOption {
	return func(k *keySpec) {
		k.constraint = ConstraintChoices
		k.choices = choices
	}
}

// Builder assembles a Schema.
type Builder struct {
	schema *Schema
	errs   []error

	skipDefaultCheck bool
}

// NewBuilder starts a schema with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{schema: &Schema{
		id:       id,
		keys:     make(map[string]*Key),
		children: make(map[string]string),
	}}
}

func (b *Builder) fail(key, format string, args ...any) *Builder {
	b.errs = append(b.errs, &DefinitionError{
		Schema:  b.schema.id,
		Key:     key,
		Message: fmt.Sprintf(format, args...),
	})
	return b
}

// Path sets the fixed path.
func (b *Builder) Path(path string) *Builder {
	if path != "" && !ValidPath(path) {
		return b.fail("", "invalid path '%s'", path)
	}
	b.schema.path = path
	return b
}

// GettextDomain sets the translation domain.
func (b *Builder) GettextDomain(domain string) *Builder {
	b.schema.gettextDomain = domain
	return b
}

// Extends makes the schema inherit the keys of another schema. The base is
// resolved when the schema is added to a source.
func (b *Builder) Extends(id string) *Builder {
	b.schema.extends = id
	return b
}

// ListOf records the schema id this schema is a list of.
func (b *Builder) ListOf(id string) *Builder {
	b.schema.listOf = id
	return b
}

// Child adds a child schema reference.
func (b *Builder) Child(name, schemaID string) *Builder {
	if name == "" || schemaID == "" {
		return b.fail("", "child needs a name and a schema")
	}
	if _, dup := b.schema.children[name]; dup {
		return b.fail("", "duplicate child '%s'", name)
	}
	b.schema.children[name] = schemaID
	b.schema.childOrder = append(b.schema.childOrder, name)
	return b
}

// Key adds a key of type typ whose default is given in text form.
func (b *Builder) Key(name string, typ variant.Type, def string, opts ...KeyOption) *Builder {
	var spec keySpec
	for _, opt := range opts {
		opt(&spec)
	}
	k, err := b.newKey(name, typ, def, &spec)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if _, dup := b.schema.keys[name]; dup {
		return b.fail(name, "duplicate key")
	}
	b.schema.keys[name] = k
	b.schema.keyOrder = append(b.schema.keyOrder, name)
	return b
}

func (b *Builder) newKey(name string, typ variant.Type, def string, spec *keySpec) (*Key, error) {
	defErr := func(format string, args ...any) error {
		return &DefinitionError{Schema: b.schema.id, Key: name, Message: fmt.Sprintf(format, args...)}
	}
	if name == "" {
		return nil, defErr("empty key name")
	}
	if !typ.IsValid() {
		return nil, defErr("invalid type '%s'", typ)
	}
	k := &Key{
		schemaID:    b.schema.id,
		name:        name,
		typ:         typ,
		defText:     def,
		summary:     spec.summary,
		description: spec.description,
		l10n:        spec.l10n,
		context:     spec.context,
		constraint:  spec.constraint,
	}

	v, err := variant.Parse(typ, def)
	if err != nil {
		return nil, defErr("failed to parse default value: %v", err)
	}
	k.def = v

	switch spec.constraint {
	case ConstraintRange:
		if !typ.IsNumeric() {
			return nil, defErr("<range> not allowed for keys of type '%s'", typ)
		}
		if k.min, err = variant.Parse(typ, spec.min); err != nil {
			return nil, defErr("invalid range minimum: %v", err)
		}
		if k.max, err = variant.Parse(typ, spec.max); err != nil {
			return nil, defErr("invalid range maximum: %v", err)
		}
		if c, _ := variant.Compare(k.min, k.max); c > 0 {
			return nil, defErr("range minimum is greater than maximum")
		}

	case ConstraintEnum:
		if typ != variant.TypeString {
			return nil, defErr("enumerated keys must have type 's'")
		}
		if spec.table == nil {
			return nil, defErr("enumerated key has no values")
		}
		k.table = spec.table

	case ConstraintFlags:
		if typ != variant.TypeStrv {
			return nil, defErr("flags keys must have type 'as'")
		}
		if spec.table == nil {
			return nil, defErr("flags key has no values")
		}
		k.table = spec.table

	case ConstraintChoices:
		if typ != variant.TypeString && typ != variant.TypeStrv {
			return nil, defErr("<choices> not allowed for keys of type '%s'", typ)
		}
		nicks := make([]Nick, len(spec.choices))
		for i, c := range spec.choices {
			nicks[i] = Nick{Name: c, Value: i}
		}
		if k.table, err = NewTable(nicks, nil); err != nil {
			return nil, defErr("invalid choices: %v", err)
		}
	}

	if !b.skipDefaultCheck {
		fixed, ok := k.Fixup(k.def)
		if !ok {
			return nil, defErr("default value %s is not permitted", def)
		}
		k.def = fixed
	}
	return k, nil
}

// Build returns the schema or the accumulated definition errors.
func (b *Builder) Build() (*Schema, error) {
	if b.schema.id == "" {
		b.fail("", "schema id is empty")
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return b.schema.clone(nil), nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
