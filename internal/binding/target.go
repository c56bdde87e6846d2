package binding

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/confstore/internal/variant"
)

// Kind is the value type of a target property.
type Kind int

const (
	KindBool Kind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindStrv
	KindEnum
	KindFlags
	KindVariant
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindUint8:
		return "uint8"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindStrv:
		return "strv"
	case KindEnum:
		return "enum"
	case KindFlags:
		return "flags"
	case KindVariant:
		return "variant"
	default:
		return "unknown"
	}
}

// Zero returns the zero value of the kind's Go representation: bool,
// int8 … uint64, float64, string, []string, int (enum), uint32 (flags) or
// variant.Value.
func (k Kind) Zero() any {
	switch k {
	case KindBool:
		return false
	case KindInt8:
		return int8(0)
	case KindUint8:
		return uint8(0)
	case KindInt16:
		return int16(0)
	case KindUint16:
		return uint16(0)
	case KindInt32:
		return int32(0)
	case KindUint32:
		return uint32(0)
	case KindInt64:
		return int64(0)
	case KindUint64:
		return uint64(0)
	case KindFloat64:
		return float64(0)
	case KindString:
		return ""
	case KindStrv:
		return []string{}
	case KindEnum:
		return 0
	case KindFlags:
		return uint32(0)
	case KindVariant:
		return variant.Value{}
	}
	return nil
}

// Accepts reports whether v has the Go type used for the kind.
func (k Kind) Accepts(v any) bool {
	switch v.(type) {
	case bool:
		return k == KindBool
	case int8:
		return k == KindInt8
	case uint8:
		return k == KindUint8
	case int16:
		return k == KindInt16
	case uint16:
		return k == KindUint16
	case int32:
		return k == KindInt32
	case uint32:
		return k == KindUint32 || k == KindFlags
	case int64:
		return k == KindInt64
	case uint64:
		return k == KindUint64
	case float64:
		return k == KindFloat64
	case string:
		return k == KindString
	case []string:
		return k == KindStrv
	case int:
		return k == KindEnum
	case variant.Value:
		return k == KindVariant
	}
	return false
}

// Access says which operations a property allows.
type Access uint8

const (
	Readable Access = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

// Property describes one named, typed property of a target.
type Property struct {
	Name   string
	Kind   Kind
	Access Access

	// Validate, if set, rejects values the property does not accept.
	Validate func(value any) error
}

// Target is an object with named, typed and observable properties that
// settings keys can be bound to. Targets are used as map keys and must be
// comparable; pointer types are.
type Target interface {
	// Property returns the descriptor of the named property.
	Property(name string) (Property, bool)

	// Get returns the current value of a readable property.
	Get(name string) (any, error)

	// Set changes a writable property and notifies its watchers.
	Set(name string, value any) error

	// Watch calls fn after every change of the named property until the
	// returned cancel function is called.
	Watch(name string, fn func()) (cancel func())
}

// Destroyer is implemented by targets that announce their destruction.
// Bindings to such a target are released when it is destroyed.
type Destroyer interface {
	OnDestroy(fn func()) (cancel func())
}

// Named is implemented by targets with a name for diagnostics.
type Named interface {
	Name() string
}

func targetName(t Target) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", t)
}

// Object is a ready-made Target: a bag of typed properties with change
// notification. It is safe for concurrent use.
type Object struct {
	name string

	mu        sync.Mutex
	props     map[string]Property
	values    map[string]any
	watchers  map[string]map[uint64]func()
	onDestroy map[uint64]func()
	nextID    uint64
	destroyed bool
}

// NewObject creates an object with the given properties set to the zero
// value of their kind.
func NewObject(name string, props ...Property) *Object {
	o := &Object{
		name:      name,
		props:     make(map[string]Property, len(props)),
		values:    make(map[string]any, len(props)),
		watchers:  make(map[string]map[uint64]func()),
		onDestroy: make(map[uint64]func()),
	}
	for _, p := range props {
		o.props[p.Name] = p
		o.values[p.Name] = p.Kind.Zero()
	}
	return o
}

// Name returns the object name.
func (o *Object) Name() string { return o.name }

// Property returns the descriptor of the named property.
func (o *Object) Property(name string) (Property, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.props[name]
	return p, ok
}

// Get returns a property value. Strv values are copies.
func (o *Object) Get(name string) (any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s' on '%s'", ErrUnknownProperty, name, o.name)
	}
	if p.Access&Readable == 0 {
		return nil, fmt.Errorf("%w: property '%s' on '%s'", ErrNotReadable, name, o.name)
	}
	return copyValue(o.values[name]), nil
}

// Set changes a writable property and notifies its watchers, even when the
// value is unchanged.
func (o *Object) Set(name string, value any) error {
	return o.store(name, value, true)
}

// Update changes a property from the object's own side, ignoring its
// access flags.
func (o *Object) Update(name string, value any) error {
	return o.store(name, value, false)
}

func (o *Object) store(name string, value any, checkAccess bool) error {
	o.mu.Lock()
	p, ok := o.props[name]
	switch {
	case !ok:
		o.mu.Unlock()
		return fmt.Errorf("%w: '%s' on '%s'", ErrUnknownProperty, name, o.name)
	case checkAccess && p.Access&Writable == 0:
		o.mu.Unlock()
		return fmt.Errorf("%w: property '%s' on '%s'", ErrNotWritable, name, o.name)
	case !p.Kind.Accepts(value):
		o.mu.Unlock()
		return fmt.Errorf("%w: property '%s' on '%s' has kind %s, got %T",
			ErrIncompatibleTypes, name, o.name, p.Kind, value)
	}
	if p.Validate != nil {
		if err := p.Validate(value); err != nil {
			o.mu.Unlock()
			return fmt.Errorf("property '%s' on '%s': %w", name, o.name, err)
		}
	}
	o.values[name] = copyValue(value)
	var fns []func()
	for _, fn := range o.watchers[name] {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	// Call watchers outside the lock
	for _, fn := range fns {
		fn()
	}
	return nil
}

// Watch calls fn after every change of the named property.
func (o *Object) Watch(name string, fn func()) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	if o.watchers[name] == nil {
		o.watchers[name] = make(map[uint64]func())
	}
	o.watchers[name][id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.watchers[name], id)
	}
}

// OnDestroy registers fn to run when the object is destroyed.
func (o *Object) OnDestroy(fn func()) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.onDestroy[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.onDestroy, id)
	}
}

// Destroy runs the destroy callbacks once and drops all watchers.
func (o *Object) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	var fns []func()
	for _, fn := range o.onDestroy {
		fns = append(fns, fn)
	}
	o.onDestroy = make(map[uint64]func())
	o.watchers = make(map[string]map[uint64]func())
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func copyValue(v any) any {
	if s, ok := v.([]string); ok {
		return slices.Clone(s)
	}
	return v
}
