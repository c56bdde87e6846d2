// Package binding keeps settings keys and object properties in sync.
//
// A Binder links one key of a settings instance to one property of a
// Target. Values flow from the key to the property, from the property to
// the key, or both, depending on the binding Flags. A property can only be
// bound once; binding it again replaces the earlier binding. Bindings are
// released by Unbind, by closing the settings instance, or by destroying a
// target that implements Destroyer.
package binding

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/schema"
	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

// Flags select the direction of a binding.
type Flags uint

const (
	// Default binds in both directions.
	Default Flags = 0

	// Get updates the property when the key changes.
	Get Flags = 1 << (iota - 1)

	// Set updates the key when the property changes.
	Set

	// GetNoChanges copies the key to the property once, at bind time.
	GetNoChanges

	// InvertBoolean negates boolean values in both directions.
	InvertBoolean
)

// Binding errors. Failures are also logged at error level.
var (
	ErrIncompatibleTypes = errors.New("incompatible types")
	ErrUnknownProperty   = errors.New("unknown property")
	ErrNotReadable       = errors.New("property is not readable")
	ErrNotWritable       = errors.New("property is not writable")
)

// Error describes a failed bind call.
type Error struct {
	Key      string
	Property string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Option configures a Binder.
type Option func(*Binder)

// WithLogger sets the logger for bind failures and rejected values.
func WithLogger(l logger.Logger) Option {
	return func(b *Binder) {
		b.log = l
	}
}

type bindingKey struct {
	target   Target
	property string
}

// Binder owns a set of bindings.
type Binder struct {
	log logger.Logger

	mu       sync.Mutex
	bindings map[bindingKey]*binding
}

// NewBinder creates an empty binder.
func NewBinder(opts ...Option) *Binder {
	b := &Binder{bindings: make(map[bindingKey]*binding)}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logger.OrDefault(b.log)
	return b
}

type binding struct {
	id       string
	binder   *Binder
	key      bindingKey
	settings *settings.Settings
	keyName  string
	skey     *schema.Key
	prop     Property
	invert   bool
	mapping  Mapping
	log      logger.Logger

	// running suppresses the echo of a value this binding is itself
	// copying to the other side.
	running atomic.Bool

	cleanups []func()
	release  sync.Once
}

func (b *Binder) fail(sentinel error, key, property, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	b.log.Error(msg)
	return &Error{Key: key, Property: property, Message: msg, Err: sentinel}
}

// Bind links key of s to property of target using the default conversions.
func (b *Binder) Bind(s *settings.Settings, key string, target Target, property string, flags Flags) error {
	return b.BindWithMapping(s, key, target, property, flags, Mapping{})
}

// BindWithMapping links key of s to property of target. Nil mapping
// functions use the default conversions, and the key and property types
// are checked only when one of the defaults is in use. m.Release runs when
// the binding is destroyed, or immediately if binding fails.
func (b *Binder) BindWithMapping(s *settings.Settings, key string, target Target, property string, flags Flags, m Mapping) error {
	bd, err := b.prepare(s, key, target, property, flags, m)
	if err != nil {
		if m.Release != nil {
			m.Release()
		}
		return err
	}
	b.install(bd)

	if flags&(Get|Set|GetNoChanges) == 0 {
		flags |= Get | Set
	}
	getting := flags&(Get|GetNoChanges) != 0
	tracking := flags&Get != 0 && flags&GetNoChanges == 0

	if flags&Set != 0 {
		cancel := target.Watch(property, bd.propertyChanged)
		bd.cleanups = append(bd.cleanups, cancel)
		if !getting {
			bd.propertyChanged()
		}
	}
	if tracking {
		h := s.OnChanged(key, func(string) { bd.keyChanged() })
		bd.cleanups = append(bd.cleanups, h.Disconnect)
	}
	if getting {
		bd.keyChanged()
	}
	bd.log.Debug("bound", "flags", uint(flags))
	return nil
}

func (b *Binder) prepare(s *settings.Settings, key string, target Target, property string, flags Flags, m Mapping) (*binding, error) {
	schemaID := s.Schema().ID()
	name := targetName(target)

	k, ok := s.Schema().Key(key)
	if !ok {
		return nil, b.fail(settings.ErrUnknownKey, key, property,
			"bind: key '%s' not found in schema '%s'", key, schemaID)
	}
	p, ok := target.Property(property)
	if !ok {
		return nil, b.fail(ErrUnknownProperty, key, property,
			"bind: no property '%s' on '%s'", property, name)
	}

	if flags&(Get|Set|GetNoChanges) == 0 {
		flags |= Get | Set
	}
	if flags&(Get|GetNoChanges) != 0 && p.Access&Writable == 0 {
		return nil, b.fail(ErrNotWritable, key, property,
			"bind: property '%s' on '%s' is not writable", property, name)
	}
	if flags&Set != 0 && p.Access&Readable == 0 {
		return nil, b.fail(ErrNotReadable, key, property,
			"bind: property '%s' on '%s' is not readable", property, name)
	}

	if flags&InvertBoolean != 0 {
		if k.Type() != variant.TypeBoolean {
			return nil, b.fail(ErrIncompatibleTypes, key, property,
				"bind: InvertBoolean was specified, but key '%s' on schema '%s' has type '%s'", key, schemaID, k.Type())
		}
		if p.Kind != KindBool {
			return nil, b.fail(ErrIncompatibleTypes, key, property,
				"bind: InvertBoolean was specified, but property '%s' on '%s' has kind %s", property, name, p.Kind)
		}
	} else if (m.ToProperty == nil || m.ToSetting == nil) && !compatible(p.Kind, k) {
		return nil, b.fail(ErrIncompatibleTypes, key, property,
			"bind: property '%s' on '%s' has kind %s which is not compatible with type '%s' of key '%s' on schema '%s'",
			property, name, p.Kind, k.Type(), key, schemaID)
	}

	id := uuid.NewString()
	return &binding{
		id:       id,
		binder:   b,
		key:      bindingKey{target: target, property: property},
		settings: s,
		keyName:  key,
		skey:     k,
		prop:     p,
		invert:   flags&InvertBoolean != 0,
		mapping:  m,
		log:      b.log.With("binding", id, "schema", schemaID, "key", key, "property", property),
	}, nil
}

// install registers bd, replacing any binding of the same property, and
// arranges for it to be destroyed with the settings instance or target.
func (b *Binder) install(bd *binding) {
	b.Unbind(bd.key.target, bd.key.property)

	h := bd.settings.OnClose(bd.destroy)
	bd.cleanups = append(bd.cleanups, h.Disconnect)
	if d, ok := bd.key.target.(Destroyer); ok {
		bd.cleanups = append(bd.cleanups, d.OnDestroy(bd.destroy))
	}

	b.mu.Lock()
	b.bindings[bd.key] = bd
	b.mu.Unlock()
}

// BindWritable links the writability of key to a boolean property, which
// is set to whether the key is writable, or the opposite when inverted.
func (b *Binder) BindWritable(s *settings.Settings, key string, target Target, property string, invert bool) error {
	name := targetName(target)
	if _, ok := s.Schema().Key(key); !ok {
		return b.fail(settings.ErrUnknownKey, key, property,
			"bind writable: key '%s' not found in schema '%s'", key, s.Schema().ID())
	}
	p, ok := target.Property(property)
	if !ok {
		return b.fail(ErrUnknownProperty, key, property,
			"bind writable: no property '%s' on '%s'", property, name)
	}
	if p.Kind != KindBool {
		return b.fail(ErrIncompatibleTypes, key, property,
			"bind writable: property '%s' on '%s' has kind %s (expected bool)", property, name, p.Kind)
	}
	if p.Access&Writable == 0 {
		return b.fail(ErrNotWritable, key, property,
			"bind writable: property '%s' on '%s' is not writable", property, name)
	}

	id := uuid.NewString()
	bd := &binding{
		id:       id,
		binder:   b,
		key:      bindingKey{target: target, property: property},
		settings: s,
		keyName:  key,
		prop:     p,
		invert:   invert,
		log:      b.log.With("binding", id, "schema", s.Schema().ID(), "key", key, "property", property),
	}
	b.install(bd)

	h := s.OnWritableChanged(key, func(string) { bd.writableChanged() })
	bd.cleanups = append(bd.cleanups, h.Disconnect)
	bd.writableChanged()
	return nil
}

// Unbind destroys the binding of a property. It does nothing when the
// property is not bound.
func (b *Binder) Unbind(target Target, property string) {
	b.mu.Lock()
	bd := b.bindings[bindingKey{target: target, property: property}]
	b.mu.Unlock()
	if bd != nil {
		bd.destroy()
	}
}

// Bound reports whether a property is bound.
func (b *Binder) Bound(target Target, property string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bindings[bindingKey{target: target, property: property}]
	return ok
}

// Len returns the number of live bindings.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

// Close destroys every binding.
func (b *Binder) Close() {
	b.mu.Lock()
	all := make([]*binding, 0, len(b.bindings))
	for _, bd := range b.bindings {
		all = append(all, bd)
	}
	b.mu.Unlock()
	for _, bd := range all {
		bd.destroy()
	}
}

func (bd *binding) destroy() {
	bd.release.Do(func() {
		b := bd.binder
		b.mu.Lock()
		if b.bindings[bd.key] == bd {
			delete(b.bindings, bd.key)
		}
		b.mu.Unlock()

		for _, fn := range bd.cleanups {
			fn()
		}
		if bd.mapping.Release != nil {
			bd.mapping.Release()
		}
		bd.log.Debug("unbound")
	})
}

// keyChanged copies the key's value to the property.
func (bd *binding) keyChanged() {
	if !bd.running.CompareAndSwap(false, true) {
		return
	}
	defer bd.running.Store(false)

	value, err := bd.settings.Value(bd.keyName)
	if err != nil {
		return
	}
	if bd.invert {
		value = variant.NewBool(!value.Bool())
	}

	var out any
	var ok bool
	if bd.mapping.ToProperty != nil {
		out, ok = bd.mapping.ToProperty(value, bd.prop.Kind)
	} else {
		out, ok = toProperty(bd.skey, value, bd.prop.Kind)
	}
	if !ok {
		bd.log.Debug("mapping declined settings value", "value", value.String())
		return
	}
	if !bd.prop.Kind.Accepts(out) {
		bd.log.Error(fmt.Sprintf("binding mapping function for key '%s' returned a %T when property '%s' has kind %s",
			bd.keyName, out, bd.prop.Name, bd.prop.Kind))
		return
	}
	if err := bd.key.target.Set(bd.prop.Name, out); err != nil {
		bd.log.Warn("property rejected settings value", "error", err)
	}
}

// propertyChanged copies the property's value to the key.
func (bd *binding) propertyChanged() {
	if !bd.running.CompareAndSwap(false, true) {
		return
	}
	defer bd.running.Store(false)

	in, err := bd.key.target.Get(bd.prop.Name)
	if err != nil {
		bd.log.Warn("reading bound property", "error", err)
		return
	}
	if bd.invert {
		b, _ := in.(bool)
		in = !b
	}

	typ := bd.skey.Type()
	var value variant.Value
	var ok bool
	if bd.mapping.ToSetting != nil {
		value, ok = bd.mapping.ToSetting(in, typ)
	} else {
		value, ok = toSetting(bd.skey, in, typ)
	}
	if !ok {
		bd.log.Debug("mapping declined property value")
		return
	}
	if value.Type() != typ {
		bd.log.Error(fmt.Sprintf("binding mapping function for key '%s' returned value of type '%s' when type '%s' was requested",
			bd.keyName, value.Type(), typ))
		return
	}
	if !bd.skey.RangeCheck(value) {
		bd.log.Error(fmt.Sprintf("property '%s' on '%s' is out of schema-specified range for key '%s' of '%s': %s",
			bd.prop.Name, targetName(bd.key.target), bd.keyName, bd.settings.Schema().ID(), value.Print(false)))
		return
	}
	if err := bd.settings.Set(bd.keyName, value); err != nil {
		bd.log.Warn("settings rejected property value", "error", err)
	}
}

// writableChanged copies the key's writability to the property.
func (bd *binding) writableChanged() {
	w := bd.settings.IsWritable(bd.keyName)
	if err := bd.key.target.Set(bd.prop.Name, w != bd.invert); err != nil {
		bd.log.Warn("property rejected writability", "error", err)
	}
}
