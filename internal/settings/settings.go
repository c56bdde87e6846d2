// Package settings provides typed access to a schema's keys stored in a
// backend.
//
// A Settings instance pairs a schema with a path and a backend. Values are
// validated against the schema on every write and fixed up on every read,
// so callers only ever observe values that satisfy the key's constraint.
// Instances sharing a backend and path see each other's writes through
// change notifications.
//
// An instance switched to delay-apply mode with Delay buffers its writes in
// an overlay until Apply commits them atomically or Revert drops them.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/backend/delayed"
	"github.com/dshills/confstore/internal/l10n"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/schema"
	"github.com/dshills/confstore/internal/variant"
)

// Option configures a Settings instance.
type Option func(*options)

type options struct {
	path string
	log  logger.Logger
	tr   l10n.Translator
}

// WithPath sets the path of the instance. Required for relocatable
// schemas; for fixed-path schemas it must equal the schema path.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithLogger sets the logger that receives diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTranslator sets the translator used for localized defaults.
func WithTranslator(t l10n.Translator) Option {
	return func(o *options) { o.tr = t }
}

// Settings gives validated access to the keys of one schema at one path.
type Settings struct {
	schema *schema.Schema
	path   string
	base   logger.Logger
	log    logger.Logger
	tr     l10n.Translator
	origin string

	mu          sync.Mutex
	backend     backend.Backend
	direct      backend.Backend
	overlay     *delayed.Backend
	ownsOverlay bool
	sub         *notify.Subscription
	handlers    []handler
	nextID      uint64
	closed      bool
}

// New creates an instance of sch on b. When b is a delay-apply overlay the
// instance starts out delayed and shares the overlay.
func New(sch *schema.Schema, b backend.Backend, opts ...Option) (*Settings, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrDefault(o.log)

	path, err := resolvePath(sch, o.path)
	if err != nil {
		log.Error(err.Error(), "schema", sch.ID())
		return nil, err
	}

	s := &Settings{
		schema:  sch,
		path:    path,
		base:    log,
		log:     log.With("schema", sch.ID(), "path", path),
		tr:      o.tr,
		origin:  uuid.NewString(),
		backend: b,
		direct:  b,
	}
	if ov, ok := b.(*delayed.Backend); ok {
		s.overlay = ov
		s.direct = ov.Underlying()
	}
	s.sub = b.Subscribe(path, s.handleEvent)
	return s, nil
}

// NewFromSource looks id up in src, recursively, and creates an instance.
func NewFromSource(src *schema.Source, id string, b backend.Backend, opts ...Option) (*Settings, error) {
	sch, ok := src.Lookup(id, true)
	if !ok {
		var o options
		for _, opt := range opts {
			opt(&o)
		}
		err := &Error{Schema: id, Message: fmt.Sprintf("Settings schema '%s' is not installed", id), Err: ErrNotInstalled}
		logger.OrDefault(o.log).Error(err.Message)
		return nil, err
	}
	return New(sch, b, opts...)
}

func resolvePath(sch *schema.Schema, path string) (string, error) {
	id := sch.ID()
	switch {
	case path == "" && sch.IsRelocatable():
		return "", &Error{Schema: id, Err: ErrNoPath,
			Message: fmt.Sprintf("attempting to create schema '%s' without a path", id)}
	case path == "":
		return sch.Path(), nil
	case !schema.ValidPath(path):
		return "", &Error{Schema: id, Err: ErrInvalidPath,
			Message: fmt.Sprintf("attempting to create schema '%s' with invalid path '%s'", id, path)}
	case !sch.IsRelocatable() && path != sch.Path():
		return "", &Error{Schema: id, Err: ErrWrongPath,
			Message: fmt.Sprintf("settings object created with schema '%s' and path '%s', but path '%s' specified by schema", id, path, sch.Path())}
	}
	return path, nil
}

// Schema returns the instance's schema.
func (s *Settings) Schema() *schema.Schema { return s.schema }

// Path returns the path the keys live under.
func (s *Settings) Path() string { return s.path }

// Origin returns the tag attached to writes made through this instance.
func (s *Settings) Origin() string { return s.origin }

// Logger returns the instance logger.
func (s *Settings) Logger() logger.Logger { return s.log }

// ListKeys returns the schema's key names.
func (s *Settings) ListKeys() []string { return s.schema.ListKeys() }

// ListChildren returns the schema's child names.
func (s *Settings) ListChildren() []string { return s.schema.ListChildren() }

func (s *Settings) current() backend.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// fail logs a contract violation and returns it as an error.
func (s *Settings) fail(sentinel error, key, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	s.log.Error(msg)
	return &Error{Schema: s.schema.ID(), Key: key, Message: msg, Err: sentinel}
}

func (s *Settings) key(name string) (*schema.Key, error) {
	k, ok := s.schema.Key(name)
	if !ok {
		return nil, s.fail(ErrUnknownKey, name,
			"settings schema '%s' does not contain a key named '%s'", s.schema.ID(), name)
	}
	return k, nil
}

// read returns the fixed-up stored value of k from b.
func (s *Settings) read(b backend.Backend, k *schema.Key) (variant.Value, bool) {
	v, ok := b.Read(s.path+k.Name(), k.Type())
	if !ok {
		return variant.Value{}, false
	}
	fixed, ok := k.Fixup(v)
	if !ok {
		s.log.Debug("ignoring stored value outside the key's constraint", "key", k.Name(), "value", v.String())
		return variant.Value{}, false
	}
	return fixed, true
}

// defaultValue returns the default of k, translated when the key is
// localized and a translator is set.
func (s *Settings) defaultValue(k *schema.Key) variant.Value {
	if k.L10n() == schema.L10nNone || s.tr == nil {
		return k.DefaultValue()
	}
	text := k.DefaultText()
	translated := s.tr.Translate(s.schema.GettextDomain(), k.Context(), text)
	if translated == text {
		return k.DefaultValue()
	}
	v, err := variant.Parse(k.Type(), translated)
	if err == nil {
		if fixed, ok := k.Fixup(v); ok {
			return fixed
		}
		err = errors.New("value is outside of the valid range")
	}
	s.log.Warn(fmt.Sprintf("Failed to parse translated string '%s' for key '%s' in schema '%s': %v",
		translated, k.Name(), s.schema.ID(), err))
	s.log.Warn("Using untranslated default instead.")
	return k.DefaultValue()
}

// Value returns the effective value of a key: a pending write when
// delayed, else the stored value, else the default.
func (s *Settings) Value(name string) (variant.Value, error) {
	k, err := s.key(name)
	if err != nil {
		return variant.Value{}, err
	}
	if v, ok := s.read(s.current(), k); ok {
		return v, nil
	}
	return s.defaultValue(k), nil
}

// Get returns the value of a key, failing if the key does not have type typ.
func (s *Settings) Get(name string, typ variant.Type) (variant.Value, error) {
	k, err := s.key(name)
	if err != nil {
		return variant.Value{}, err
	}
	if k.Type() != typ {
		return variant.Value{}, s.fail(ErrTypeMismatch, name,
			"key '%s' in '%s' has type '%s', but type '%s' was requested", name, s.schema.ID(), k.Type(), typ)
	}
	return s.Value(name)
}

// UserValue returns the value stored for a key, ignoring any pending
// delayed writes. ok is false when nothing is stored and the key reads as
// its default.
func (s *Settings) UserValue(name string) (value variant.Value, ok bool, err error) {
	k, err := s.key(name)
	if err != nil {
		return variant.Value{}, false, err
	}
	s.mu.Lock()
	direct := s.direct
	s.mu.Unlock()
	value, ok = s.read(direct, k)
	return value, ok, nil
}

// DefaultValue returns the key's default, translated if localized.
func (s *Settings) DefaultValue(name string) (variant.Value, error) {
	k, err := s.key(name)
	if err != nil {
		return variant.Value{}, err
	}
	return s.defaultValue(k), nil
}

// Set validates value against the key and writes it. A delayed instance
// records the write as pending.
func (s *Settings) Set(name string, value variant.Value) error {
	k, err := s.key(name)
	if err != nil {
		return err
	}
	if value.Type() != k.Type() {
		return s.fail(ErrTypeMismatch, name,
			"key '%s' in '%s' expects type '%s', but a value of type '%s' was given",
			name, s.schema.ID(), k.Type(), value.Type())
	}
	if !value.ValidUTF8() {
		return s.fail(ErrInvalidValue, name,
			"value for key '%s' in schema '%s' contains a string that is not valid UTF-8", name, s.schema.ID())
	}
	fixed, ok := k.Validate(value)
	if !ok {
		return s.fail(ErrOutOfRange, name,
			"value for key '%s' in schema '%s' is outside of valid range", name, s.schema.ID())
	}
	return s.write(name, &fixed)
}

// Reset removes any stored value so the key reads as its default. A
// delayed instance records a pending reset.
func (s *Settings) Reset(name string) error {
	if _, err := s.key(name); err != nil {
		return err
	}
	return s.write(name, nil)
}

func (s *Settings) write(name string, value *variant.Value) error {
	err := s.current().Write(s.path+name, value, s.origin)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.ErrNotWritable):
		return &Error{Schema: s.schema.ID(), Key: name, Err: ErrNotWritable,
			Message: fmt.Sprintf("key '%s' in '%s' is not writable", name, s.schema.ID())}
	default:
		return fmt.Errorf("writing key '%s' in '%s': %w", name, s.schema.ID(), err)
	}
}

// IsWritable reports whether the backend accepts writes to the key. The
// name is not checked against the schema.
func (s *Settings) IsWritable(name string) bool {
	return s.current().IsWritable(s.path + name)
}

// Delay switches the instance to delay-apply mode. Children created
// afterwards share the overlay. Calling Delay again has no effect.
func (s *Settings) Delay() {
	s.mu.Lock()
	if s.overlay != nil || s.closed {
		s.mu.Unlock()
		return
	}
	ov := delayed.New(s.backend)
	ov.OnUnappliedChanged(s.notifyUnapplied)
	old := s.sub
	s.backend = ov
	s.overlay = ov
	s.ownsOverlay = true
	s.sub = ov.Subscribe(s.path, s.handleEvent)
	s.mu.Unlock()

	old.Unsubscribe()
	s.log.Debug("entered delay-apply mode")
}

// DelayApply reports whether the instance is in delay-apply mode.
func (s *Settings) DelayApply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay != nil
}

// HasUnapplied reports whether delayed writes are pending.
func (s *Settings) HasUnapplied() bool {
	s.mu.Lock()
	ov := s.overlay
	s.mu.Unlock()
	return ov != nil && ov.HasUnapplied()
}

// Apply commits pending writes to the backend in one atomic write. Every
// instance on the backend, this one included, is notified once with all
// the changed keys. On failure the writes stay pending. Apply on a direct
// instance does nothing.
func (s *Settings) Apply() error {
	s.mu.Lock()
	ov := s.overlay
	s.mu.Unlock()
	if ov == nil {
		return nil
	}
	if err := ov.Apply(s.origin); err != nil {
		s.log.Warn("applying pending changes failed", "error", err)
		return fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}
	return nil
}

// Revert drops pending writes. Keys that had pending writes are announced
// as changed.
func (s *Settings) Revert() {
	s.mu.Lock()
	ov := s.overlay
	s.mu.Unlock()
	if ov != nil {
		ov.Revert()
	}
}

// Sync flushes the backend.
func (s *Settings) Sync() error {
	s.mu.Lock()
	direct := s.direct
	s.mu.Unlock()
	return direct.Sync()
}

// Child returns an instance of the named child schema at
// path + name + "/". Children of a delayed instance share its overlay.
func (s *Settings) Child(name string) (*Settings, error) {
	id, ok := s.schema.ChildSchemaID(name)
	if !ok {
		return nil, s.fail(ErrUnknownChild, "",
			"settings schema '%s' has no child schema named '%s'", s.schema.ID(), name)
	}
	src := s.schema.Source()
	var sch *schema.Schema
	if src != nil {
		sch, ok = src.Lookup(id, true)
	}
	if !ok {
		return nil, s.fail(ErrNotInstalled, "", "Settings schema '%s' is not installed", id)
	}
	return New(sch, s.current(), WithPath(s.path+name+"/"), WithLogger(s.base), WithTranslator(s.tr))
}

// MappingFunc converts a candidate value. It is called with nil as a last
// resort and reports whether it accepted the value.
type MappingFunc func(value *variant.Value) (any, bool)

// GetMapped offers fn the current value, then the default, then nil, and
// returns the first result fn accepts.
func (s *Settings) GetMapped(name string, fn MappingFunc) (any, error) {
	k, err := s.key(name)
	if err != nil {
		return nil, err
	}
	if v, ok := s.read(s.current(), k); ok {
		if out, ok := fn(&v); ok {
			return out, nil
		}
	}
	def := s.defaultValue(k)
	if out, ok := fn(&def); ok {
		return out, nil
	}
	if raw := k.DefaultValue(); !variant.Equal(raw, def) {
		if out, ok := fn(&raw); ok {
			return out, nil
		}
	}
	if out, ok := fn(nil); ok {
		return out, nil
	}
	return nil, s.fail(ErrInvalidValue, name,
		"The mapping function given to GetMapped() for key '%s' in schema '%s' returned false when given a nil value.",
		name, s.schema.ID())
}

// Range describes the values the key accepts.
func (s *Settings) Range(name string) (variant.Value, error) {
	k, err := s.key(name)
	if err != nil {
		return variant.Value{}, err
	}
	return k.Range(), nil
}

// RangeCheck reports whether value may be written to the key.
func (s *Settings) RangeCheck(name string, value variant.Value) (bool, error) {
	k, err := s.key(name)
	if err != nil {
		return false, err
	}
	return k.RangeCheck(value), nil
}

// Enum returns the integer of an enum key's current nick.
func (s *Settings) Enum(name string) (int, error) {
	k, err := s.key(name)
	if err != nil {
		return 0, err
	}
	if !k.IsEnum() {
		return 0, s.fail(ErrNotEnum, name,
			"Enum() called on key '%s' which is not associated with an enumerated type", name)
	}
	v, _ := s.Value(name)
	n, ok := k.EnumValue(v)
	if !ok {
		return 0, s.fail(ErrInvalidValue, name, "key '%s' holds '%s', which is not a valid enum nick", name, v.Str())
	}
	return n, nil
}

// SetEnum writes the nick of an enum integer.
func (s *Settings) SetEnum(name string, value int) error {
	k, err := s.key(name)
	if err != nil {
		return err
	}
	if !k.IsEnum() {
		return s.fail(ErrNotEnum, name,
			"SetEnum() called on key '%s' which is not associated with an enumerated type", name)
	}
	nick, ok := k.EnumNick(value)
	if !ok {
		return s.fail(ErrInvalidValue, name,
			"SetEnum(): invalid enum value %d for key '%s' in schema '%s'.  Doing nothing.", value, name, s.schema.ID())
	}
	v := variant.NewString(nick)
	return s.write(name, &v)
}

// Flags returns the bit mask of a flags key's current nicks.
func (s *Settings) Flags(name string) (uint32, error) {
	k, err := s.key(name)
	if err != nil {
		return 0, err
	}
	if !k.IsFlags() {
		return 0, s.fail(ErrNotFlags, name,
			"Flags() called on key '%s' which is not associated with a flags type", name)
	}
	v, _ := s.Value(name)
	n, ok := k.FlagsValue(v)
	if !ok {
		return 0, s.fail(ErrInvalidValue, name, "key '%s' holds %s, which are not valid flags nicks", name, v.String())
	}
	return n, nil
}

// SetFlags writes the nicks of a flags bit mask.
func (s *Settings) SetFlags(name string, value uint32) error {
	k, err := s.key(name)
	if err != nil {
		return err
	}
	if !k.IsFlags() {
		return s.fail(ErrNotFlags, name,
			"SetFlags() called on key '%s' which is not associated with a flags type", name)
	}
	nicks, ok := k.FlagsNicks(value)
	if !ok {
		return s.fail(ErrInvalidValue, name,
			"SetFlags(): invalid flags value 0x%08x for key '%s' in schema '%s'.  Doing nothing.", value, name, s.schema.ID())
	}
	v := variant.NewStrv(nicks)
	return s.write(name, &v)
}

// Close detaches the instance from its backend and runs close handlers,
// which release any bindings made against it. An overlay created by Delay
// is discarded together with its pending writes.
func (s *Settings) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	ov := s.overlay
	owns := s.ownsOverlay
	s.mu.Unlock()

	sub.Unsubscribe()
	s.runCloseHandlers()
	if owns {
		return ov.Close()
	}
	return nil
}
