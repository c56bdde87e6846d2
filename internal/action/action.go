// Package action exposes settings keys as stateful actions.
//
// An action is named after its key and carries the key's value as its
// state. It is enabled while the key is writable. Activating a boolean
// action toggles it; any other action is activated with a parameter of the
// key's type, which becomes the new value.
package action

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

// Errors returned by actions.
var (
	ErrInvalidParameter = errors.New("invalid action parameter")
	ErrDisabled         = errors.New("action is disabled")
	ErrUnknownAction    = errors.New("unknown action")
)

// Action is a settings key seen as an action.
type Action struct {
	settings *settings.Settings
	name     string
	typ      variant.Type

	mu        sync.Mutex
	onState   map[uint64]func(variant.Value)
	onEnabled map[uint64]func(bool)
	nextID    uint64
	closed    bool

	changed  settings.Handle
	writable settings.Handle
}

// New creates the action for key. It fails if the schema has no such key.
func New(s *settings.Settings, key string) (*Action, error) {
	def, err := s.DefaultValue(key)
	if err != nil {
		return nil, err
	}
	a := &Action{
		settings:  s,
		name:      key,
		typ:       def.Type(),
		onState:   make(map[uint64]func(variant.Value)),
		onEnabled: make(map[uint64]func(bool)),
	}
	a.changed = s.OnChanged(key, func(string) { a.stateChanged() })
	a.writable = s.OnWritableChanged(key, func(string) { a.enabledChanged() })
	return a, nil
}

// Name returns the action name, which is the key name.
func (a *Action) Name() string { return a.name }

// ParameterType returns the type of the activation parameter. Boolean
// actions take no parameter and report false.
func (a *Action) ParameterType() (variant.Type, bool) {
	if a.typ == variant.TypeBoolean {
		return "", false
	}
	return a.typ, true
}

// StateType returns the key type.
func (a *Action) StateType() variant.Type { return a.typ }

// State returns the key's current value.
func (a *Action) State() variant.Value {
	v, _ := a.settings.Value(a.name)
	return v
}

// Enabled reports whether the key is writable.
func (a *Action) Enabled() bool {
	return a.settings.IsWritable(a.name)
}

// StateHint returns the values the key accepts, as reported by
// settings.Settings.Range.
func (a *Action) StateHint() variant.Value {
	r, _ := a.settings.Range(a.name)
	return r
}

// Activate toggles a boolean action, or sets the key to param.
func (a *Action) Activate(param *variant.Value) error {
	if !a.Enabled() {
		return fmt.Errorf("%w: %s", ErrDisabled, a.name)
	}
	if a.typ == variant.TypeBoolean {
		if param != nil {
			return fmt.Errorf("%w: action '%s' takes no parameter", ErrInvalidParameter, a.name)
		}
		return a.settings.Set(a.name, variant.NewBool(!a.State().Bool()))
	}
	if param == nil || param.Type() != a.typ {
		return fmt.Errorf("%w: action '%s' expects a parameter of type '%s'", ErrInvalidParameter, a.name, a.typ)
	}
	return a.settings.Set(a.name, *param)
}

// ChangeState sets the key to value. Values outside the key's range are
// ignored.
func (a *Action) ChangeState(value variant.Value) error {
	ok, err := a.settings.RangeCheck(a.name, value)
	if err != nil || !ok {
		return err
	}
	return a.settings.Set(a.name, value)
}

// OnStateChanged calls fn with the new state whenever the key changes.
func (a *Action) OnStateChanged(fn func(variant.Value)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.onState[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.onState, id)
	}
}

// OnEnabledChanged calls fn whenever the key's writability may have
// changed.
func (a *Action) OnEnabledChanged(fn func(bool)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.onEnabled[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.onEnabled, id)
	}
}

func (a *Action) stateChanged() {
	a.mu.Lock()
	fns := make([]func(variant.Value), 0, len(a.onState))
	for _, fn := range a.onState {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	state := a.State()
	for _, fn := range fns {
		fn(state)
	}
}

func (a *Action) enabledChanged() {
	a.mu.Lock()
	fns := make([]func(bool), 0, len(a.onEnabled))
	for _, fn := range a.onEnabled {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	enabled := a.Enabled()
	for _, fn := range fns {
		fn(enabled)
	}
}

// Close stops following the key.
func (a *Action) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.onState = make(map[uint64]func(variant.Value))
	a.onEnabled = make(map[uint64]func(bool))
	a.mu.Unlock()

	a.changed.Disconnect()
	a.writable.Disconnect()
}
