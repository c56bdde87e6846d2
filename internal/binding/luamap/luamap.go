// Package luamap builds binding mappings from Lua scripts.
//
// A script defines one or both of the global functions
//
//	function to_property(value, kind) ... end
//	function to_setting(value, type) ... end
//
// to_property receives the settings value and the property kind name
// ("bool", "int32", "strv", ...) and returns the property value.
// to_setting receives the property value and the key's type signature and
// returns the settings value. Returning nil declines the update. A missing
// function leaves that direction to the default conversion.
//
// Values cross the boundary as Lua booleans, numbers, strings and arrays
// of strings. A string returned for a key whose type is not a string type
// is parsed in the value text format, so "[1, 2]" yields an array.
package luamap

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/confstore/internal/binding"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/variant"
)

const (
	toPropertyFunc = "to_property"
	toSettingFunc  = "to_setting"
)

// ErrNoFunctions is returned for scripts defining neither mapping function.
var ErrNoFunctions = errors.New("script defines neither to_property nor to_setting")

// Option configures a mapping.
type Option func(*mapper)

// WithLogger sets the logger for script errors.
func WithLogger(l logger.Logger) Option {
	return func(m *mapper) {
		m.log = l
	}
}

// mapper owns one Lua state. gopher-lua states are not goroutine-safe, so
// every call holds mu.
type mapper struct {
	mu     sync.Mutex
	L      *lua.LState
	log    logger.Logger
	closed bool
}

// New runs script in a fresh Lua state and returns a mapping calling its
// functions. The state is closed by the mapping's Release.
func New(script string, opts ...Option) (binding.Mapping, error) {
	m := &mapper{}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrDefault(m.log)

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	m.L = L

	if err := doWithRecovery(func() error { return L.DoString(script) }); err != nil {
		L.Close()
		return binding.Mapping{}, fmt.Errorf("loading mapping script: %w", err)
	}

	var out binding.Mapping
	if fn, ok := L.GetGlobal(toPropertyFunc).(*lua.LFunction); ok {
		out.ToProperty = func(value variant.Value, kind binding.Kind) (any, bool) {
			return m.toProperty(fn, value, kind)
		}
	}
	if fn, ok := L.GetGlobal(toSettingFunc).(*lua.LFunction); ok {
		out.ToSetting = func(value any, typ variant.Type) (variant.Value, bool) {
			return m.toSetting(fn, value, typ)
		}
	}
	if out.ToProperty == nil && out.ToSetting == nil {
		L.Close()
		return binding.Mapping{}, ErrNoFunctions
	}
	out.Release = m.close
	return out, nil
}

// openSafeLibraries opens the base, table, string and math libraries only.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// call runs fn with args and returns its first result, or nil.
func (m *mapper) call(fn *lua.LFunction, args ...lua.LValue) (lua.LValue, bool) {
	if m.closed {
		return lua.LNil, false
	}
	err := doWithRecovery(func() error {
		return m.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	})
	if err != nil {
		m.log.Error("mapping script failed", "function", fn.String(), "error", err)
		return lua.LNil, false
	}
	ret := m.L.Get(-1)
	m.L.Pop(1)
	return ret, ret != lua.LNil
}

func (m *mapper) toProperty(fn *lua.LFunction, value variant.Value, kind binding.Kind) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret, ok := m.call(fn, valueToLua(m.L, value), lua.LString(kind.String()))
	if !ok {
		return nil, false
	}
	switch lv := ret.(type) {
	case lua.LBool:
		return bool(lv), true
	case lua.LString:
		return string(lv), true
	case lua.LNumber:
		return numberToKind(float64(lv), kind)
	case *lua.LTable:
		return tableToStrv(lv)
	}
	m.log.Error("mapping script returned an unsupported value", "function", toPropertyFunc, "type", ret.Type().String())
	return nil, false
}

func (m *mapper) toSetting(fn *lua.LFunction, value any, typ variant.Type) (variant.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret, ok := m.call(fn, goToLua(m.L, value), lua.LString(typ.String()))
	if !ok {
		return variant.Value{}, false
	}
	switch lv := ret.(type) {
	case lua.LBool:
		return variant.NewBool(bool(lv)), true
	case lua.LNumber:
		if !typ.IsNumeric() {
			return variant.NewDouble(float64(lv)), true
		}
		return binding.NumberToValue(float64(lv), typ)
	case lua.LString:
		return stringToValue(string(lv), typ), true
	case *lua.LTable:
		strv, ok := tableToStrv(lv)
		if !ok {
			return variant.Value{}, false
		}
		return variant.NewStrv(strv), true
	}
	m.log.Error("mapping script returned an unsupported value", "function", toSettingFunc, "type", ret.Type().String())
	return variant.Value{}, false
}

func (m *mapper) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.L.Close()
}

// numberToKind converts a Lua number for a property. Non-numeric kinds get
// the float64 unchanged so the binding reports the mismatch.
func numberToKind(f float64, kind binding.Kind) (any, bool) {
	switch kind {
	case binding.KindFloat64, binding.KindBool, binding.KindString, binding.KindStrv, binding.KindVariant:
		return f, true
	case binding.KindEnum:
		return int(f), f == float64(int(f))
	case binding.KindFlags:
		return binding.NumberToKind(variant.NewDouble(f), binding.KindUint32)
	case binding.KindInt8:
		if f != float64(int8(f)) {
			return nil, false
		}
		return int8(f), true
	case binding.KindUint8:
		if f != float64(uint8(f)) {
			return nil, false
		}
		return uint8(f), true
	}
	return binding.NumberToKind(variant.NewDouble(f), kind)
}

func stringToValue(s string, typ variant.Type) variant.Value {
	switch typ {
	case variant.TypeObjectPath:
		return variant.NewObjectPath(s)
	case variant.TypeSignature:
		return variant.NewSignature(s)
	case variant.TypeString:
		return variant.NewString(s)
	}
	if v, err := variant.Parse(typ, s); err == nil {
		return v
	}
	return variant.NewString(s)
}

func tableToStrv(t *lua.LTable) ([]string, bool) {
	out := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		s, ok := t.RawGetInt(i).(lua.LString)
		if !ok {
			return nil, false
		}
		out = append(out, string(s))
	}
	return out, true
}

func strvToTable(L *lua.LState, strv []string) *lua.LTable {
	t := L.CreateTable(len(strv), 0)
	for _, s := range strv {
		t.Append(lua.LString(s))
	}
	return t
}

func valueToLua(L *lua.LState, v variant.Value) lua.LValue {
	switch {
	case v.Kind() == variant.Bool:
		return lua.LBool(v.Bool())
	case v.Type().IsNumeric():
		f, _ := v.AsFloat64()
		return lua.LNumber(f)
	case v.Type().IsStringLike():
		return lua.LString(v.Str())
	case v.Type() == variant.TypeStrv:
		return strvToTable(L, v.Strv())
	}
	return lua.LString(v.Print(true))
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case []string:
		return strvToTable(L, x)
	case variant.Value:
		return valueToLua(L, x)
	case int8:
		return lua.LNumber(x)
	case uint8:
		return lua.LNumber(x)
	case int16:
		return lua.LNumber(x)
	case uint16:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	}
	return lua.LNil
}
