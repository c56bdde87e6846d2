package luamap

import (
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/confstore/internal/backend/memory"
	"github.com/dshills/confstore/internal/binding"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/schema/schematest"
	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

const boolScript = `
function to_property(v, kind)
  return v == "true"
end

function to_setting(v, typ)
  if v then return "true" end
  return "false"
end
`

func TestNewRejectsBadScripts(t *testing.T) {
	if _, err := New(`local x = 1`); !errors.Is(err, ErrNoFunctions) {
		t.Errorf("New(no functions) error = %v, want ErrNoFunctions", err)
	}
	if _, err := New(`function to_property(`); err == nil {
		t.Error("New(syntax error) succeeded")
	}
}

func TestOneDirection(t *testing.T) {
	m, err := New(`function to_property(v) return v * 2 end`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Release()

	if m.ToSetting != nil {
		t.Error("ToSetting set for a script without to_setting")
	}
	got, ok := m.ToProperty(variant.NewInt32(21), binding.KindInt32)
	if !ok || got != int32(42) {
		t.Errorf("ToProperty = %v, %v; want 42", got, ok)
	}
}

func TestConversions(t *testing.T) {
	m, err := New(`
function to_property(v, kind)
  if kind == "strv" then return {v, v .. "!"} end
  if kind == "float64" then return v / 2 end
  if kind == "int16" then return 70000 end
  return nil
end

function to_setting(v, typ)
  if typ == "ai" then return "[1, 2, " .. v .. "]" end
  if typ == "as" then return {"a", "b"} end
  if typ == "b" then return not v end
  return v
end
`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Release()

	if got, ok := m.ToProperty(variant.NewString("hey"), binding.KindStrv); !ok || !slices.Equal(got.([]string), []string{"hey", "hey!"}) {
		t.Errorf("strv = %v, %v", got, ok)
	}
	if got, ok := m.ToProperty(variant.NewInt32(3), binding.KindFloat64); !ok || got != 1.5 {
		t.Errorf("float64 = %v, %v; want 1.5", got, ok)
	}
	if _, ok := m.ToProperty(variant.NewInt32(3), binding.KindInt16); ok {
		t.Error("out-of-range number accepted for an int16 property")
	}
	if _, ok := m.ToProperty(variant.NewInt32(3), binding.KindUint32); ok {
		t.Error("nil result accepted")
	}

	arr, ok := m.ToSetting(int32(3), "ai")
	if !ok || !variant.Equal(arr, variant.MustParse("ai", "[1, 2, 3]")) {
		t.Errorf("ai = %v, %v", arr, ok)
	}
	strv, ok := m.ToSetting("", variant.TypeStrv)
	if !ok || !slices.Equal(strv.Strv(), []string{"a", "b"}) {
		t.Errorf("as = %v, %v", strv, ok)
	}
	b, ok := m.ToSetting(true, variant.TypeBoolean)
	if !ok || b.Type() != variant.TypeBoolean || b.Bool() {
		t.Errorf("b = %v, %v; want false", b, ok)
	}
	n, ok := m.ToSetting(int64(-5), variant.TypeInt64)
	if !ok || n.Type() != variant.TypeInt64 || n.Int64() != -5 {
		t.Errorf("x = %v, %v; want -5", n, ok)
	}
	if _, ok := m.ToSetting(int64(-5), variant.TypeUint32); ok {
		t.Error("negative number accepted for a 'u' key")
	}
}

func TestScriptErrorsDecline(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m, err := New(`function to_setting(v) error("boom") end`, WithLogger(logger.FromZap(zap.New(core))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Release()

	if _, ok := m.ToSetting("x", variant.TypeString); ok {
		t.Error("failing script accepted")
	}
	if logs.FilterMessage("mapping script failed").Len() != 1 {
		t.Error("script failure not logged")
	}
}

func TestReleaseClosesState(t *testing.T) {
	m, err := New(boolScript)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Release()
	m.Release()
	if _, ok := m.ToProperty(variant.NewString("true"), binding.KindBool); ok {
		t.Error("mapping still answers after Release")
	}
}

func TestScriptedBinding(t *testing.T) {
	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	s, err := settings.NewFromSource(schematest.Source(t), "org.gtk.test.binding", mem)
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	m, err := New(boolScript)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	obj := binding.NewObject("obj", binding.Property{Name: "active", Kind: binding.KindBool, Access: binding.ReadWrite})
	binder := binding.NewBinder()

	_ = s.SetString("string", "true")
	if err := binder.BindWithMapping(s, "string", obj, "active", binding.Default, m); err != nil {
		t.Fatalf("BindWithMapping: %v", err)
	}
	if v, _ := obj.Get("active"); v != true {
		t.Errorf("active = %v after bind, want true", v)
	}

	_ = s.SetString("string", "nope")
	if v, _ := obj.Get("active"); v != false {
		t.Errorf("active = %v, want false", v)
	}

	_ = obj.Set("active", true)
	if str, _ := s.String("string"); str != "true" {
		t.Errorf("string = %q, want true", str)
	}

	binder.Unbind(obj, "active")
	if _, ok := m.ToProperty(variant.NewString("true"), binding.KindBool); ok {
		t.Error("unbinding did not release the script")
	}
}
