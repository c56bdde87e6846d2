package binding_test

import (
	"errors"
	"math"
	"slices"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/confstore/internal/backend/memory"
	"github.com/dshills/confstore/internal/backend/null"
	"github.com/dshills/confstore/internal/binding"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/schema/schematest"
	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

type fixture struct {
	settings *settings.Settings
	mem      *memory.Backend
	binder   *binding.Binder
	obj      *binding.Object
	logs     *observer.ObservedLogs
}

func newTestObject() *binding.Object {
	return binding.NewObject("test-object",
		binding.Property{Name: "bool", Kind: binding.KindBool, Access: binding.ReadWrite},
		binding.Property{Name: "anti-bool", Kind: binding.KindBool, Access: binding.ReadWrite},
		binding.Property{Name: "byte", Kind: binding.KindInt8, Access: binding.ReadWrite},
		binding.Property{Name: "int16", Kind: binding.KindInt16, Access: binding.ReadWrite},
		binding.Property{Name: "uint16", Kind: binding.KindUint16, Access: binding.ReadWrite},
		binding.Property{Name: "int", Kind: binding.KindInt32, Access: binding.ReadWrite},
		binding.Property{Name: "uint", Kind: binding.KindUint32, Access: binding.ReadWrite},
		binding.Property{Name: "int64", Kind: binding.KindInt64, Access: binding.ReadWrite},
		binding.Property{Name: "uint64", Kind: binding.KindUint64, Access: binding.ReadWrite},
		binding.Property{Name: "double", Kind: binding.KindFloat64, Access: binding.ReadWrite},
		binding.Property{Name: "string", Kind: binding.KindString, Access: binding.ReadWrite},
		binding.Property{Name: "no-write", Kind: binding.KindString, Access: binding.Readable},
		binding.Property{Name: "no-read", Kind: binding.KindString, Access: binding.Writable},
		binding.Property{Name: "strv", Kind: binding.KindStrv, Access: binding.ReadWrite},
		binding.Property{Name: "enum", Kind: binding.KindEnum, Access: binding.ReadWrite},
		binding.Property{Name: "flags", Kind: binding.KindFlags, Access: binding.ReadWrite},
	)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromZap(zap.New(core))

	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	s, err := settings.NewFromSource(schematest.Source(t), "org.gtk.test.binding", mem, settings.WithLogger(log))
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &fixture{
		settings: s,
		mem:      mem,
		binder:   binding.NewBinder(binding.WithLogger(log)),
		obj:      newTestObject(),
		logs:     logs,
	}
}

func (f *fixture) bind(t *testing.T, key, property string, flags binding.Flags) {
	t.Helper()
	if err := f.binder.Bind(f.settings, key, f.obj, property, flags); err != nil {
		t.Fatalf("Bind(%s, %s): %v", key, property, err)
	}
}

func (f *fixture) setProp(t *testing.T, property string, value any) {
	t.Helper()
	if err := f.obj.Set(property, value); err != nil {
		t.Fatalf("Set(%s): %v", property, err)
	}
}

func (f *fixture) prop(t *testing.T, property string) any {
	t.Helper()
	v, err := f.obj.Get(property)
	if err != nil {
		t.Fatalf("Get(%s): %v", property, err)
	}
	return v
}

func (f *fixture) value(t *testing.T, key string) variant.Value {
	t.Helper()
	v, err := f.settings.Value(key)
	if err != nil {
		t.Fatalf("Value(%s): %v", key, err)
	}
	return v
}

func (f *fixture) expectLogged(t *testing.T, msg string) {
	t.Helper()
	if n := f.logs.FilterMessage(msg).FilterLevelExact(zapcore.ErrorLevel).Len(); n != 1 {
		var got []string
		for _, e := range f.logs.All() {
			got = append(got, e.Message)
		}
		t.Fatalf("logged %q %d times at error level, want 1; log: %q", msg, n, got)
	}
}

func TestSimpleBinding(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	f.bind(t, "bool", "bool", binding.Default)
	f.setProp(t, "bool", true)
	if b, _ := s.Boolean("bool"); !b {
		t.Error("bool: property write did not reach settings")
	}
	_ = s.SetBoolean("bool", false)
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("bool property = %v, want false", got)
	}

	f.bind(t, "anti-bool", "anti-bool", binding.InvertBoolean)
	f.setProp(t, "anti-bool", false)
	if b, _ := s.Boolean("anti-bool"); !b {
		t.Error("anti-bool = false, want the inverted property value")
	}
	_ = s.SetBoolean("anti-bool", false)
	if got := f.prop(t, "anti-bool"); got != true {
		t.Errorf("anti-bool property = %v, want true", got)
	}

	f.bind(t, "byte", "byte", binding.Default)
	f.setProp(t, "byte", int8(123))
	if y, _ := s.Byte("byte"); y != 123 {
		t.Errorf("byte = %d, want 123", y)
	}
	_ = s.SetByte("byte", 54)
	if got := f.prop(t, "byte"); got != int8(54) {
		t.Errorf("byte property = %v, want 54", got)
	}

	f.bind(t, "int16", "int16", binding.Default)
	f.setProp(t, "int16", int16(1234))
	if n, _ := s.Int16("int16"); n != 1234 {
		t.Errorf("int16 = %d, want 1234", n)
	}
	_ = s.SetInt16("int16", 4321)
	if got := f.prop(t, "int16"); got != int16(4321) {
		t.Errorf("int16 property = %v, want 4321", got)
	}

	f.bind(t, "uint16", "uint16", binding.Default)
	f.setProp(t, "uint16", uint16(math.MaxUint16))
	if q, _ := s.Uint16("uint16"); q != math.MaxUint16 {
		t.Errorf("uint16 = %d, want %d", q, math.MaxUint16)
	}
	_ = s.SetUint16("uint16", math.MaxInt16)
	if got := f.prop(t, "uint16"); got != uint16(math.MaxInt16) {
		t.Errorf("uint16 property = %v, want %d", got, math.MaxInt16)
	}

	f.bind(t, "int", "int", binding.Default)
	f.setProp(t, "int", int32(12345))
	if i, _ := s.Int("int"); i != 12345 {
		t.Errorf("int = %d, want 12345", i)
	}
	_ = s.SetInt("int", 54321)
	if got := f.prop(t, "int"); got != int32(54321) {
		t.Errorf("int property = %v, want 54321", got)
	}

	f.bind(t, "uint", "uint", binding.Default)
	f.setProp(t, "uint", uint32(12345))
	if u, _ := s.Uint("uint"); u != 12345 {
		t.Errorf("uint = %d, want 12345", u)
	}
	_ = s.SetUint("uint", 54321)
	if got := f.prop(t, "uint"); got != uint32(54321) {
		t.Errorf("uint property = %v, want 54321", got)
	}

	f.bind(t, "int64", "int64", binding.Default)
	f.setProp(t, "int64", int64(math.MaxInt64))
	if x, _ := s.Int64("int64"); x != math.MaxInt64 {
		t.Errorf("int64 = %d, want max", x)
	}
	_ = s.SetInt64("int64", math.MinInt64)
	if got := f.prop(t, "int64"); got != int64(math.MinInt64) {
		t.Errorf("int64 property = %v, want min", got)
	}

	f.bind(t, "uint64", "uint64", binding.Default)
	f.setProp(t, "uint64", uint64(math.MaxUint64))
	if x, _ := s.Uint64("uint64"); x != math.MaxUint64 {
		t.Errorf("uint64 = %d, want max", x)
	}
	_ = s.SetUint64("uint64", math.MaxInt64)
	if got := f.prop(t, "uint64"); got != uint64(math.MaxInt64) {
		t.Errorf("uint64 property = %v, want %d", got, uint64(math.MaxInt64))
	}

	f.bind(t, "string", "string", binding.Default)
	f.setProp(t, "string", "bu ba")
	if str, _ := s.String("string"); str != "bu ba" {
		t.Errorf("string = %q, want %q", str, "bu ba")
	}
	_ = s.SetString("string", "bla bla")
	if got := f.prop(t, "string"); got != "bla bla" {
		t.Errorf("string property = %v, want %q", got, "bla bla")
	}

	f.bind(t, "double", "double", binding.Default)
	for _, d := range []float64{math.MaxFloat32, math.MaxFloat64} {
		f.setProp(t, "double", d)
		if got, _ := s.Double("double"); got != d {
			t.Errorf("double = %v, want %v", got, d)
		}
	}
	for _, d := range []float64{math.SmallestNonzeroFloat32, -math.SmallestNonzeroFloat64} {
		_ = s.SetDouble("double", d)
		if got := f.prop(t, "double"); got != d {
			t.Errorf("double property = %v, want %v", got, d)
		}
	}

	f.bind(t, "strv", "strv", binding.Default)
	f.setProp(t, "strv", []string{"plastic bag", "middle class", "polyethylene"})
	if got, _ := s.Strv("strv"); !slices.Equal(got, []string{"plastic bag", "middle class", "polyethylene"}) {
		t.Errorf("strv = %q", got)
	}
	_ = s.SetStrv("strv", []string{"decaffeinate", "unleaded", "keep all surfaces clean"})
	if got := f.prop(t, "strv").([]string); !slices.Equal(got, []string{"decaffeinate", "unleaded", "keep all surfaces clean"}) {
		t.Errorf("strv property = %q", got)
	}
	_ = s.SetStrv("strv", nil)
	if got := f.prop(t, "strv").([]string); len(got) != 0 {
		t.Errorf("strv property = %q, want empty", got)
	}
}

func TestEnumAndFlagsBinding(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	const (
		foo  = 1
		baz  = 3
		quux = 4

		mourning = 1
		walking  = 8
	)

	f.bind(t, "enum", "enum", binding.Default)
	if got := f.prop(t, "enum"); got != foo {
		t.Errorf("enum property = %v after bind, want %d", got, foo)
	}
	f.setProp(t, "enum", baz)
	if str, _ := s.String("enum"); str != "baz" {
		t.Errorf("enum = %q, want baz", str)
	}
	if n, _ := s.Enum("enum"); n != baz {
		t.Errorf("Enum = %d, want %d", n, baz)
	}
	_ = s.SetEnum("enum", quux)
	if got := f.prop(t, "enum"); got != quux {
		t.Errorf("enum property = %v, want %d", got, quux)
	}
	_ = s.SetString("enum", "baz")
	if got := f.prop(t, "enum"); got != baz {
		t.Errorf("enum property = %v, want %d", got, baz)
	}

	f.bind(t, "flags", "flags", binding.Default)
	f.setProp(t, "flags", uint32(mourning))
	if got, _ := s.Strv("flags"); !slices.Equal(got, []string{"mourning"}) {
		t.Errorf("flags = %q, want [mourning]", got)
	}
	if n, _ := s.Flags("flags"); n != mourning {
		t.Errorf("Flags = %d, want %d", n, mourning)
	}
	_ = s.SetFlags("flags", mourning|walking)
	if got := f.prop(t, "flags"); got != uint32(mourning|walking) {
		t.Errorf("flags property = %v, want %d", got, mourning|walking)
	}
}

func TestRangeRejection(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	f.bind(t, "range", "uint", binding.Default)
	if got := f.prop(t, "uint"); got != uint32(33) {
		t.Errorf("uint property = %v after bind, want 33", got)
	}
	f.setProp(t, "uint", uint32(22))
	if v, _ := s.Int("range"); v != 22 {
		t.Errorf("range = %d, want 22", v)
	}

	f.setProp(t, "uint", uint32(45))
	f.expectLogged(t, "property 'uint' on 'test-object' is out of schema-specified range for key 'range' of 'org.gtk.test.binding': 45")
	if v, _ := s.Int("range"); v != 22 {
		t.Errorf("range = %d after rejected write, want 22", v)
	}
	if got := f.prop(t, "uint"); got != uint32(45) {
		t.Errorf("uint property = %v, rejected writes are not rolled back", got)
	}
}

func TestFlagBits(t *testing.T) {
	tests := []struct {
		flag binding.Flags
		want uint
	}{
		{binding.Default, 0},
		{binding.Get, 1},
		{binding.Set, 2},
		{binding.GetNoChanges, 4},
		{binding.InvertBoolean, 8},
	}
	for _, tt := range tests {
		if uint(tt.flag) != tt.want {
			t.Errorf("flag = %d, want %d", tt.flag, tt.want)
		}
	}
	if binding.Get|binding.Set|binding.GetNoChanges|binding.InvertBoolean != 0xf {
		t.Error("flags do not occupy the low four bits")
	}
}

func TestUnbind(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	f.bind(t, "int", "int", binding.Default)
	f.setProp(t, "int", int32(12345))
	if i, _ := s.Int("int"); i != 12345 {
		t.Errorf("int = %d, want 12345", i)
	}

	f.binder.Unbind(f.obj, "int")
	f.binder.Unbind(f.obj, "int")
	if f.binder.Bound(f.obj, "int") {
		t.Error("property still bound after Unbind")
	}

	f.setProp(t, "int", int32(54321))
	if i, _ := s.Int("int"); i != 12345 {
		t.Errorf("int = %d after unbind, want 12345", i)
	}
	_ = s.SetInt("int", 1)
	if got := f.prop(t, "int"); got != int32(54321) {
		t.Errorf("int property = %v after unbind, want 54321", got)
	}
}

func TestDirectionalBinding(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	f.setProp(t, "bool", false)
	_ = s.SetBoolean("bool", false)
	f.bind(t, "bool", "bool", binding.Get)

	_ = s.SetBoolean("bool", true)
	if got := f.prop(t, "bool"); got != true {
		t.Errorf("Get binding: property = %v, want true", got)
	}
	f.setProp(t, "bool", false)
	if b, _ := s.Boolean("bool"); !b {
		t.Error("Get binding: property write reached settings")
	}

	f.setProp(t, "int", int32(20))
	_ = s.SetInt("int", 20)
	f.bind(t, "int", "int", binding.Set)

	f.setProp(t, "int", int32(32))
	if i, _ := s.Int("int"); i != 32 {
		t.Errorf("Set binding: int = %d, want 32", i)
	}
	_ = s.SetInt("int", 20)
	if got := f.prop(t, "int"); got != int32(32) {
		t.Errorf("Set binding: property = %v, want 32", got)
	}
}

func TestSetOnlyPushesPropertyAtBind(t *testing.T) {
	f := newFixture(t)

	f.setProp(t, "string", "from the object")
	f.bind(t, "string", "string", binding.Set)
	if str, _ := f.settings.String("string"); str != "from the object" {
		t.Errorf("string = %q, want the property value", str)
	}
}

func TestNoChangeBinding(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	f.setProp(t, "bool", true)
	_ = s.SetBoolean("bool", false)
	f.bind(t, "bool", "bool", binding.Set|binding.GetNoChanges)

	if got := f.prop(t, "bool"); got != false {
		t.Errorf("property = %v after bind, want the initial settings value", got)
	}
	_ = s.SetBoolean("bool", true)
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("property = %v, later settings changes must not be copied", got)
	}
	_ = s.SetBoolean("bool", false)
	f.setProp(t, "bool", true)
	if b, _ := s.Boolean("bool"); !b {
		t.Error("property write did not reach settings")
	}
}

func TestGetNoChangesAlone(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	_ = s.SetInt("int", 7)
	f.bind(t, "int", "int", binding.GetNoChanges)
	if got := f.prop(t, "int"); got != int32(7) {
		t.Errorf("property = %v after bind, want 7", got)
	}
	f.setProp(t, "int", int32(9))
	if i, _ := s.Int("int"); i != 7 {
		t.Errorf("int = %d, want 7", i)
	}
	_ = s.SetInt("int", 11)
	if got := f.prop(t, "int"); got != int32(9) {
		t.Errorf("property = %v, want 9", got)
	}
}

func TestTypesafeBinding(t *testing.T) {
	f := newFixture(t)

	err := f.binder.Bind(f.settings, "string", f.obj, "int", binding.Default)
	if !errors.Is(err, binding.ErrIncompatibleTypes) {
		t.Fatalf("Bind error = %v, want ErrIncompatibleTypes", err)
	}
	f.expectLogged(t, "bind: property 'int' on 'test-object' has kind int32 which is not compatible with type 's' of key 'string' on schema 'org.gtk.test.binding'")
	if f.binder.Bound(f.obj, "int") {
		t.Error("failed bind left a binding behind")
	}

	tests := []struct {
		key, property string
		ok            bool
	}{
		{"bool", "bool", true},
		{"byte", "byte", true},
		{"byte", "int", false},
		{"int", "double", true},
		{"double", "uint64", true},
		{"strv", "string", false},
		{"flags", "strv", true},
		{"strv", "flags", false},
		{"enum", "string", true},
		{"string", "enum", false},
		{"bool", "string", false},
	}
	for _, tt := range tests {
		obj := newTestObject()
		err := f.binder.Bind(f.settings, tt.key, obj, tt.property, binding.Default)
		if (err == nil) != tt.ok {
			t.Errorf("Bind(%s, %s) error = %v, want ok = %v", tt.key, tt.property, err, tt.ok)
		}
	}
}

func TestInvertBooleanNeedsBooleans(t *testing.T) {
	f := newFixture(t)

	err := f.binder.Bind(f.settings, "int", f.obj, "int", binding.InvertBoolean)
	if !errors.Is(err, binding.ErrIncompatibleTypes) {
		t.Errorf("Bind error = %v, want ErrIncompatibleTypes", err)
	}
	f.expectLogged(t, "bind: InvertBoolean was specified, but key 'int' on schema 'org.gtk.test.binding' has type 'i'")

	err = f.binder.Bind(f.settings, "bool", f.obj, "string", binding.InvertBoolean)
	if !errors.Is(err, binding.ErrIncompatibleTypes) {
		t.Errorf("Bind error = %v, want ErrIncompatibleTypes", err)
	}
}

func TestBindErrors(t *testing.T) {
	f := newFixture(t)

	err := f.binder.Bind(f.settings, "no-such-key", f.obj, "int", binding.Default)
	if !errors.Is(err, settings.ErrUnknownKey) {
		t.Errorf("unknown key error = %v, want ErrUnknownKey", err)
	}
	f.expectLogged(t, "bind: key 'no-such-key' not found in schema 'org.gtk.test.binding'")

	err = f.binder.Bind(f.settings, "int", f.obj, "no-such-property", binding.Default)
	if !errors.Is(err, binding.ErrUnknownProperty) {
		t.Errorf("unknown property error = %v, want ErrUnknownProperty", err)
	}
}

func TestNoReadBinding(t *testing.T) {
	f := newFixture(t)

	err := f.binder.Bind(f.settings, "string", f.obj, "no-read", binding.Default)
	if !errors.Is(err, binding.ErrNotReadable) {
		t.Errorf("Bind error = %v, want ErrNotReadable", err)
	}
	f.expectLogged(t, "bind: property 'no-read' on 'test-object' is not readable")

	if err := f.binder.Bind(f.settings, "string", f.obj, "no-read", binding.Get); err != nil {
		t.Errorf("Get binding of a write-only property: %v", err)
	}
}

func TestNoWriteBinding(t *testing.T) {
	f := newFixture(t)

	err := f.binder.Bind(f.settings, "string", f.obj, "no-write", binding.Default)
	if !errors.Is(err, binding.ErrNotWritable) {
		t.Errorf("Bind error = %v, want ErrNotWritable", err)
	}
	f.expectLogged(t, "bind: property 'no-write' on 'test-object' is not writable")

	if err := f.binder.Bind(f.settings, "string", f.obj, "no-write", binding.Set); err != nil {
		t.Errorf("Set binding of a read-only property: %v", err)
	}
	if err := f.obj.Update("no-write", "changed inside"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if str, _ := f.settings.String("string"); str != "changed inside" {
		t.Errorf("string = %q, want the read-only property value", str)
	}
}

func stringToBool(value variant.Value, _ binding.Kind) (any, bool) {
	return value.Str() == "true", true
}

func boolToString(value any, _ variant.Type) (variant.Value, bool) {
	if value.(bool) {
		return variant.NewString("true"), true
	}
	return variant.NewString("false"), true
}

func boolToBool(value any, _ variant.Type) (variant.Value, bool) {
	return variant.NewBool(value.(bool)), true
}

func TestCustomBinding(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	_ = s.SetString("string", "true")
	err := f.binder.BindWithMapping(s, "string", f.obj, "bool", binding.Default,
		binding.Mapping{ToProperty: stringToBool, ToSetting: boolToString})
	if err != nil {
		t.Fatalf("BindWithMapping: %v", err)
	}
	if got := f.prop(t, "bool"); got != true {
		t.Errorf("property = %v after bind, want true", got)
	}

	_ = s.SetString("string", "false")
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("property = %v, want false", got)
	}
	_ = s.SetString("string", "not true")
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("property = %v, want false", got)
	}

	f.setProp(t, "bool", true)
	if str, _ := s.String("string"); str != "true" {
		t.Errorf("string = %q, want true", str)
	}

	err = f.binder.BindWithMapping(s, "string", f.obj, "bool", binding.Default,
		binding.Mapping{ToProperty: stringToBool, ToSetting: boolToBool})
	if err != nil {
		t.Fatalf("BindWithMapping: %v", err)
	}
	f.setProp(t, "bool", false)
	f.expectLogged(t, "binding mapping function for key 'string' returned value of type 'b' when type 's' was requested")
	if str, _ := s.String("string"); str != "true" {
		t.Errorf("string = %q after a mistyped mapping result, want true", str)
	}
}

func TestMappingDeclines(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	// only even numbers pass in either direction
	even := binding.Mapping{
		ToProperty: func(v variant.Value, _ binding.Kind) (any, bool) {
			return v.Int32(), v.Int32()%2 == 0
		},
		ToSetting: func(v any, _ variant.Type) (variant.Value, bool) {
			n := v.(int32)
			return variant.NewInt32(n), n%2 == 0
		},
	}
	if err := f.binder.BindWithMapping(s, "int", f.obj, "int", binding.Default, even); err != nil {
		t.Fatalf("BindWithMapping: %v", err)
	}

	_ = s.SetInt("int", 4)
	_ = s.SetInt("int", 5)
	if got := f.prop(t, "int"); got != int32(4) {
		t.Errorf("property = %v, want 4", got)
	}
	f.setProp(t, "int", int32(7))
	if i, _ := s.Int("int"); i != 5 {
		t.Errorf("int = %d, want 5", i)
	}
	if f.logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 0 {
		t.Error("declined mappings must not be reported as errors")
	}
}

func TestMappingRelease(t *testing.T) {
	f := newFixture(t)
	s := f.settings

	var released atomic.Int32
	m := binding.Mapping{Release: func() { released.Add(1) }}

	if err := f.binder.BindWithMapping(s, "int", f.obj, "int", binding.Default, m); err != nil {
		t.Fatalf("BindWithMapping: %v", err)
	}
	f.binder.Unbind(f.obj, "int")
	f.binder.Unbind(f.obj, "int")
	if released.Load() != 1 {
		t.Errorf("released %d times after unbind, want 1", released.Load())
	}

	released.Store(0)
	_ = f.binder.BindWithMapping(s, "int", f.obj, "int", binding.Default, m)
	_ = f.binder.Bind(s, "int", f.obj, "int", binding.Default)
	if released.Load() != 1 {
		t.Errorf("released %d times after rebinding, want 1", released.Load())
	}

	released.Store(0)
	_ = f.binder.BindWithMapping(s, "int", f.obj, "string", binding.Default, m)
	if released.Load() != 1 {
		t.Errorf("released %d times after a failed bind, want 1", released.Load())
	}
}

func TestDestroyedTargetReleasesBindings(t *testing.T) {
	f := newFixture(t)

	var released atomic.Int32
	m := binding.Mapping{Release: func() { released.Add(1) }}
	_ = f.binder.BindWithMapping(f.settings, "int", f.obj, "int", binding.Default, m)
	f.bind(t, "string", "string", binding.Default)

	f.obj.Destroy()
	if f.binder.Len() != 0 {
		t.Errorf("Len = %d after target destroy, want 0", f.binder.Len())
	}
	if released.Load() != 1 {
		t.Errorf("released %d times, want 1", released.Load())
	}
	_ = f.settings.SetString("string", "after destroy")
	if got := f.prop(t, "string"); got != "" {
		t.Errorf("string property = %v after destroy, want unchanged", got)
	}
}

func TestClosedSettingsReleasesBindings(t *testing.T) {
	f := newFixture(t)

	var released atomic.Int32
	m := binding.Mapping{Release: func() { released.Add(1) }}
	_ = f.binder.BindWithMapping(f.settings, "int", f.obj, "int", binding.Default, m)

	_ = f.settings.Close()
	if f.binder.Bound(f.obj, "int") {
		t.Error("binding survived settings Close")
	}
	if released.Load() != 1 {
		t.Errorf("released %d times, want 1", released.Load())
	}
}

type lockable struct {
	*memory.Backend
	locked atomic.Bool
}

func (l *lockable) IsWritable(key string) bool {
	return !l.locked.Load() && l.Backend.IsWritable(key)
}

func TestBindWritable(t *testing.T) {
	f := newFixture(t)

	f.setProp(t, "bool", false)
	if err := f.binder.BindWritable(f.settings, "int", f.obj, "bool", false); err != nil {
		t.Fatalf("BindWritable: %v", err)
	}
	if got := f.prop(t, "bool"); got != true {
		t.Errorf("property = %v, want true", got)
	}

	f.binder.Unbind(f.obj, "bool")
	if err := f.binder.BindWritable(f.settings, "int", f.obj, "bool", true); err != nil {
		t.Fatalf("BindWritable: %v", err)
	}
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("inverted property = %v, want false", got)
	}

	if err := f.binder.BindWritable(f.settings, "int", f.obj, "int", false); !errors.Is(err, binding.ErrIncompatibleTypes) {
		t.Errorf("BindWritable to an int property error = %v, want ErrIncompatibleTypes", err)
	}
}

func TestBindWritableFollowsChanges(t *testing.T) {
	f := newFixture(t)
	lb := &lockable{Backend: memory.New()}
	t.Cleanup(func() { _ = lb.Close() })

	s, err := settings.NewFromSource(schematest.Source(t), "org.gtk.test.binding", lb)
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := f.binder.BindWritable(s, "int", f.obj, "bool", false); err != nil {
		t.Fatalf("BindWritable: %v", err)
	}
	if got := f.prop(t, "bool"); got != true {
		t.Fatalf("property = %v, want true", got)
	}

	lb.locked.Store(true)
	lb.WritableChanged("/tests/binding/int")
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("property = %v after lock, want false", got)
	}

	lb.locked.Store(false)
	lb.PathWritableChanged("/")
	if got := f.prop(t, "bool"); got != true {
		t.Errorf("property = %v after unlock, want true", got)
	}
}

func TestNullBackendBinding(t *testing.T) {
	f := newFixture(t)
	s, err := settings.NewFromSource(schematest.Source(t), "org.gtk.test.binding", null.New())
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := f.binder.Bind(s, "range", f.obj, "int", binding.Default); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := f.prop(t, "int"); got != int32(33) {
		t.Errorf("property = %v, want the default 33", got)
	}
	if err := f.binder.BindWritable(s, "range", f.obj, "bool", false); err != nil {
		t.Fatalf("BindWritable: %v", err)
	}
	if got := f.prop(t, "bool"); got != false {
		t.Errorf("writable property = %v, want false", got)
	}
}

func TestBinderClose(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "int", "int", binding.Default)
	f.bind(t, "string", "string", binding.Default)
	if f.binder.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.binder.Len())
	}
	f.binder.Close()
	if f.binder.Len() != 0 {
		t.Errorf("Len = %d after Close, want 0", f.binder.Len())
	}
}
