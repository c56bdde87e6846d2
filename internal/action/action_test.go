package action

import (
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/dshills/confstore/internal/backend/memory"
	"github.com/dshills/confstore/internal/backend/null"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/schema/schematest"
	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

func newSettings(t *testing.T, id string) (*settings.Settings, *memory.Backend) {
	t.Helper()
	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	s, err := settings.NewFromSource(schematest.Source(t), id, mem, settings.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mem
}

func TestActions(t *testing.T) {
	s, _ := newSettings(t, "org.gtk.test.basic-types")

	str, err := New(s, "test-string")
	if err != nil {
		t.Fatalf("New(test-string): %v", err)
	}
	defer str.Close()
	toggle, err := New(s, "test-boolean")
	if err != nil {
		t.Fatalf("New(test-boolean): %v", err)
	}
	defer toggle.Close()

	var c1, c2, c3 atomic.Bool
	s.OnChanged("", func(string) { c1.Store(true) })
	str.OnStateChanged(func(variant.Value) { c2.Store(true) })
	toggle.OnStateChanged(func(variant.Value) { c3.Store(true) })
	reset := func() {
		c1.Store(false)
		c2.Store(false)
		c3.Store(false)
	}
	check := func(step string, want1, want2, want3 bool) {
		t.Helper()
		if c1.Load() != want1 || c2.Load() != want2 || c3.Load() != want3 {
			t.Errorf("%s: notified = %v %v %v, want %v %v %v",
				step, c1.Load(), c2.Load(), c3.Load(), want1, want2, want3)
		}
		reset()
	}

	_ = s.SetString("test-string", "hello world")
	if got := str.State().Print(false); got != "'hello world'" {
		t.Errorf("state = %s", got)
	}
	check("set", true, true, false)

	hihi := variant.NewString("hihi")
	if err := str.Activate(&hihi); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got, _ := s.String("test-string"); got != "hihi" {
		t.Errorf("test-string = %q, want hihi", got)
	}
	check("activate", true, true, false)

	if err := str.ChangeState(variant.NewString("kthxbye")); err != nil {
		t.Fatalf("ChangeState: %v", err)
	}
	if got, _ := s.String("test-string"); got != "kthxbye" {
		t.Errorf("test-string = %q, want kthxbye", got)
	}
	check("change state", true, true, false)

	_ = toggle.ChangeState(variant.NewBool(true))
	if b, _ := s.Boolean("test-boolean"); !b {
		t.Error("test-boolean = false, want true")
	}
	check("toggle change state", true, false, true)

	if err := toggle.Activate(nil); err != nil {
		t.Fatalf("toggle Activate: %v", err)
	}
	if b, _ := s.Boolean("test-boolean"); b {
		t.Error("test-boolean = true after toggle, want false")
	}
	check("toggle activate", true, false, true)

	if str.Name() != "test-string" {
		t.Errorf("Name = %q", str.Name())
	}
	if pt, ok := str.ParameterType(); !ok || pt != variant.TypeString {
		t.Errorf("ParameterType = %q, %v", pt, ok)
	}
	if _, ok := toggle.ParameterType(); ok {
		t.Error("boolean action has a parameter type")
	}
	if !str.Enabled() {
		t.Error("action disabled on a writable backend")
	}
	if str.StateType() != variant.TypeString {
		t.Errorf("StateType = %q", str.StateType())
	}
	if got := str.State().Str(); got != "kthxbye" {
		t.Errorf("State = %q", got)
	}
}

func TestActivateParameters(t *testing.T) {
	s, _ := newSettings(t, "org.gtk.test.basic-types")
	str, _ := New(s, "test-string")
	toggle, _ := New(s, "test-boolean")

	if err := str.Activate(nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Activate(nil) error = %v, want ErrInvalidParameter", err)
	}
	n := variant.NewInt32(1)
	if err := str.Activate(&n); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Activate(int) error = %v, want ErrInvalidParameter", err)
	}
	yes := variant.NewBool(true)
	if err := toggle.Activate(&yes); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("toggle Activate(param) error = %v, want ErrInvalidParameter", err)
	}
}

func TestChangeStateOutOfRange(t *testing.T) {
	s, _ := newSettings(t, "org.gtk.test.range")
	a, err := New(s, "val")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.ChangeState(variant.NewInt32(45)); err != nil {
		t.Errorf("ChangeState(45) error = %v, want silently ignored", err)
	}
	if v, _ := s.Int("val"); v != 33 {
		t.Errorf("val = %d, want 33", v)
	}
	if got := a.StateHint().Print(false); got != "('range', <(2, 44)>)" {
		t.Errorf("StateHint = %s", got)
	}
}

func TestDisabledOnNullBackend(t *testing.T) {
	s, err := settings.NewFromSource(schematest.Source(t), "org.gtk.test.basic-types", null.New(), settings.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	defer s.Close()

	a, _ := New(s, "test-boolean")
	if a.Enabled() {
		t.Error("action enabled on the null backend")
	}
	if err := a.Activate(nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("Activate error = %v, want ErrDisabled", err)
	}
}

func TestEnabledChanged(t *testing.T) {
	s, mem := newSettings(t, "org.gtk.test.basic-types")
	a, _ := New(s, "test-int32")

	var calls atomic.Int32
	cancel := a.OnEnabledChanged(func(enabled bool) {
		if !enabled {
			t.Error("memory backend reported unwritable")
		}
		calls.Add(1)
	})
	mem.WritableChanged("/tests/basic-types/test-int32")
	mem.WritableChanged("/tests/basic-types/test-byte")
	cancel()
	mem.WritableChanged("/tests/basic-types/test-int32")
	if calls.Load() != 1 {
		t.Errorf("enabled handler called %d times, want 1", calls.Load())
	}
}

func TestUnknownKey(t *testing.T) {
	s, _ := newSettings(t, "org.gtk.test.basic-types")
	if _, err := New(s, "nope"); !errors.Is(err, settings.ErrUnknownKey) {
		t.Errorf("New(nope) error = %v, want ErrUnknownKey", err)
	}
}

func TestGroup(t *testing.T) {
	s, _ := newSettings(t, "org.gtk.test")
	g, err := NewGroupFor(s)
	if err != nil {
		t.Fatalf("NewGroupFor: %v", err)
	}
	defer g.Close()

	if got := g.List(); !slices.Equal(got, []string{"farewell", "greeting"}) {
		t.Errorf("List = %v", got)
	}

	hi := variant.NewString("hi")
	if err := g.Activate("greeting", &hi); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got, _ := s.String("greeting"); got != "hi" {
		t.Errorf("greeting = %q, want hi", got)
	}
	if err := g.ChangeState("farewell", variant.NewString("bye")); err != nil {
		t.Fatalf("ChangeState: %v", err)
	}
	if got, _ := s.String("farewell"); got != "bye" {
		t.Errorf("farewell = %q, want bye", got)
	}
	if err := g.Activate("nope", nil); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Activate(nope) error = %v, want ErrUnknownAction", err)
	}

	var calls atomic.Int32
	a, _ := g.Lookup("greeting")
	a.OnStateChanged(func(variant.Value) { calls.Add(1) })
	g.Remove("greeting")
	_ = s.SetString("greeting", "after remove")
	if calls.Load() != 0 {
		t.Error("removed action still follows its key")
	}
	if _, ok := g.Lookup("greeting"); ok {
		t.Error("Lookup found a removed action")
	}
}
