package notify

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestNew_WithAsync(t *testing.T) {
	n := New(WithAsync(100))
	if n == nil {
		t.Fatal("New() returned nil")
	}
	if !n.async {
		t.Error("expected async = true")
	}
	defer n.Close()
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{Changed, "changed"},
		{KeysChanged, "keys-changed"},
		{PathChanged, "path-changed"},
		{WritableChanged, "writable-changed"},
		{PathWritableChanged, "path-writable-changed"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}

func TestNotifier_Subscribe(t *testing.T) {
	n := New()
	defer n.Close()

	var received atomic.Bool

	sub := n.Subscribe("", func(Event) {
		received.Store(true)
	})

	n.NotifyChanged("/tests/greeting", "")

	if !received.Load() {
		t.Error("observer did not receive notification")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	received.Store(false)
	n.NotifyChanged("/tests/farewell", "")

	if received.Load() {
		t.Error("unsubscribed observer received notification")
	}
}

func TestNotifier_PrefixOverlap(t *testing.T) {
	n := New()
	defer n.Close()

	var tests, other, child atomic.Int32

	n.Subscribe("/tests/", func(Event) { tests.Add(1) })
	n.Subscribe("/other/", func(Event) { other.Add(1) })
	n.Subscribe("/tests/basic-types/", func(Event) { child.Add(1) })

	n.NotifyChanged("/tests/greeting", "")
	n.NotifyPathChanged("/", "")
	n.NotifyKeysChanged("/tests/basic-types/", []string{"test-byte", "test-int16"}, "")

	if got := tests.Load(); got != 3 {
		t.Errorf("/tests/ observer got %d events, want 3", got)
	}
	if got := other.Load(); got != 1 {
		t.Errorf("/other/ observer got %d events, want 1", got)
	}
	if got := child.Load(); got != 2 {
		t.Errorf("/tests/basic-types/ observer got %d events, want 2", got)
	}
}

func TestNotifier_Order(t *testing.T) {
	n := New()
	defer n.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		n.Subscribe("/", func(Event) { order = append(order, i) })
	}
	n.NotifyChanged("/a", "")

	for i, v := range order {
		if v != i {
			t.Fatalf("delivery order = %v, want subscription order", order)
		}
	}
}

func TestNotifier_Async(t *testing.T) {
	n := New(WithAsync(10))
	defer n.Close()

	var mu sync.Mutex
	var keys []string
	n.Subscribe("/", func(e Event) {
		mu.Lock()
		keys = append(keys, e.Prefix)
		mu.Unlock()
	})

	for _, k := range []string{"/a", "/b", "/c"} {
		n.NotifyChanged(k, "")
	}
	n.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 3 || keys[0] != "/a" || keys[1] != "/b" || keys[2] != "/c" {
		t.Errorf("async delivery = %v, want [/a /b /c]", keys)
	}
}

func TestEvent_FullKeys(t *testing.T) {
	e := Event{Kind: KeysChanged, Prefix: "/tests/", Keys: []string{"greeting", "farewell"}}
	got := e.FullKeys()
	if len(got) != 2 || got[0] != "/tests/greeting" || got[1] != "/tests/farewell" {
		t.Errorf("FullKeys() = %v", got)
	}
	if keys := (Event{Kind: PathChanged, Prefix: "/"}).FullKeys(); keys != nil {
		t.Errorf("path event FullKeys() = %v, want nil", keys)
	}
	if !(Event{Kind: WritableChanged}).IsWritability() {
		t.Error("WritableChanged should be a writability event")
	}
}

func TestBatch_Commit(t *testing.T) {
	n := New()
	defer n.Close()

	var events []Event
	n.Subscribe("", func(e Event) { events = append(events, e) })

	b := n.NewBatch()
	b.Add("/tests/greeting", "/tests/farewell")
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
	b.Commit("me")

	if len(events) != 1 {
		t.Fatalf("events = %d, want exactly 1", len(events))
	}
	e := events[0]
	if e.Kind != KeysChanged || e.Prefix != "/tests/" || e.Origin != "me" {
		t.Errorf("event = %+v", e)
	}
	if len(e.Keys) != 2 || e.Keys[0] != "greeting" || e.Keys[1] != "farewell" {
		t.Errorf("Keys = %v", e.Keys)
	}

	b.Add("/tests/greeting")
	b.Commit("")
	if len(events) != 2 || events[1].Kind != Changed {
		t.Errorf("single key batch should send a Changed event, got %+v", events)
	}

	b.Commit("")
	if len(events) != 2 {
		t.Error("empty batch should send nothing")
	}
}

func TestBatch_Discard(t *testing.T) {
	n := New()
	defer n.Close()

	var count atomic.Int32
	n.Subscribe("", func(Event) { count.Add(1) })

	b := n.NewBatch()
	b.Add("/a", "/b")
	b.Discard()
	b.Commit("")

	if count.Load() != 0 {
		t.Error("discarded batch delivered events")
	}
}

func TestSplitCommonPrefix(t *testing.T) {
	tests := []struct {
		keys   []string
		prefix string
		rel    []string
	}{
		{[]string{"/tests/a", "/tests/b"}, "/tests/", []string{"a", "b"}},
		{[]string{"/tests/ab", "/tests/ac"}, "/tests/", []string{"ab", "ac"}},
		{[]string{"/tests/x/a", "/other/b"}, "/", []string{"tests/x/a", "other/b"}},
		{[]string{"/tests/a"}, "/tests/", []string{"a"}},
	}

	for _, tt := range tests {
		prefix, rel := SplitCommonPrefix(tt.keys)
		if prefix != tt.prefix {
			t.Errorf("SplitCommonPrefix(%v) prefix = %q, want %q", tt.keys, prefix, tt.prefix)
		}
		for i := range tt.rel {
			if rel[i] != tt.rel[i] {
				t.Errorf("SplitCommonPrefix(%v) rel = %v, want %v", tt.keys, rel, tt.rel)
				break
			}
		}
	}
}

func TestNotifier_ConcurrentAccess(t *testing.T) {
	n := New()
	defer n.Close()

	var wg sync.WaitGroup
	var count atomic.Int64

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := n.Subscribe("/", func(Event) { count.Add(1) })
			for j := 0; j < 100; j++ {
				n.NotifyChanged("/k", "")
			}
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		t.Error("expected some notifications to be delivered")
	}
}

func TestNotifier_CloseIdempotentAsync(t *testing.T) {
	n := New(WithAsync(10))
	n.Close()
	n.Close()
	n.NotifyChanged("/a", "")
	n.Flush()
}
