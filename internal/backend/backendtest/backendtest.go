// Package backendtest checks that a backend honours the storage contract.
package backendtest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

// Recorder collects events delivered to a subscription.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
	signal chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 64)}
}

// Observe is the notify.Observer to subscribe.
func (r *Recorder) Observe(e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WaitFor blocks until n events have been recorded or the timeout passes.
func (r *Recorder) WaitFor(t testing.TB, n int, timeout time.Duration) []notify.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if ev := r.Events(); len(ev) >= n {
			return ev
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(r.Events()))
		}
	}
}

// Run exercises the contract against backends built by newBackend. The
// backend must accept writes below /tests/.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("WriteRead", func(t *testing.T) {
		b := newBackend(t)
		v := variant.NewString("see if this works")
		require.NoError(t, b.Write("/tests/greeting", &v, ""))

		got, ok := b.Read("/tests/greeting", variant.TypeString)
		require.True(t, ok)
		assert.Equal(t, "see if this works", got.Str())

		_, ok = b.Read("/tests/greeting", variant.TypeInt32)
		assert.False(t, ok, "a read with another type finds nothing")
	})

	t.Run("Reset", func(t *testing.T) {
		b := newBackend(t)
		v := variant.NewInt32(7)
		require.NoError(t, b.Write("/tests/val", &v, ""))
		require.NoError(t, b.Write("/tests/val", nil, ""))
		_, ok := b.Read("/tests/val", variant.TypeInt32)
		assert.False(t, ok)
		require.NoError(t, b.Write("/tests/val", nil, ""), "reset is idempotent")
	})

	t.Run("ComplexValues", func(t *testing.T) {
		b := newBackend(t)
		v := variant.MustParse("a{sau}", "{'one': [1, 2], 'two': []}")
		require.NoError(t, b.Write("/tests/dict", &v, ""))
		got, ok := b.Read("/tests/dict", "a{sau}")
		require.True(t, ok)
		assert.True(t, variant.Equal(v, got), "got %v", got)
	})

	t.Run("WriteNotifies", func(t *testing.T) {
		b := newBackend(t)
		rec := NewRecorder()
		sub := b.Subscribe("/tests/", rec.Observe)
		defer sub.Unsubscribe()

		v := variant.NewBool(true)
		require.NoError(t, b.Write("/tests/flag", &v, "origin-a"))

		events := rec.WaitFor(t, 1, 5*time.Second)
		assert.Equal(t, []string{"/tests/flag"}, events[0].FullKeys())
		assert.Equal(t, "origin-a", events[0].Origin)
	})

	t.Run("WriteTreeAtomic", func(t *testing.T) {
		b := newBackend(t)
		rec := NewRecorder()
		var seen []string
		var mu sync.Mutex
		sub := b.Subscribe("/tests/", func(e notify.Event) {
			// every key of the tree is already visible when the event arrives
			mu.Lock()
			for _, k := range e.FullKeys() {
				if v, ok := b.Read(k, variant.TypeString); ok {
					seen = append(seen, v.Str())
				}
			}
			mu.Unlock()
			rec.Observe(e)
		})
		defer sub.Unsubscribe()

		tree := backend.NewChangeset()
		a, c := variant.NewString("A"), variant.NewString("C")
		tree.Set("/tests/a", &a)
		tree.Set("/tests/c", &c)
		require.NoError(t, b.WriteTree(tree, "tx"))

		events := rec.WaitFor(t, 1, 5*time.Second)
		time.Sleep(50 * time.Millisecond)
		require.Len(t, rec.Events(), 1, "one event for the whole tree")
		assert.ElementsMatch(t, []string{"/tests/a", "/tests/c"}, events[0].FullKeys())
		assert.Equal(t, "tx", events[0].Origin)
		mu.Lock()
		assert.ElementsMatch(t, []string{"A", "C"}, seen)
		mu.Unlock()
	})
}
