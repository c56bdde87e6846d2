// Package delayed implements a backend overlay that holds writes back until
// they are applied.
//
// Writes land in a pending changeset and are announced only to the
// overlay's own subscribers. Apply commits the changeset to the underlying
// backend as one atomic tree write; Revert discards it. Reads see pending
// values first. Events from the underlying backend are passed on.
package delayed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

// Backend is a pending-changes overlay over another backend.
type Backend struct {
	backend.Base

	under backend.Backend
	sub   *notify.Subscription

	mu      sync.Mutex
	pending *backend.Changeset
	onFlag  func(bool)
	closed  bool
}

// New wraps under. The overlay subscribes to every event of under until
// Close.
func New(under backend.Backend) *Backend {
	b := &Backend{
		Base:    backend.NewBase(),
		under:   under,
		pending: backend.NewChangeset(),
	}
	b.sub = under.Subscribe("", b.forward)
	return b
}

// Underlying returns the wrapped backend.
func (b *Backend) Underlying() backend.Backend { return b.under }

// OnUnappliedChanged registers fn to be called whenever HasUnapplied flips.
// It replaces any earlier callback.
func (b *Backend) OnUnappliedChanged(fn func(bool)) {
	b.mu.Lock()
	b.onFlag = fn
	b.mu.Unlock()
}

// HasUnapplied reports whether any writes are pending.
func (b *Backend) HasUnapplied() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len() > 0
}

// Pending returns a copy of the pending changeset.
func (b *Backend) Pending() *backend.Changeset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Clone()
}

// Read returns the pending value of key, or the underlying value when
// nothing is pending. A pending reset reads as unset.
func (b *Backend) Read(key string, typ variant.Type) (variant.Value, bool) {
	b.mu.Lock()
	v, ok := b.pending.Get(key)
	b.mu.Unlock()

	if !ok {
		return b.under.Read(key, typ)
	}
	if v == nil || v.Type() != typ {
		return variant.Value{}, false
	}
	return *v, true
}

// Write records value as pending.
func (b *Backend) Write(key string, value *variant.Value, origin string) error {
	tree := backend.NewChangeset()
	tree.Set(key, value)
	return b.WriteTree(tree, origin)
}

// WriteTree records every entry of tree as pending and announces it to the
// overlay's subscribers. It fails with backend.ErrClosed after Close.
func (b *Backend) WriteTree(tree *backend.Changeset, origin string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return backend.ErrClosed
	}
	if tree.Len() == 0 {
		b.mu.Unlock()
		return nil
	}
	was := b.pending.Len() > 0
	tree.Range(func(key string, v *variant.Value) bool {
		b.pending.Set(key, v)
		return true
	})
	fn := b.onFlag
	b.mu.Unlock()

	b.TreeChanged(tree, origin)
	if !was && fn != nil {
		fn(true)
	}
	return nil
}

// IsWritable defers to the underlying backend.
func (b *Backend) IsWritable(key string) bool { return b.under.IsWritable(key) }

// Sync defers to the underlying backend.
func (b *Backend) Sync() error { return b.under.Sync() }

// Apply commits the pending changes to the underlying backend in one tree
// write. When the write fails the changes stay pending.
func (b *Backend) Apply(origin string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return backend.ErrClosed
	}
	if b.pending.Len() == 0 {
		b.mu.Unlock()
		return nil
	}
	tree := b.pending.Clone()
	b.mu.Unlock()

	if err := b.under.WriteTree(tree, origin); err != nil {
		return fmt.Errorf("applying %d pending changes: %w", tree.Len(), err)
	}

	b.mu.Lock()
	// drop only what was applied; writes made during the commit stay pending
	tree.Range(func(key string, v *variant.Value) bool {
		if cur, ok := b.pending.Get(key); ok && sameValue(cur, v) {
			b.pending.Delete(key)
		}
		return true
	})
	now := b.pending.Len() > 0
	fn := b.onFlag
	b.mu.Unlock()

	if !now && fn != nil {
		fn(false)
	}
	return nil
}

// Revert discards the pending changes and announces the affected keys so
// readers fall back to the underlying values.
func (b *Backend) Revert() {
	b.mu.Lock()
	if b.pending.Len() == 0 {
		b.mu.Unlock()
		return
	}
	tree := b.pending
	b.pending = backend.NewChangeset()
	fn := b.onFlag
	b.mu.Unlock()

	b.TreeChanged(tree, "")
	if fn != nil {
		fn(false)
	}
}

// Close stops forwarding events from the underlying backend and discards
// pending writes. The underlying backend stays open.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.pending = backend.NewChangeset()
	b.mu.Unlock()

	b.sub.Unsubscribe()
	b.CloseNotifier()
	return nil
}

// forward passes underlying events on and drops pending writes that have
// become unwritable.
func (b *Backend) forward(e notify.Event) {
	if e.IsWritability() {
		b.dropUnwritable(e)
	}
	b.Notifier().Notify(e)
}

func (b *Backend) dropUnwritable(e notify.Event) {
	b.mu.Lock()
	was := b.pending.Len() > 0
	for _, key := range b.pending.Keys() {
		match := key == e.Prefix
		if e.Kind == notify.PathWritableChanged {
			match = strings.HasPrefix(key, e.Prefix)
		}
		if match && !b.under.IsWritable(key) {
			b.pending.Delete(key)
		}
	}
	now := b.pending.Len() > 0
	fn := b.onFlag
	b.mu.Unlock()

	if was && !now && fn != nil {
		fn(false)
	}
}

func sameValue(a, b *variant.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return variant.Equal(*a, *b)
}

var _ backend.Backend = (*Backend)(nil)
