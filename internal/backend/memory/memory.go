// Package memory implements a settings backend held entirely in process
// memory. Nothing is persisted.
package memory

import (
	"sync"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

// Backend is an in-memory settings store. It is safe for concurrent use.
type Backend struct {
	backend.Base

	mu     sync.RWMutex
	values map[string]variant.Value
}

// New creates an empty in-memory backend. Options configure its
// notification bus.
func New(opts ...notify.Option) *Backend {
	return &Backend{
		Base:   backend.NewBase(opts...),
		values: make(map[string]variant.Value),
	}
}

// Read returns the stored value of key if it has type typ.
func (b *Backend) Read(key string, typ variant.Type) (variant.Value, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok || v.Type() != typ {
		return variant.Value{}, false
	}
	return v, true
}

// Write stores or removes a value and announces the change.
func (b *Backend) Write(key string, value *variant.Value, origin string) error {
	b.mu.Lock()
	b.apply(key, value)
	b.mu.Unlock()

	b.Changed(key, origin)
	return nil
}

// WriteTree stores every entry and announces them as one change.
func (b *Backend) WriteTree(tree *backend.Changeset, origin string) error {
	if tree.Len() == 0 {
		return nil
	}
	b.mu.Lock()
	tree.Range(func(k string, v *variant.Value) bool {
		b.apply(k, v)
		return true
	})
	b.mu.Unlock()

	b.TreeChanged(tree, origin)
	return nil
}

func (b *Backend) apply(key string, value *variant.Value) {
	if value == nil {
		delete(b.values, key)
		return
	}
	b.values[key] = *value
}

// IsWritable always returns true.
func (b *Backend) IsWritable(string) bool { return true }

// Sync is a no-op.
func (b *Backend) Sync() error { return nil }

// Keys returns the stored keys under prefix.
func (b *Backend) Keys(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys
}

// Close shuts down the notification bus.
func (b *Backend) Close() error {
	b.CloseNotifier()
	return nil
}

var _ backend.Backend = (*Backend)(nil)
