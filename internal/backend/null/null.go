// Package null implements a backend that stores nothing. Every key reads as
// unset, so settings report their schema defaults, and no key is writable.
package null

import (
	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/variant"
)

// Backend discards all writes.
type Backend struct {
	backend.Base
}

// New creates a null backend.
func New() *Backend {
	return &Backend{Base: backend.NewBase()}
}

// Read never finds a value.
func (b *Backend) Read(string, variant.Type) (variant.Value, bool) {
	return variant.Value{}, false
}

// Write accepts and discards the value. No event is sent.
func (b *Backend) Write(string, *variant.Value, string) error { return nil }

// WriteTree accepts and discards the tree. No event is sent.
func (b *Backend) WriteTree(*backend.Changeset, string) error { return nil }

// IsWritable always returns false.
func (b *Backend) IsWritable(string) bool { return false }

// Sync is a no-op.
func (b *Backend) Sync() error { return nil }

var _ backend.Backend = (*Backend)(nil)
