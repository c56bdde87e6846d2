// Package backend defines the storage contract for settings: a flat
// namespace of absolute keys such as "/org/example/app/greeting" mapped to
// typed values, with change notification.
//
// Implementations live in subpackages: memory (process local), null
// (discards writes), keyfile (TOML file on disk), badgerdb (embedded
// database), delayed (a pending-changes overlay) and instrument (metrics).
package backend

import (
	"errors"

	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

// Errors returned by backends.
var (
	// ErrNotWritable indicates the key may not be written.
	ErrNotWritable = errors.New("key is not writable")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend is closed")
)

// Backend stores settings values.
//
// A Read following a successful Write or WriteTree returns the written value
// until it is overwritten or reset. A successful WriteTree is observed by
// subscribers as a single event naming every changed key.
type Backend interface {
	// Read returns the stored value of key if one exists and has type typ.
	Read(key string, typ variant.Type) (variant.Value, bool)

	// Write stores value under key, or removes the stored value when value
	// is nil. origin is passed through to the change event.
	Write(key string, value *variant.Value, origin string) error

	// WriteTree stores every entry of tree atomically.
	WriteTree(tree *Changeset, origin string) error

	// IsWritable reports whether key may currently be written.
	IsWritable(key string) bool

	// Subscribe registers an observer for events overlapping prefix.
	Subscribe(prefix string, observer notify.Observer) *notify.Subscription

	// Sync flushes pending writes to permanent storage.
	Sync() error
}

// Base provides the notification plumbing shared by implementations.
type Base struct {
	notifier *notify.Notifier
}

// NewBase creates the notification bus for a backend.
func NewBase(opts ...notify.Option) Base {
	return Base{notifier: notify.New(opts...)}
}

// Subscribe registers an observer for events overlapping prefix.
func (b *Base) Subscribe(prefix string, observer notify.Observer) *notify.Subscription {
	return b.notifier.Subscribe(prefix, observer)
}

// Notifier returns the backend's bus.
func (b *Base) Notifier() *notify.Notifier { return b.notifier }

// Changed announces a single key change.
func (b *Base) Changed(key, origin string) {
	b.notifier.NotifyChanged(key, origin)
}

// TreeChanged announces every key of tree in one event.
func (b *Base) TreeChanged(tree *Changeset, origin string) {
	batch := b.notifier.NewBatch()
	batch.Add(tree.Keys()...)
	batch.Commit(origin)
}

// KeysChanged announces several keys below prefix in one event.
func (b *Base) KeysChanged(prefix string, keys []string, origin string) {
	b.notifier.NotifyKeysChanged(prefix, keys, origin)
}

// PathChanged announces that anything under path may have changed.
func (b *Base) PathChanged(path, origin string) {
	b.notifier.NotifyPathChanged(path, origin)
}

// WritableChanged announces a writability change of one key.
func (b *Base) WritableChanged(key string) {
	b.notifier.NotifyWritableChanged(key)
}

// PathWritableChanged announces a writability change below path.
func (b *Base) PathWritableChanged(path string) {
	b.notifier.NotifyPathWritableChanged(path)
}

// Flush waits until queued events have been delivered.
func (b *Base) Flush() { b.notifier.Flush() }

// CloseNotifier shuts down the bus.
func (b *Base) CloseNotifier() { b.notifier.Close() }
