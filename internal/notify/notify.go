// Package notify provides the change notification bus shared by settings
// backends and the settings instances reading from them.
//
// Subscribers register a path prefix and receive every event whose path
// overlaps it: the event path is under the prefix, or the prefix is under the
// event path. One committed write produces exactly one event, so a
// multi-key write is observed atomically.
package notify

import (
	"sort"
	"strings"
	"sync"
)

// Kind represents the type of change.
type Kind int

const (
	// Changed indicates a single key's value changed. Prefix is the full key.
	Changed Kind = iota

	// KeysChanged indicates several keys changed at once. Keys are relative
	// to Prefix.
	KeysChanged

	// PathChanged indicates any key under Prefix may have changed.
	PathChanged

	// WritableChanged indicates a single key's writability changed.
	WritableChanged

	// PathWritableChanged indicates writability of keys under Prefix changed.
	PathWritableChanged
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case KeysChanged:
		return "keys-changed"
	case PathChanged:
		return "path-changed"
	case WritableChanged:
		return "writable-changed"
	case PathWritableChanged:
		return "path-writable-changed"
	default:
		return "unknown"
	}
}

// Event is one change notification.
type Event struct {
	Kind Kind

	// Prefix is the full key for single-key events, otherwise a path
	// ending in '/'.
	Prefix string

	// Keys lists the changed keys relative to Prefix (KeysChanged only).
	Keys []string

	// Origin identifies the writer. It is empty for external changes.
	Origin string
}

// FullKeys returns the absolute keys named by a Changed, WritableChanged or
// KeysChanged event. Path events return nil.
func (e Event) FullKeys() []string {
	switch e.Kind {
	case Changed, WritableChanged:
		return []string{e.Prefix}
	case KeysChanged:
		out := make([]string, len(e.Keys))
		for i, k := range e.Keys {
			out[i] = e.Prefix + k
		}
		return out
	}
	return nil
}

// IsWritability reports whether the event concerns writability rather than
// values.
func (e Event) IsWritability() bool {
	return e.Kind == WritableChanged || e.Kind == PathWritableChanged
}

// Overlaps reports whether either path is a prefix of the other.
func Overlaps(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// Observer is called for each delivered event.
type Observer func(Event)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	prefix   string
	notifier *Notifier
}

// Prefix returns the subscribed path prefix.
func (s *Subscription) Prefix() string { return s.prefix }

// Unsubscribe removes this subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

type subscriber struct {
	id       uint64
	prefix   string
	observer Observer
}

type delivery struct {
	event Event
	done  chan struct{}
}

// Notifier fans events out to subscribers in subscription order.
type Notifier struct {
	mu sync.RWMutex

	subscribers []subscriber

	// Next subscription ID
	nextID uint64

	// Whether to notify synchronously or asynchronously
	async bool

	// Buffer for async notifications
	buffer chan delivery

	// Done channel for shutdown
	done chan struct{}

	// Wait group for async goroutine
	wg sync.WaitGroup

	// Closed flag for idempotent Close
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync delivers events from a single background goroutine instead of
// the writer's goroutine. Order is preserved.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan delivery, bufferSize)
		}
	}
}

// New creates a new Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}

	return n
}

// Subscribe registers an observer for events overlapping prefix. An empty
// prefix receives everything.
func (n *Notifier) Subscribe(prefix string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subscribers = append(n.subscribers, subscriber{id: id, prefix: prefix, observer: observer})

	return &Subscription{id: id, prefix: prefix, notifier: n}
}

// Notify sends an event to every overlapping subscriber.
func (n *Notifier) Notify(event Event) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.mu.RUnlock()

	if n.async {
		select {
		case n.buffer <- delivery{event: event}:
		case <-n.done:
		}
		return
	}

	n.deliver(event)
}

// NotifyChanged is a convenience method for single-key changes.
func (n *Notifier) NotifyChanged(key, origin string) {
	n.Notify(Event{Kind: Changed, Prefix: key, Origin: origin})
}

// NotifyKeysChanged is a convenience method for multi-key changes.
func (n *Notifier) NotifyKeysChanged(prefix string, keys []string, origin string) {
	n.Notify(Event{Kind: KeysChanged, Prefix: prefix, Keys: keys, Origin: origin})
}

// NotifyPathChanged is a convenience method for subtree changes.
func (n *Notifier) NotifyPathChanged(path, origin string) {
	n.Notify(Event{Kind: PathChanged, Prefix: path, Origin: origin})
}

// NotifyWritableChanged is a convenience method for writability changes.
func (n *Notifier) NotifyWritableChanged(key string) {
	n.Notify(Event{Kind: WritableChanged, Prefix: key})
}

// NotifyPathWritableChanged is a convenience method for subtree writability
// changes.
func (n *Notifier) NotifyPathWritableChanged(path string) {
	n.Notify(Event{Kind: PathWritableChanged, Prefix: path})
}

// Flush blocks until every event queued before the call has been delivered.
// It returns immediately for synchronous notifiers.
func (n *Notifier) Flush() {
	if !n.async {
		return
	}
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return
	}
	done := make(chan struct{})
	select {
	case n.buffer <- delivery{done: done}:
	case <-n.done:
		return
	}
	select {
	case <-done:
	case <-n.done:
	}
}

// Close shuts down the notifier. It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

// unsubscribe removes an observer by ID.
func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	i := sort.Search(len(n.subscribers), func(i int) bool { return n.subscribers[i].id >= id })
	if i < len(n.subscribers) && n.subscribers[i].id == id {
		n.subscribers = append(n.subscribers[:i:i], n.subscribers[i+1:]...)
	}
}

// deliver sends an event to all matching observers.
func (n *Notifier) deliver(event Event) {
	n.mu.RLock()
	var observers []Observer
	for _, s := range n.subscribers {
		if Overlaps(s.prefix, event.Prefix) {
			observers = append(observers, s.observer)
		}
	}
	n.mu.RUnlock()

	// Call observers outside the lock
	for _, obs := range observers {
		obs(event)
	}
}

// processAsync handles asynchronous notification delivery.
func (n *Notifier) processAsync() {
	defer n.wg.Done()

	handle := func(d delivery) {
		if d.done != nil {
			close(d.done)
			return
		}
		n.deliver(d.event)
	}

	for {
		select {
		case d := <-n.buffer:
			handle(d)
		case <-n.done:
			// Drain remaining buffered events
			for {
				select {
				case d := <-n.buffer:
					handle(d)
				default:
					return
				}
			}
		}
	}
}

// Batch collects changed keys and delivers them as one KeysChanged event.
type Batch struct {
	notifier *Notifier
	keys     []string
	mu       sync.Mutex
}

// NewBatch creates a new batch for collecting changes.
func (n *Notifier) NewBatch() *Batch {
	return &Batch{notifier: n}
}

// Add adds a full key to the batch.
func (b *Batch) Add(keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, keys...)
}

// Commit sends the collected keys as a single event. A batch of one key is
// sent as a Changed event. Empty batches send nothing.
func (b *Batch) Commit(origin string) {
	b.mu.Lock()
	keys := b.keys
	b.keys = nil
	b.mu.Unlock()

	switch len(keys) {
	case 0:
		return
	case 1:
		b.notifier.NotifyChanged(keys[0], origin)
		return
	}
	prefix, rel := SplitCommonPrefix(keys)
	b.notifier.NotifyKeysChanged(prefix, rel, origin)
}

// Discard clears the batch without sending notifications.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = nil
}

// Len returns the number of pending keys.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

// SplitCommonPrefix returns the longest common path prefix of keys (ending
// in '/') and the keys relative to it.
func SplitCommonPrefix(keys []string) (string, []string) {
	if len(keys) == 0 {
		return "", nil
	}
	prefix := keys[0]
	for _, k := range keys[1:] {
		for !strings.HasPrefix(k, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if i := strings.LastIndexByte(prefix, '/'); i >= 0 {
		prefix = prefix[:i+1]
	} else {
		prefix = ""
	}
	rel := make([]string, len(keys))
	for i, k := range keys {
		rel[i] = k[len(prefix):]
	}
	return prefix, rel
}
