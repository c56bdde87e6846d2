package settings

import (
	"strings"

	"github.com/dshills/confstore/internal/notify"
)

type handlerKind int

const (
	onChanged handlerKind = iota
	onChangeEvent
	onWritableChanged
	onWritableChangeEvent
	onUnapplied
	onClose
)

type handler struct {
	id   uint64
	kind handlerKind
	key  string

	keyFn   func(key string)
	keysFn  func(keys []string)
	flagFn  func(bool)
	closeFn func()
}

// Handle identifies a registered handler.
type Handle struct {
	s  *Settings
	id uint64
}

// Disconnect removes the handler. It is safe to call more than once.
func (h Handle) Disconnect() {
	if h.s == nil {
		return
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for i, e := range h.s.handlers {
		if e.id == h.id {
			h.s.handlers = append(h.s.handlers[:i:i], h.s.handlers[i+1:]...)
			return
		}
	}
}

func (s *Settings) connect(h handler) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h.id = s.nextID
	s.handlers = append(s.handlers, h)
	return Handle{s: s, id: h.id}
}

// OnChanged calls fn after key changes. An empty key matches every key.
func (s *Settings) OnChanged(key string, fn func(key string)) Handle {
	return s.connect(handler{kind: onChanged, key: key, keyFn: fn})
}

// OnChangeEvent calls fn once per change with every key it touched, before
// any OnChanged handler runs.
func (s *Settings) OnChangeEvent(fn func(keys []string)) Handle {
	return s.connect(handler{kind: onChangeEvent, keysFn: fn})
}

// OnWritableChanged calls fn after the writability of key changes. An empty
// key matches every key.
func (s *Settings) OnWritableChanged(key string, fn func(key string)) Handle {
	return s.connect(handler{kind: onWritableChanged, key: key, keyFn: fn})
}

// OnWritableChangeEvent calls fn once per writability change with the keys
// it may affect.
func (s *Settings) OnWritableChangeEvent(fn func(keys []string)) Handle {
	return s.connect(handler{kind: onWritableChangeEvent, keysFn: fn})
}

// OnUnappliedChanged calls fn when HasUnapplied flips. Only the instance
// that called Delay reports these.
func (s *Settings) OnUnappliedChanged(fn func(bool)) Handle {
	return s.connect(handler{kind: onUnapplied, flagFn: fn})
}

// OnClose calls fn when the instance is closed.
func (s *Settings) OnClose(fn func()) Handle {
	return s.connect(handler{kind: onClose, closeFn: fn})
}

func (s *Settings) snapshot(kind handlerKind) []handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []handler
	for _, h := range s.handlers {
		if h.kind == kind {
			out = append(out, h)
		}
	}
	return out
}

// handleEvent turns a backend event into handler calls.
func (s *Settings) handleEvent(e notify.Event) {
	var keys []string
	switch e.Kind {
	case notify.Changed, notify.KeysChanged, notify.WritableChanged:
		keys = s.relativeKeys(e.FullKeys())
	case notify.PathChanged, notify.PathWritableChanged:
		if strings.HasPrefix(s.path, e.Prefix) || strings.HasPrefix(e.Prefix, s.path) {
			keys = s.schema.ListKeys()
		}
	}
	if len(keys) == 0 {
		return
	}

	if e.IsWritability() {
		s.dispatch(onWritableChangeEvent, onWritableChanged, keys)
		return
	}
	s.dispatch(onChangeEvent, onChanged, keys)
}

func (s *Settings) relativeKeys(full []string) []string {
	var keys []string
	for _, k := range full {
		if !strings.HasPrefix(k, s.path) {
			continue
		}
		rel := k[len(s.path):]
		if s.schema.HasKey(rel) {
			keys = append(keys, rel)
		}
	}
	return keys
}

// dispatch runs the event handlers, then the per-key handlers for each key.
func (s *Settings) dispatch(eventKind, keyKind handlerKind, keys []string) {
	for _, h := range s.snapshot(eventKind) {
		h.keysFn(append([]string(nil), keys...))
	}
	perKey := s.snapshot(keyKind)
	for _, key := range keys {
		for _, h := range perKey {
			if h.key == "" || h.key == key {
				h.keyFn(key)
			}
		}
	}
}

func (s *Settings) notifyUnapplied(v bool) {
	for _, h := range s.snapshot(onUnapplied) {
		h.flagFn(v)
	}
}

func (s *Settings) runCloseHandlers() {
	hs := s.snapshot(onClose)
	s.mu.Lock()
	s.handlers = nil
	s.mu.Unlock()
	for _, h := range hs {
		h.closeFn()
	}
}
