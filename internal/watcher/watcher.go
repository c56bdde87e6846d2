// Package watcher reports file system changes to registered handlers. It
// wraps fsnotify and coalesces bursts of events on the same path.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/confstore/internal/logger"
)

// Errors returned by the watcher.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
)

// Op describes what happened to a path. Several bits may be set after
// coalescing.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Has reports whether o includes op.
func (o Op) Has(op Op) bool { return o&op != 0 }

// String returns a readable form such as "WRITE|CHMOD".
func (o Op) String() string {
	names := []struct {
		op   Op
		name string
	}{
		{OpCreate, "CREATE"}, {OpWrite, "WRITE"}, {OpRemove, "REMOVE"},
		{OpRename, "RENAME"}, {OpChmod, "CHMOD"},
	}
	s := ""
	for _, n := range names {
		if o.Has(n.op) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Event is a change to one path.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Handler is called for each (coalesced) event.
type Handler func(Event)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long events on one path are collected before the
// handlers run. Zero delivers every event immediately.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger used for watch errors.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// Watcher watches files and directories.
type Watcher struct {
	mu sync.Mutex

	fsw      *fsnotify.Watcher
	log      logger.Logger
	debounce time.Duration

	paths    map[string]bool
	handlers []Handler
	pending  map[string]*pendingEvent

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: 50 * time.Millisecond,
		paths:    make(map[string]bool),
		pending:  make(map[string]*pendingEvent),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.OrDefault(w.log).With("component", "watcher")

	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Watch starts watching path. Watching a directory reports changes to its
// entries and to the directory itself.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[abs] {
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.paths[abs] = true
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if !w.paths[abs] {
		return nil
	}
	delete(w.paths, abs)
	return w.fsw.Remove(abs)
}

// OnChange registers a handler.
func (w *Watcher) OnChange(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Close stops the watcher. Pending debounced events are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if op := convertOp(ev.Op); op != 0 {
				w.queue(Event{Path: filepath.Clean(ev.Name), Op: op, Time: time.Now()})
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watch error", "error", err)
		}
	}
}

// queue delivers ev immediately or merges it into the pending event for the
// same path.
func (w *Watcher) queue(ev Event) {
	if w.debounce <= 0 {
		w.dispatch(ev)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if p, ok := w.pending[ev.Path]; ok {
		p.event.Op |= ev.Op
		p.event.Time = ev.Time
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingEvent{event: ev}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(ev.Path) })
	w.pending[ev.Path] = p
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	closed := w.closed
	w.mu.Unlock()

	if ok && !closed {
		w.dispatch(p.event)
	}
}

func (w *Watcher) dispatch(ev Event) {
	w.mu.Lock()
	handlers := append([]Handler(nil), w.handlers...)
	w.mu.Unlock()

	for _, h := range handlers {
		w.safeCallHandler(h, ev)
	}
}

// safeCallHandler calls a handler with panic recovery.
func (w *Watcher) safeCallHandler(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("watch handler panicked", "path", ev.Path, "panic", r)
		}
	}()
	h(ev)
}

// convertOp converts fsnotify.Op to watcher.Op.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}
