// Package keyfile implements a settings backend stored in a TOML file.
//
// Keys below the backend's root path map onto TOML tables: the part of the
// relative key before the last '/' names the table and the rest names the
// entry. Keys directly below the root go into the root group when one is
// configured. Values are kept in their printed form, so
//
//	/apps/editor/font = "'Monospace 10'"
//
// with root path "/apps/" is stored as
//
//	[editor]
//	font = "'Monospace 10'"
//
// The containing directory is watched. Edits made by other processes are
// reloaded and announced with an empty origin, and changes to the directory's
// permissions are announced as writability changes.
package keyfile

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
	"github.com/dshills/confstore/internal/watcher"
)

// ErrInvalidRoot is returned for a root path that is not of the form
// "/a/b/".
var ErrInvalidRoot = errors.New("keyfile: root path must start and end with '/'")

// ErrInvalidUTF8 is returned for a write whose value holds a string that is
// not valid UTF-8. Such a string cannot be stored without alteration.
var ErrInvalidUTF8 = errors.New("keyfile: string is not valid UTF-8")

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithDebounce sets how long file events are coalesced before reloading.
func WithDebounce(d time.Duration) Option {
	return func(b *Backend) { b.debounce = d }
}

// WithNotifyOptions configures the notification bus.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(b *Backend) { b.notifyOpts = opts }
}

type groups map[string]map[string]string

// Backend is a TOML file backed store.
type Backend struct {
	backend.Base

	file      string
	dir       string
	prefix    string
	rootGroup string

	log        logger.Logger
	debounce   time.Duration
	notifyOpts []notify.Option

	mu       sync.Mutex
	data     groups
	digest   [sha256.Size]byte
	writable bool
	closed   bool

	watcher *watcher.Watcher
}

// New opens the store at file. rootPath is the key prefix the store serves
// and rootGroup, when not empty, names the table that holds keys directly
// below it. The containing directory is created if needed.
func New(file, rootPath, rootGroup string, opts ...Option) (*Backend, error) {
	if !strings.HasPrefix(rootPath, "/") || !strings.HasSuffix(rootPath, "/") || strings.Contains(rootPath, "//") {
		return nil, ErrInvalidRoot
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		file:      abs,
		dir:       filepath.Dir(abs),
		prefix:    rootPath,
		rootGroup: rootGroup,
		debounce:  20 * time.Millisecond,
		data:      make(groups),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Base = backend.NewBase(b.notifyOpts...)
	b.log = logger.OrDefault(b.log).With("component", "keyfile", "file", abs)

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return nil, fmt.Errorf("keyfile: creating %s: %w", b.dir, err)
	}
	b.writable = dirWritable(b.dir)

	if _, err := b.reload(); err != nil {
		return nil, err
	}

	w, err := watcher.New(watcher.WithDebounce(b.debounce), watcher.WithLogger(b.log))
	if err != nil {
		return nil, fmt.Errorf("keyfile: creating watcher: %w", err)
	}
	if err := w.Watch(b.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("keyfile: watching %s: %w", b.dir, err)
	}
	w.OnChange(b.handleEvent)
	b.watcher = w

	return b, nil
}

// File returns the absolute path of the store.
func (b *Backend) File() string { return b.file }

// convertPath maps an absolute key onto its group and entry name.
func (b *Backend) convertPath(key string) (group, name string, ok bool) {
	if !strings.HasPrefix(key, b.prefix) {
		return "", "", false
	}
	rel := key[len(b.prefix):]
	if rel == "" {
		return "", "", false
	}

	slash := strings.LastIndexByte(rel, '/')
	if slash < 0 {
		if b.rootGroup == "" {
			return "", "", false
		}
		return b.rootGroup, rel, true
	}
	if slash == 0 || slash == len(rel)-1 {
		return "", "", false
	}
	group = rel[:slash]
	// a real group with the root group's name would shadow the root keys
	if b.rootGroup != "" && group == b.rootGroup {
		return "", "", false
	}
	return group, rel[slash+1:], true
}

// fullKey is the inverse of convertPath.
func (b *Backend) fullKey(group, name string) string {
	if b.rootGroup != "" && group == b.rootGroup {
		return b.prefix + name
	}
	return b.prefix + group + "/" + name
}

// Read returns the stored value of key parsed as typ.
func (b *Backend) Read(key string, typ variant.Type) (variant.Value, bool) {
	group, name, ok := b.convertPath(key)
	if !ok {
		return variant.Value{}, false
	}

	b.mu.Lock()
	text, ok := b.data[group][name]
	b.mu.Unlock()
	if !ok {
		return variant.Value{}, false
	}

	v, err := variant.Parse(typ, text)
	if err != nil {
		if typ == variant.TypeString {
			return variant.NewString(text), true
		}
		b.log.Debug("ignoring unparsable value", "key", key, "type", string(typ), "error", err)
		return variant.Value{}, false
	}
	return v, true
}

// Write stores or removes a value.
func (b *Backend) Write(key string, value *variant.Value, origin string) error {
	tree := backend.NewChangeset()
	tree.Set(key, value)
	if err := b.store(tree); err != nil {
		return err
	}
	b.Changed(key, origin)
	return nil
}

// WriteTree stores every entry with a single file write. Nothing is written
// unless every key is writable.
func (b *Backend) WriteTree(tree *backend.Changeset, origin string) error {
	if tree.Len() == 0 {
		return nil
	}
	if err := b.store(tree); err != nil {
		return err
	}
	b.TreeChanged(tree, origin)
	return nil
}

func (b *Backend) store(tree *backend.Changeset) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	if !b.writable {
		return backend.ErrNotWritable
	}

	type target struct{ group, name string }
	targets := make([]target, 0, tree.Len())
	for _, key := range tree.Keys() {
		group, name, ok := b.convertPath(key)
		if !ok {
			return fmt.Errorf("%w: %s", backend.ErrNotWritable, key)
		}
		if v, _ := tree.Get(key); v != nil && !v.ValidUTF8() {
			return fmt.Errorf("%w: %s", ErrInvalidUTF8, key)
		}
		targets = append(targets, target{group, name})
	}

	next := b.data.clone()
	i := 0
	tree.Range(func(_ string, v *variant.Value) bool {
		t := targets[i]
		i++
		if v == nil {
			next.remove(t.group, t.name)
			return true
		}
		next.set(t.group, t.name, v.Print(false))
		return true
	})

	if err := b.save(next); err != nil {
		return err
	}
	b.data = next
	return nil
}

// save writes data to the file through a temporary file in the same
// directory. Called with mu held.
func (b *Backend) save(data groups) error {
	content, err := toml.Marshal(map[string]map[string]string(data))
	if err != nil {
		return fmt.Errorf("keyfile: encoding: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, "."+filepath.Base(b.file)+".*")
	if err != nil {
		return fmt.Errorf("keyfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("keyfile: writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("keyfile: %w", err)
	}
	if err := os.Rename(tmpName, b.file); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("keyfile: replacing %s: %w", b.file, err)
	}
	b.digest = sha256.Sum256(content)
	return nil
}

// IsWritable reports whether key maps into the file and the directory is
// writable.
func (b *Backend) IsWritable(key string) bool {
	if _, _, ok := b.convertPath(key); !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writable && !b.closed
}

// Sync is a no-op; every write reaches the file before it returns.
func (b *Backend) Sync() error { return nil }

// Close stops watching the file.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.watcher.Close()
	b.CloseNotifier()
	return err
}

func (b *Backend) handleEvent(ev watcher.Event) {
	switch ev.Path {
	case b.file:
		changed, err := b.reload()
		if err != nil {
			b.log.Warn("reloading store failed", "error", err)
			return
		}
		if len(changed) == 0 {
			return
		}
		b.log.Debug("store changed on disk", "keys", len(changed))
		batch := b.Notifier().NewBatch()
		batch.Add(changed...)
		batch.Commit("")

	case b.dir:
		if !ev.Op.Has(watcher.OpChmod) {
			return
		}
		writable := dirWritable(b.dir)
		b.mu.Lock()
		changed := writable != b.writable
		b.writable = writable
		b.mu.Unlock()
		if changed {
			b.log.Debug("store writability changed", "writable", writable)
			b.PathWritableChanged(b.prefix)
		}
	}
}

// reload reads the file and returns the keys whose stored text differs from
// what was held before. Contents identical to our own last write are
// skipped.
func (b *Backend) reload() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil
	}

	content, err := os.ReadFile(b.file)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("keyfile: reading %s: %w", b.file, err)
	}
	digest := sha256.Sum256(content)
	if digest == b.digest {
		return nil, nil
	}

	next, err := b.parse(content)
	if err != nil {
		return nil, err
	}

	var changed []string
	for group, entries := range next {
		for name, text := range entries {
			if old, ok := b.data[group][name]; !ok || old != text {
				changed = append(changed, b.fullKey(group, name))
			}
		}
	}
	for group, entries := range b.data {
		for name := range entries {
			if _, ok := next[group][name]; !ok {
				changed = append(changed, b.fullKey(group, name))
			}
		}
	}
	sort.Strings(changed)

	b.data = next
	b.digest = digest
	return changed, nil
}

func (b *Backend) parse(content []byte) (groups, error) {
	out := make(groups)
	if len(bytes.TrimSpace(content)) == 0 {
		return out, nil
	}

	var raw map[string]any
	if err := toml.Unmarshal(content, &raw); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("keyfile: parse error in %s at line %d, column %d: %w", b.file, row, col, err)
		}
		return nil, fmt.Errorf("keyfile: parse error in %s: %w", b.file, err)
	}

	for group, v := range raw {
		table, ok := v.(map[string]any)
		if !ok {
			b.log.Debug("ignoring entry outside a group", "name", group)
			continue
		}
		for name, value := range table {
			text, ok := render(value)
			if !ok {
				b.log.Debug("ignoring entry with unsupported value", "group", group, "name", name)
				continue
			}
			out.set(group, name, text)
		}
	}
	return out, nil
}

// render turns a TOML value written by hand into value text.
func render(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s, true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, variant.Quote(s))
				continue
			}
			s, ok := render(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", true
	}
	return "", false
}

func (g groups) clone() groups {
	out := make(groups, len(g))
	for group, entries := range g {
		m := make(map[string]string, len(entries))
		for k, v := range entries {
			m[k] = v
		}
		out[group] = m
	}
	return out
}

func (g groups) set(group, name, text string) {
	entries, ok := g[group]
	if !ok {
		entries = make(map[string]string)
		g[group] = entries
	}
	entries[name] = text
}

func (g groups) remove(group, name string) {
	entries, ok := g[group]
	if !ok {
		return
	}
	delete(entries, name)
	if len(entries) == 0 {
		delete(g, group)
	}
}

var _ backend.Backend = (*Backend)(nil)
