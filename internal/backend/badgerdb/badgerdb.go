// Package badgerdb implements a settings backend on an embedded BadgerDB
// database.
//
// Each key is stored under its absolute path. The stored value is the
// value's type string, a NUL byte, then its printed text. A Read with any
// other type finds nothing.
package badgerdb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

// Config holds configuration for a database backend.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory only.
	InMemory bool

	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool

	// ReadOnly opens the database read only. Every key reports unwritable.
	ReadOnly bool

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration

	// Logger receives database and backend messages.
	Logger logger.Logger

	// Notify configures the notification bus.
	Notify []notify.Option
}

// DefaultConfig returns the configuration for a durable database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Backend stores settings in BadgerDB.
type Backend struct {
	backend.Base

	db       *badger.DB
	log      logger.Logger
	inMemory bool
	readOnly bool

	stopGC chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerdb: path is required for a persistent database")
	}

	log := logger.OrDefault(cfg.Logger).With("component", "badgerdb")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
				return nil, fmt.Errorf("badgerdb: create directory %s: %w", cfg.Path, err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerdb: open: %w", err)
	}

	b := &Backend{
		Base:     backend.NewBase(cfg.Notify...),
		db:       db,
		log:      log,
		inMemory: cfg.InMemory,
		readOnly: cfg.ReadOnly,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory && !cfg.ReadOnly {
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		go b.runGC(cfg.GCInterval)
	}
	return b, nil
}

func encode(v *variant.Value) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(v.Type()))
	buf.WriteByte(0)
	buf.WriteString(v.Print(false))
	return buf.Bytes()
}

func decode(raw []byte, typ variant.Type) (variant.Value, bool) {
	i := bytes.IndexByte(raw, 0)
	if i < 0 || variant.Type(raw[:i]) != typ {
		return variant.Value{}, false
	}
	v, err := variant.Parse(typ, string(raw[i+1:]))
	if err != nil {
		return variant.Value{}, false
	}
	return v, true
}

// Read returns the stored value of key if it has type typ.
func (b *Backend) Read(key string, typ variant.Type) (variant.Value, bool) {
	var (
		v     variant.Value
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			v, found = decode(raw, typ)
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			b.log.Warn("read failed", "key", key, "error", err)
		}
		return variant.Value{}, false
	}
	return v, found
}

// Write stores or removes a value in its own transaction.
func (b *Backend) Write(key string, value *variant.Value, origin string) error {
	tree := backend.NewChangeset()
	tree.Set(key, value)
	if err := b.commit(tree); err != nil {
		return err
	}
	b.Changed(key, origin)
	return nil
}

// WriteTree stores every entry in one transaction.
func (b *Backend) WriteTree(tree *backend.Changeset, origin string) error {
	if tree.Len() == 0 {
		return nil
	}
	if err := b.commit(tree); err != nil {
		return err
	}
	b.TreeChanged(tree, origin)
	return nil
}

func (b *Backend) commit(tree *backend.Changeset) error {
	if b.readOnly {
		return backend.ErrNotWritable
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		var err error
		tree.Range(func(key string, v *variant.Value) bool {
			if v == nil {
				err = txn.Delete([]byte(key))
			} else {
				err = txn.Set([]byte(key), encode(v))
			}
			return err == nil
		})
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDBClosed):
		return backend.ErrClosed
	default:
		return fmt.Errorf("badgerdb: commit: %w", err)
	}
}

// IsWritable reports whether the database accepts writes.
func (b *Backend) IsWritable(string) bool {
	return !b.readOnly && !b.db.IsClosed()
}

// Keys returns the stored keys below prefix in order.
func (b *Backend) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Sync flushes writes to disk.
func (b *Backend) Sync() error {
	if b.inMemory || b.readOnly {
		return nil
	}
	return b.db.Sync()
}

// Close stops garbage collection and closes the database. It is safe to
// call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.stopGC != nil {
			close(b.stopGC)
			<-b.gcDone
		}
		b.closeErr = b.db.Close()
		b.CloseNotifier()
	})
	return b.closeErr
}

func (b *Backend) runGC(interval time.Duration) {
	defer close(b.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect
			if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("value log GC failed", "error", err)
			}
		}
	}
}

// badgerLogger adapts logger.Logger to badger's logging interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

var _ backend.Backend = (*Backend)(nil)
