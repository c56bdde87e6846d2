package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/backend/badgerdb"
	"github.com/dshills/confstore/internal/backend/instrument"
	"github.com/dshills/confstore/internal/backend/keyfile"
	"github.com/dshills/confstore/internal/backend/memory"
	"github.com/dshills/confstore/internal/backend/null"
	"github.com/dshills/confstore/internal/l10n"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/schema"
	"github.com/dshills/confstore/internal/settings"
)

// openBackendFunc opens the configured storage. The returned closer is
// called once the command finishes.
type openBackendFunc func(cfg Config, log logger.Logger) (backend.Backend, io.Closer, error)

// app carries the state shared by every command of one invocation.
type app struct {
	out   io.Writer
	outMu sync.Mutex
	color bool

	v          *viper.Viper
	configFile string
	cfg        Config
	log        logger.Logger

	src      *schema.Source
	tr       l10n.Translator
	backend  backend.Backend
	closer   io.Closer
	registry *prometheus.Registry

	openBackend openBackendFunc
}

func newApp(out io.Writer) *app {
	a := &app{
		out:         out,
		v:           viper.New(),
		openBackend: openBackend,
	}
	if f, ok := out.(*os.File); ok {
		a.color = term.IsTerminal(int(f.Fd()))
	}
	return a
}

// runE wraps a command body with opening and closing the configured
// backend.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.open(); err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) open() error {
	cfg, err := loadConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetDefault(log)
	a.log = log.With("component", "cli")

	a.src, err = schema.NewSourceFromDirectory(cfg.SchemaDir, nil, cfg.Trusted)
	if err != nil {
		return fmt.Errorf("loading schemas from %s: %w", cfg.SchemaDir, err)
	}

	a.tr = l10n.Identity{}
	if cfg.Translations != "" {
		if a.tr, err = loadTranslations(cfg.Translations, cfg.Locale); err != nil {
			return err
		}
	}

	under, closer, err := a.openBackend(cfg, log)
	if err != nil {
		return err
	}
	a.registry = prometheus.NewRegistry()
	a.backend = instrument.Wrap(under, instrument.NewMetrics(a.registry), cfg.Backend)
	a.closer = closer
	a.log.Debug("backend ready", "backend", cfg.Backend)
	return nil
}

func (a *app) close() {
	if a.backend == nil {
		return
	}
	if err := a.backend.Sync(); err != nil {
		a.log.Warn("sync failed", "error", err)
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.log.Warn("closing backend failed", "error", err)
		}
	}
	a.backend, a.closer = nil, nil
}

func openBackend(cfg Config, log logger.Logger) (backend.Backend, io.Closer, error) {
	switch cfg.Backend {
	case backendMemory:
		b := memory.New()
		return b, b, nil
	case backendNull:
		return null.New(), nil, nil
	case backendKeyfile:
		b, err := keyfile.New(cfg.File, cfg.RootPath, cfg.RootGroup, keyfile.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", cfg.File, err)
		}
		return b, b, nil
	case backendBadger:
		dbCfg := badgerdb.DefaultConfig(cfg.DBDir)
		dbCfg.Logger = log
		b, err := badgerdb.Open(dbCfg)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// translationEntry is one message of a translations file:
//
//	test:
//	  de:
//	    - msgid: Unnamed
//	      translation: Unbenannt
type translationEntry struct {
	Context     string `yaml:"context"`
	MsgID       string `yaml:"msgid"`
	Translation string `yaml:"translation"`
}

func loadTranslations(file, locale string) (l10n.Translator, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading translations: %w", err)
	}
	var doc map[string]map[string][]translationEntry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing translations %s: %w", file, err)
	}
	cat := l10n.NewCatalog()
	for domain, langs := range doc {
		for lang, entries := range langs {
			tag, err := l10n.ParseLocale(lang)
			if err != nil {
				return nil, fmt.Errorf("translations %s: %w", file, err)
			}
			for _, e := range entries {
				if err := cat.Add(domain, tag, e.Context, e.MsgID, e.Translation); err != nil {
					return nil, fmt.Errorf("translations %s: %w", file, err)
				}
			}
		}
	}
	tag, err := l10n.ParseLocale(locale)
	if err != nil {
		return nil, err
	}
	return cat.For(tag), nil
}

// parseSchemaArg splits "SCHEMA[:PATH]".
func parseSchemaArg(arg string) (id, path string) {
	id, path, _ = strings.Cut(arg, ":")
	return id, path
}

func (a *app) openSettings(arg string) (*settings.Settings, error) {
	id, path := parseSchemaArg(arg)
	if _, ok := a.src.Lookup(id, true); !ok {
		return nil, fmt.Errorf("no such schema %q", id)
	}
	opts := []settings.Option{
		settings.WithLogger(logger.Default()),
		settings.WithTranslator(a.tr),
	}
	if path != "" {
		opts = append(opts, settings.WithPath(path))
	}
	return settings.NewFromSource(a.src, id, a.backend, opts...)
}

// sectionName is the dump section name of s.
func sectionName(s *settings.Settings) string {
	if s.Schema().IsRelocatable() {
		return s.Schema().ID() + ":" + s.Path()
	}
	return s.Schema().ID()
}

func checkKey(s *settings.Settings, key string) (*schema.Key, error) {
	k, ok := s.Schema().Key(key)
	if !ok {
		return nil, fmt.Errorf("no such key %q in schema %q", key, s.Schema().ID())
	}
	return k, nil
}

func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) bold(s string) string {
	if !a.color {
		return s
	}
	return "\x1b[1m" + s + "\x1b[0m"
}
