package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "CONFSTORE"

// Backend kinds accepted by the backend option.
const (
	backendMemory  = "memory"
	backendNull    = "null"
	backendKeyfile = "keyfile"
	backendBadger  = "badger"
)

// Config is the resolved command line configuration. Values come from
// flags, CONFSTORE_* environment variables and confstore.toml, in that
// order of precedence.
type Config struct {
	Backend      string
	File         string
	RootPath     string
	RootGroup    string
	DBDir        string
	SchemaDir    string
	Trusted      bool
	LogLevel     string
	Locale       string
	Translations string
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "confstore")
}

// loadConfig resolves the configuration from v. v must already have the
// command flags bound. configFile, when set, must exist.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("confstore")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Config{
		Backend:      strings.ToLower(v.GetString("backend")),
		File:         v.GetString("file"),
		RootPath:     v.GetString("root-path"),
		RootGroup:    v.GetString("root-group"),
		DBDir:        v.GetString("db-dir"),
		SchemaDir:    v.GetString("schema-dir"),
		Trusted:      v.GetBool("trusted"),
		LogLevel:     v.GetString("log-level"),
		Locale:       v.GetString("locale"),
		Translations: v.GetString("translations"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case backendMemory, backendNull:
	case backendKeyfile:
		if c.File == "" {
			return errors.New("keyfile backend needs a file")
		}
	case backendBadger:
		if c.DBDir == "" {
			return errors.New("badger backend needs a database directory")
		}
	default:
		return fmt.Errorf("unknown backend %q (want memory, null, keyfile or badger)", c.Backend)
	}
	if c.SchemaDir == "" {
		return errors.New("no schema directory configured")
	}
	if c.Translations != "" && c.Locale == "" {
		return errors.New("translations given without a locale")
	}
	return nil
}
