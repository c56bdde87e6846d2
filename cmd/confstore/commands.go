package main

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "confstore",
		Short:         "Inspect and edit schema described settings",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	f := root.PersistentFlags()
	f.StringVarP(&a.configFile, "config", "c", "", "path to a confstore.toml configuration file")
	f.String("backend", backendKeyfile, "storage backend: memory, null, keyfile or badger")
	f.String("file", filepath.Join(configDir(), "settings.toml"), "settings file of the keyfile backend")
	f.String("root-path", "/", "key path served by the keyfile backend")
	f.String("root-group", "", "keyfile table holding keys directly below the root path")
	f.String("db-dir", filepath.Join(configDir(), "db"), "database directory of the badger backend")
	f.String("schema-dir", filepath.Join(configDir(), "schemas"), "directory holding the compiled schema file")
	f.Bool("trusted", false, "skip validation of schema defaults")
	f.String("log-level", "warn", "log level: debug, info, warn or error")
	f.String("locale", "", "locale used to translate localized defaults")
	f.String("translations", "", "YAML file of translations for localized defaults")
	_ = a.v.BindPFlags(f)

	root.AddCommand(
		newListSchemasCmd(a),
		newListRelocatableCmd(a),
		newListKeysCmd(a),
		newListChildrenCmd(a),
		newListRecursivelyCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newResetCmd(a),
		newResetRecursivelyCmd(a),
		newWritableCmd(a),
		newRangeCmd(a),
		newDescribeCmd(a),
		newMonitorCmd(a),
		newDumpCmd(a),
		newLoadCmd(a),
	)
	return root
}

func newListSchemasCmd(a *app) *cobra.Command {
	var printPaths bool
	cmd := &cobra.Command{
		Use:   "list-schemas",
		Short: "List installed non-relocatable schemas",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ids, _ := a.src.ListSchemas(true)
			for _, id := range ids {
				if printPaths {
					sch, _ := a.src.Lookup(id, true)
					a.printf("%s %s\n", id, sch.Path())
					continue
				}
				a.printf("%s\n", id)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&printPaths, "print-paths", false, "print the path of each schema")
	return cmd
}

func newListRelocatableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-relocatable-schemas",
		Short: "List installed relocatable schemas",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			_, ids := a.src.ListSchemas(true)
			for _, id := range ids {
				a.printf("%s\n", id)
			}
			return nil
		}),
	}
}

func newListKeysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys SCHEMA[:PATH]",
		Short: "List the keys of a schema",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			s, err := a.openSettings(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			for _, k := range s.ListKeys() {
				a.printf("%s\n", k)
			}
			return nil
		}),
	}
}

func newListChildrenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-children SCHEMA[:PATH]",
		Short: "List the child schemas of a schema",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			s, err := a.openSettings(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			children := s.ListChildren()
			width := 0
			for _, name := range children {
				width = max(width, len(name))
			}
			for _, name := range children {
				id, _ := s.Schema().ChildSchemaID(name)
				a.printf("%-*s %s\n", width, name, id)
			}
			return nil
		}),
	}
}

func (a *app) listRecursively(s *settings.Settings, children bool) error {
	for _, key := range s.ListKeys() {
		v, err := s.Value(key)
		if err != nil {
			return err
		}
		a.printf("%s %s %s\n", a.bold(s.Schema().ID()), key, v.String())
	}
	if !children {
		return nil
	}
	for _, name := range s.ListChildren() {
		child, err := s.Child(name)
		if err != nil {
			return err
		}
		err = a.listRecursively(child, true)
		_ = child.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func newListRecursivelyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-recursively [SCHEMA[:PATH]]",
		Short: "List keys and values, recursively",
		Long: `With a schema, list its keys and values and those of its children.
Without one, list the keys and values of every non-relocatable schema.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				s, err := a.openSettings(args[0])
				if err != nil {
					return err
				}
				defer s.Close()
				return a.listRecursively(s, true)
			}
			ids, _ := a.src.ListSchemas(true)
			for _, id := range ids {
				s, err := a.openSettings(id)
				if err != nil {
					return err
				}
				err = a.listRecursively(s, false)
				_ = s.Close()
				if err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

// keyCommand builds a command taking SCHEMA[:PATH] KEY and extra arguments.
func (a *app) keyCommand(use, short string, extra int, fn func(s *settings.Settings, key string, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2 + extra),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			s, err := a.openSettings(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := checkKey(s, args[1]); err != nil {
				return err
			}
			return fn(s, args[1], args[2:])
		}),
	}
}

func newGetCmd(a *app) *cobra.Command {
	return a.keyCommand("get SCHEMA[:PATH] KEY", "Print the value of a key", 0,
		func(s *settings.Settings, key string, _ []string) error {
			v, err := s.Value(key)
			if err != nil {
				return err
			}
			a.printf("%s\n", v.String())
			return nil
		})
}

// parseKeyValue parses text as a value of k's type. Unquoted text is
// accepted for string keys.
func parseKeyValue(s *settings.Settings, key, text string) (variant.Value, error) {
	k, err := checkKey(s, key)
	if err != nil {
		return variant.Value{}, err
	}
	v, err := variant.Parse(k.Type(), text)
	if err != nil && k.Type().IsStringLike() {
		v, err = variant.Parse(k.Type(), variant.Quote(text))
	}
	if err != nil {
		return variant.Value{}, fmt.Errorf("invalid value for key %q: %w", key, err)
	}
	if !k.RangeCheck(v) {
		return variant.Value{}, fmt.Errorf("value %s is outside of the valid range of key %q", v.Print(false), key)
	}
	return v, nil
}

func newSetCmd(a *app) *cobra.Command {
	return a.keyCommand("set SCHEMA[:PATH] KEY VALUE", "Set the value of a key", 1,
		func(s *settings.Settings, key string, args []string) error {
			if !s.IsWritable(key) {
				return fmt.Errorf("key %q is not writable", key)
			}
			v, err := parseKeyValue(s, key, args[0])
			if err != nil {
				return err
			}
			return s.Set(key, v)
		})
}

func newResetCmd(a *app) *cobra.Command {
	return a.keyCommand("reset SCHEMA[:PATH] KEY", "Reset a key to its default value", 0,
		func(s *settings.Settings, key string, _ []string) error {
			return s.Reset(key)
		})
}

func resetAll(s *settings.Settings) error {
	for _, key := range s.ListKeys() {
		if err := s.Reset(key); err != nil {
			return err
		}
	}
	for _, name := range s.ListChildren() {
		child, err := s.Child(name)
		if err != nil {
			return err
		}
		err = resetAll(child)
		_ = child.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func newResetRecursivelyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-recursively SCHEMA[:PATH]",
		Short: "Reset every key of a schema and its children",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			s, err := a.openSettings(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			s.Delay()
			if err := resetAll(s); err != nil {
				s.Revert()
				return err
			}
			return s.Apply()
		}),
	}
}

func newWritableCmd(a *app) *cobra.Command {
	return a.keyCommand("writable SCHEMA[:PATH] KEY", "Report whether a key is writable", 0,
		func(s *settings.Settings, key string, _ []string) error {
			a.printf("%t\n", s.IsWritable(key))
			return nil
		})
}

func newRangeCmd(a *app) *cobra.Command {
	return a.keyCommand("range SCHEMA[:PATH] KEY", "Print the values a key accepts", 0,
		func(s *settings.Settings, key string, _ []string) error {
			r, err := s.Range(key)
			if err != nil {
				return err
			}
			kind := r.Index(0).Str()
			detail, _ := r.Index(1).Unbox()
			switch kind {
			case "range":
				lo, hi := detail.Index(0), detail.Index(1)
				a.printf("range %s %s %s\n", lo.Type(), lo.Print(false), hi.Print(false))
			case "enum", "flags":
				a.printf("%s\n", kind)
				for _, item := range detail.Children() {
					a.printf("%s\n", item.Print(false))
				}
			default:
				a.printf("type %s\n", strings.TrimPrefix(string(detail.Type()), "a"))
			}
			return nil
		})
}

func newDescribeCmd(a *app) *cobra.Command {
	return a.keyCommand("describe SCHEMA[:PATH] KEY", "Print the summary and description of a key", 0,
		func(s *settings.Settings, key string, _ []string) error {
			k, _ := s.Schema().Key(key)
			def, err := s.DefaultValue(key)
			if err != nil {
				return err
			}
			if k.Summary() != "" {
				a.printf("%s\n", k.Summary())
			}
			if k.Description() != "" {
				a.printf("\n%s\n", k.Description())
			}
			a.printf("\ntype: %s\ndefault: %s\n", k.Type(), def.Print(false))
			return nil
		})
}

func newMonitorCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "monitor SCHEMA[:PATH] [KEY]",
		Short: "Print changes to a schema, or one of its keys, until interrupted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			s, err := a.openSettings(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			show := func(key string) {
				v, err := s.Value(key)
				if err != nil {
					return
				}
				a.printf("%s: %s\n", a.bold(key), v.String())
			}
			var h settings.Handle
			if len(args) == 2 {
				if _, err := checkKey(s, args[1]); err != nil {
					return err
				}
				h = s.OnChanged(args[1], show)
			} else {
				h = s.OnChangeEvent(func(keys []string) {
					for _, key := range keys {
						show(key)
					}
				})
			}
			defer h.Disconnect()

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server failed", "addr", metricsAddr, "error", err)
					}
				}()
				defer srv.Close()
			}

			<-cmd.Context().Done()
			return nil
		}),
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve backend metrics on this address while monitoring")
	return cmd
}
