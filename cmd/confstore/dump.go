package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/confstore/internal/settings"
)

// Document formats understood by dump and load.
const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
)

// document maps a section name (SCHEMA or SCHEMA:PATH) to key/value text.
// Values are in the printed text format without type annotations.
type document map[string]map[string]string

func (a *app) collect(doc document, s *settings.Settings, userOnly, children bool) error {
	section := make(map[string]string)
	for _, key := range s.ListKeys() {
		if userOnly {
			v, ok, err := s.UserValue(key)
			if err != nil {
				return err
			}
			if ok {
				section[key] = v.Print(false)
			}
			continue
		}
		v, err := s.Value(key)
		if err != nil {
			return err
		}
		section[key] = v.Print(false)
	}
	if len(section) > 0 {
		doc[sectionName(s)] = section
	}
	if !children {
		return nil
	}
	for _, name := range s.ListChildren() {
		child, err := s.Child(name)
		if err != nil {
			return err
		}
		err = a.collect(doc, child, userOnly, true)
		_ = child.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// escapePath escapes one sjson path component.
func escapePath(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.*?|#@:`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeDocument(doc document, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		out := "{}"
		for _, section := range sortedKeys(doc) {
			for _, key := range sortedKeys(doc[section]) {
				var err error
				out, err = sjson.Set(out, escapePath(section)+"."+escapePath(key), doc[section][key])
				if err != nil {
					return nil, err
				}
			}
		}
		return pretty.Pretty([]byte(out)), nil
	case formatYAML:
		return yaml.Marshal(doc)
	case formatTOML:
		return toml.Marshal(doc)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func decodeDocument(data []byte, format string) (document, error) {
	doc := make(document)
	switch format {
	case formatJSON:
		if !gjson.ValidBytes(data) {
			return nil, errors.New("invalid JSON document")
		}
		var err error
		gjson.ParseBytes(data).ForEach(func(section, keys gjson.Result) bool {
			if !keys.IsObject() {
				err = fmt.Errorf("section %q is not an object", section.String())
				return false
			}
			entries := make(map[string]string)
			keys.ForEach(func(key, value gjson.Result) bool {
				entries[key.String()] = value.String()
				return true
			})
			doc[section.String()] = entries
			return true
		})
		return doc, err
	case formatYAML:
		return doc, yaml.Unmarshal(data, &doc)
	case formatTOML:
		return doc, toml.Unmarshal(data, &doc)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func formatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	}
	return formatJSON
}

func newDumpCmd(a *app) *cobra.Command {
	var (
		format   string
		userOnly bool
	)
	cmd := &cobra.Command{
		Use:   "dump [SCHEMA[:PATH]]",
		Short: "Write the values of a schema and its children as a document",
		Long: `Dump writes one section per schema, mapping each key to its value in
text format. Without a schema every non-relocatable schema is dumped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			doc := make(document)
			if len(args) == 1 {
				s, err := a.openSettings(args[0])
				if err != nil {
					return err
				}
				defer s.Close()
				if err := a.collect(doc, s, userOnly, true); err != nil {
					return err
				}
			} else {
				ids, _ := a.src.ListSchemas(true)
				for _, id := range ids {
					s, err := a.openSettings(id)
					if err != nil {
						return err
					}
					err = a.collect(doc, s, userOnly, false)
					_ = s.Close()
					if err != nil {
						return err
					}
				}
			}
			data, err := encodeDocument(doc, format)
			if err != nil {
				return err
			}
			a.printf("%s", data)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json, yaml or toml")
	cmd.Flags().BoolVar(&userOnly, "user-only", false, "only dump keys that have a stored value")
	return cmd
}

func (a *app) loadSection(section string, entries map[string]string) error {
	s, err := a.openSettings(section)
	if err != nil {
		return err
	}
	defer s.Close()

	s.Delay()
	for _, key := range sortedKeys(entries) {
		v, err := parseKeyValue(s, key, entries[key])
		if err == nil && !s.IsWritable(key) {
			err = fmt.Errorf("key %q is not writable", key)
		}
		if err == nil {
			err = s.Set(key, v)
		}
		if err != nil {
			s.Revert()
			return fmt.Errorf("%s: %w", section, err)
		}
	}
	return s.Apply()
}

func newLoadCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load FILE",
		Short: "Store the values of a document written by dump",
		Long: `Load applies each section of the document atomically. The format is
taken from the file extension unless --format is given.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = formatFromName(args[0])
			}
			doc, err := decodeDocument(bytes.TrimSpace(data), format)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			for _, section := range sortedKeys(doc) {
				if err := a.loadSection(section, doc[section]); err != nil {
					return err
				}
			}
			a.log.Info("document loaded", "file", args[0], "sections", len(doc))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "input format: json, yaml or toml")
	return cmd
}
