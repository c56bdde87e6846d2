// Package schematest provides the schema fixtures shared by package tests.
package schematest

import (
	_ "embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/confstore/internal/schema"
)

//go:embed testdata/gschemas.compiled.json
var compiled []byte

// Compiled returns the raw compiled fixture document.
func Compiled() []byte {
	return append([]byte(nil), compiled...)
}

// Dir writes the fixture into a fresh temporary directory and returns it.
func Dir(tb testing.TB) string {
	tb.Helper()
	dir := tb.TempDir()
	if err := os.WriteFile(filepath.Join(dir, schema.CompiledFile), compiled, 0o644); err != nil {
		tb.Fatalf("write schema fixture: %v", err)
	}
	return dir
}

// Source loads the fixture schemas: org.gtk.test and its children, the
// binding, enum, range, mapped and description schemas, and the relocatable
// no-path and extends schemas.
func Source(tb testing.TB) *schema.Source {
	tb.Helper()
	src, err := schema.NewSourceFromDirectory(Dir(tb), nil, false)
	if err != nil {
		tb.Fatalf("load schema fixture: %v", err)
	}
	return src
}

// Lookup returns a fixture schema by id.
func Lookup(tb testing.TB, src *schema.Source, id string) *schema.Schema {
	tb.Helper()
	s, ok := src.Lookup(id, true)
	if !ok {
		tb.Fatalf("schema '%s' not in fixture", id)
	}
	return s
}
