package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/backend/memory"
	"github.com/dshills/confstore/internal/logger"
	"github.com/dshills/confstore/internal/schema/schematest"
	"github.com/dshills/confstore/internal/variant"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type cli struct {
	t     *testing.T
	flags []string
	open  openBackendFunc
}

// newCLI runs commands against a key file in a temporary directory, so
// state carries over between invocations.
func newCLI(t *testing.T) *cli {
	t.Helper()
	isolateConfig(t)
	t.Cleanup(func() { logger.SetDefault(nil) })
	return &cli{
		t: t,
		flags: []string{
			"--backend", "keyfile",
			"--file", filepath.Join(t.TempDir(), "settings.toml"),
			"--schema-dir", schematest.Dir(t),
			"--log-level", "error",
		},
	}
}

func (c *cli) runContext(ctx context.Context, out io.Writer, args ...string) error {
	a := newApp(out)
	if c.open != nil {
		a.openBackend = c.open
	}
	root := newRootCmd(a)
	root.SetArgs(append(append([]string(nil), c.flags...), args...))
	return root.ExecuteContext(ctx)
}

func (c *cli) run(args ...string) (string, error) {
	var out syncBuffer
	err := c.runContext(context.Background(), &out, args...)
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "confstore %s", strings.Join(args, " "))
	return out
}

func TestListSchemas(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("list-schemas")
	ids := strings.Fields(out)
	assert.Contains(t, ids, "org.gtk.test")
	assert.Contains(t, ids, "org.gtk.test.basic-types")
	assert.NotContains(t, ids, "org.gtk.test.no-path")

	out = c.mustRun("list-schemas", "--print-paths")
	assert.Contains(t, out, "org.gtk.test.range /tests/range/\n")

	out = c.mustRun("list-relocatable-schemas")
	assert.Equal(t, "org.gtk.test.extends.base\norg.gtk.test.extends.extended\norg.gtk.test.no-path\n", out)
}

func TestListKeysAndChildren(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, "greeting\nfarewell\n", c.mustRun("list-keys", "org.gtk.test"))
	assert.Equal(t,
		"basic-types   org.gtk.test.basic-types\n"+
			"complex-types org.gtk.test.complex-types\n"+
			"localized     org.gtk.test.localized\n",
		c.mustRun("list-children", "org.gtk.test"))
	assert.Equal(t, "test-boolean\n", c.mustRun("list-keys", "org.gtk.test.no-path:/apps/x/"))
}

func TestGetSetReset(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, "'Hello, earthlings'\n", c.mustRun("get", "org.gtk.test", "greeting"))

	c.mustRun("set", "org.gtk.test", "greeting", "howdy")
	assert.Equal(t, "'howdy'\n", c.mustRun("get", "org.gtk.test", "greeting"))

	c.mustRun("set", "org.gtk.test", "greeting", "'quoted'")
	assert.Equal(t, "'quoted'\n", c.mustRun("get", "org.gtk.test", "greeting"))

	c.mustRun("set", "org.gtk.test.basic-types", "test-uint32", "7")
	assert.Equal(t, "uint32 7\n", c.mustRun("get", "org.gtk.test.basic-types", "test-uint32"))

	c.mustRun("set", "org.gtk.test.enums", "test", "baz")
	assert.Equal(t, "'baz'\n", c.mustRun("get", "org.gtk.test.enums", "test"))

	c.mustRun("reset", "org.gtk.test", "greeting")
	assert.Equal(t, "'Hello, earthlings'\n", c.mustRun("get", "org.gtk.test", "greeting"))
}

func TestSetRejectsBadValues(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("set", "org.gtk.test.range", "val", "45")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside of the valid range")

	_, err = c.run("set", "org.gtk.test.basic-types", "test-int32", "many")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid value")

	_, err = c.run("set", "org.gtk.test.enums", "test", "nope")
	require.Error(t, err)

	assert.Equal(t, "33\n", c.mustRun("get", "org.gtk.test.range", "val"))
}

func TestUnknownSchemaAndKey(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("get", "org.example.missing", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such schema")

	_, err = c.run("get", "org.gtk.test", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such key")

	_, err = c.run("get", "org.gtk.test.no-path", "test-boolean")
	assert.Error(t, err)
}

func TestRangeAndDescribe(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, "range i 2 44\n", c.mustRun("range", "org.gtk.test.range", "val"))
	assert.Equal(t, "enum\n'foo'\n'bar'\n'baz'\n'quux'\n", c.mustRun("range", "org.gtk.test.enums", "test"))
	assert.Equal(t, "flags\n'mourning'\n'laughing'\n'talking'\n'walking'\n", c.mustRun("range", "org.gtk.test.enums", "f-test"))
	assert.Equal(t, "type s\n", c.mustRun("range", "org.gtk.test", "greeting"))

	out := c.mustRun("describe", "org.gtk.test", "greeting")
	assert.Equal(t, "A greeting\n\nGreeting of the invading martians\n\ntype: s\ndefault: 'Hello, earthlings'\n", out)
}

func TestWritable(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, "true\n", c.mustRun("writable", "org.gtk.test", "greeting"))

	c.flags = append(c.flags, "--backend", "null")
	assert.Equal(t, "false\n", c.mustRun("writable", "org.gtk.test", "greeting"))
	_, err := c.run("set", "org.gtk.test", "greeting", "hi")
	assert.Error(t, err)
}

func TestListRecursively(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "org.gtk.test.basic-types", "test-int32", "42")

	out := c.mustRun("list-recursively", "org.gtk.test")
	assert.Contains(t, out, "org.gtk.test greeting 'Hello, earthlings'\n")
	assert.Contains(t, out, "org.gtk.test.basic-types test-int32 42\n")
	assert.Contains(t, out, "org.gtk.test.localized error-message 'Unnamed'\n")

	out = c.mustRun("list-recursively")
	assert.Contains(t, out, "org.gtk.test.range val 33\n")
	assert.NotContains(t, out, "org.gtk.test.no-path")
}

func TestResetRecursively(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "org.gtk.test", "greeting", "hi")
	c.mustRun("set", "org.gtk.test.basic-types", "test-int32", "42")

	c.mustRun("reset-recursively", "org.gtk.test")
	assert.Equal(t, "'Hello, earthlings'\n", c.mustRun("get", "org.gtk.test", "greeting"))
	assert.Equal(t, "-123456\n", c.mustRun("get", "org.gtk.test.basic-types", "test-int32"))
}

func TestDumpJSON(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "org.gtk.test", "greeting", "howdy")

	out := c.mustRun("dump", "org.gtk.test")
	require.True(t, gjson.Valid(out))
	assert.Equal(t, "'howdy'", gjson.Get(out, `org\.gtk\.test.greeting`).String())
	assert.Equal(t, "'So long'", gjson.Get(out, `org\.gtk\.test.farewell`).String())
	assert.Equal(t, "true", gjson.Get(out, `org\.gtk\.test\.basic-types.test-boolean`).String())

	out = c.mustRun("dump", "org.gtk.test", "--user-only")
	assert.Equal(t, []string{"org.gtk.test"}, objectKeys(out))
	assert.Equal(t, "'howdy'", gjson.Get(out, `org\.gtk\.test.greeting`).String())
	assert.False(t, gjson.Get(out, `org\.gtk\.test.farewell`).Exists())
}

func objectKeys(doc string) []string {
	var keys []string
	gjson.Parse(doc).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	return keys
}

func TestDumpAndLoad(t *testing.T) {
	for _, format := range []string{formatJSON, formatYAML, formatTOML} {
		t.Run(format, func(t *testing.T) {
			c := newCLI(t)
			c.mustRun("set", "org.gtk.test", "greeting", "howdy")
			c.mustRun("set", "org.gtk.test.basic-types", "test-int32", "42")
			c.mustRun("set", "org.gtk.test.basic-types", "test-uint32", "9")

			dump := c.mustRun("dump", "org.gtk.test", "--user-only", "--format", format)
			file := filepath.Join(t.TempDir(), "dump."+format)
			require.NoError(t, os.WriteFile(file, []byte(dump), 0o600))

			c.mustRun("reset-recursively", "org.gtk.test")
			require.Equal(t, "-123456\n", c.mustRun("get", "org.gtk.test.basic-types", "test-int32"))

			c.mustRun("load", file)
			assert.Equal(t, "'howdy'\n", c.mustRun("get", "org.gtk.test", "greeting"))
			assert.Equal(t, "42\n", c.mustRun("get", "org.gtk.test.basic-types", "test-int32"))
			assert.Equal(t, "uint32 9\n", c.mustRun("get", "org.gtk.test.basic-types", "test-uint32"))
		})
	}
}

func TestLoadIsAtomicPerSection(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(t.TempDir(), "bad.yaml")
	doc := `
org.gtk.test.range:
  val: "40"
org.gtk.test.basic-types:
  test-int32: "7"
  test-uint16: "abc"
`
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))

	_, err := c.run("load", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org.gtk.test.basic-types")
	assert.Equal(t, "-123456\n", c.mustRun("get", "org.gtk.test.basic-types", "test-int32"))
}

func TestLoadRejectsMalformedDocuments(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"org.gtk.test": `), 0o600))
	_, err := c.run("load", bad)
	assert.Error(t, err)

	flat := filepath.Join(dir, "flat.json")
	require.NoError(t, os.WriteFile(flat, []byte(`{"org.gtk.test": "x"}`), 0o600))
	_, err = c.run("load", flat)
	assert.Error(t, err)
}

func TestLocalizedDefaults(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(t.TempDir(), "translations.yaml")
	doc := `
test:
  de:
    - msgid: "'Unnamed'"
      translation: "'Unbenannt'"
    - context: keyboard label
      msgid: "'BackSpace'"
      translation: "'Löschen'"
`
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))

	assert.Equal(t, "'Unnamed'\n", c.mustRun("get", "org.gtk.test.localized", "error-message"))

	c.flags = append(c.flags, "--locale", "de", "--translations", file)
	assert.Equal(t, "'Unbenannt'\n", c.mustRun("get", "org.gtk.test.localized", "error-message"))
	assert.Equal(t, "'Löschen'\n", c.mustRun("get", "org.gtk.test.localized", "backspace"))
}

func TestMonitor(t *testing.T) {
	c := newCLI(t)
	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	c.open = func(Config, logger.Logger) (backend.Backend, io.Closer, error) {
		return mem, nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- c.runContext(ctx, &out, "monitor", "org.gtk.test") }()

	hi := variant.NewString("hi")
	require.Eventually(t, func() bool {
		_ = mem.Write("/tests/greeting", &hi, "test")
		return strings.Contains(out.String(), "greeting: 'hi'\n")
	}, 5*time.Second, 10*time.Millisecond)

	other := variant.NewInt32(5)
	_ = mem.Write("/tests/basic-types/test-int32", &other, "test")
	assert.NotContains(t, out.String(), "test-int32")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorKey(t *testing.T) {
	c := newCLI(t)
	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	c.open = func(Config, logger.Logger) (backend.Backend, io.Closer, error) {
		return mem, nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- c.runContext(ctx, &out, "monitor", "org.gtk.test", "farewell") }()

	bye := variant.NewString("bye")
	require.Eventually(t, func() bool {
		_ = mem.Write("/tests/farewell", &bye, "test")
		return strings.Contains(out.String(), "farewell: 'bye'\n")
	}, 5*time.Second, 10*time.Millisecond)

	hi := variant.NewString("hi")
	_ = mem.Write("/tests/greeting", &hi, "test")
	assert.NotContains(t, out.String(), "greeting")

	cancel()
	require.NoError(t, <-done)
}

func TestEscapePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"greeting", "greeting"},
		{"org.gtk.test", `org\.gtk\.test`},
		{"org.gtk.test.no-path:/apps/x/", `org\.gtk\.test\.no-path\:/apps/x/`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapePath(tt.in))
	}
}

func TestParseSchemaArg(t *testing.T) {
	id, path := parseSchemaArg("org.gtk.test.no-path:/apps/x/")
	assert.Equal(t, "org.gtk.test.no-path", id)
	assert.Equal(t, "/apps/x/", path)

	id, path = parseSchemaArg("org.gtk.test")
	assert.Equal(t, "org.gtk.test", id)
	assert.Empty(t, path)
}
