// Package schema describes settings schemas: named, immutable collections of
// typed keys with defaults and value constraints, grouped into sources that
// can be chained to a parent.
package schema

import (
	"strings"
)

// Schema is an immutable description of a group of keys. A schema with an
// empty path is relocatable: instances supply a path when they are created.
type Schema struct {
	id            string
	path          string
	gettextDomain string
	extends       string
	listOf        string

	keys     map[string]*Key
	keyOrder []string

	children   map[string]string
	childOrder []string

	source *Source
}

// ID returns the schema id, e.g. "org.gtk.test".
func (s *Schema) ID() string { return s.id }

// Path returns the fixed path, or "" for a relocatable schema.
func (s *Schema) Path() string { return s.path }

// IsRelocatable reports whether the schema has no fixed path.
func (s *Schema) IsRelocatable() bool { return s.path == "" }

// GettextDomain returns the translation domain for defaults.
func (s *Schema) GettextDomain() string { return s.gettextDomain }

// Extends returns the id of the schema this one extends, if any.
func (s *Schema) Extends() string { return s.extends }

// ListOf returns the id of the schema this one is a list of, if any.
func (s *Schema) ListOf() string { return s.listOf }

// Source returns the source the schema was found in. It is nil for schemas
// that were built but never added to a source.
func (s *Schema) Source() *Source { return s.source }

// Key returns the named key.
func (s *Schema) Key(name string) (*Key, bool) {
	k, ok := s.keys[name]
	return k, ok
}

// HasKey reports whether the schema defines name.
func (s *Schema) HasKey(name string) bool {
	_, ok := s.keys[name]
	return ok
}

// ListKeys returns the key names in definition order. Inherited keys follow
// the schema's own.
func (s *Schema) ListKeys() []string {
	return append([]string(nil), s.keyOrder...)
}

// ListChildren returns the child names in definition order.
func (s *Schema) ListChildren() []string {
	return append([]string(nil), s.childOrder...)
}

// ChildSchemaID returns the schema id of the named child.
func (s *Schema) ChildSchemaID(name string) (string, bool) {
	id, ok := s.children[name]
	return id, ok
}

// ValidPath reports whether path is usable for a settings instance: it must
// start and end with '/' and must not contain "//".
func ValidPath(path string) bool {
	return strings.HasPrefix(path, "/") && strings.HasSuffix(path, "/") && !strings.Contains(path, "//")
}

// clone returns a shallow copy attached to src.
func (s *Schema) clone(src *Source) *Schema {
	c := *s
	c.keys = make(map[string]*Key, len(s.keys))
	for n, k := range s.keys {
		c.keys[n] = k
	}
	c.keyOrder = append([]string(nil), s.keyOrder...)
	c.children = make(map[string]string, len(s.children))
	for n, id := range s.children {
		c.children[n] = id
	}
	c.childOrder = append([]string(nil), s.childOrder...)
	c.source = src
	return &c
}
