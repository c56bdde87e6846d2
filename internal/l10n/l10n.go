// Package l10n translates localized schema defaults.
//
// Translations are registered per gettext domain in an x/text catalog. The
// message id is the default exactly as written in the schema, quotes
// included, so a translation is itself value text:
//
//	cat.Add("test", language.German, "", "'Unnamed'", "'Unbenannt'")
package l10n

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Translator looks up the translation of msgid in a domain. It returns msgid
// unchanged when there is no translation.
type Translator interface {
	Translate(domain, context, msgid string) string
}

// Catalog holds translations for any number of domains and languages.
type Catalog struct {
	mu      sync.RWMutex
	domains map[string]*catalog.Builder
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{domains: make(map[string]*catalog.Builder)}
}

// key joins a context and message id the way gettext does.
func key(context, msgid string) string {
	if context == "" {
		return msgid
	}
	return context + "\x04" + msgid
}

// Add registers a translation.
func (c *Catalog) Add(domain string, tag language.Tag, context, msgid, translation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.domains[domain]
	if !ok {
		b = catalog.NewBuilder(catalog.Fallback(language.Und))
		c.domains[domain] = b
	}
	return b.SetString(tag, key(context, msgid), escape(translation))
}

// Languages returns the languages with translations in domain.
func (c *Catalog) Languages(domain string) []language.Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if b, ok := c.domains[domain]; ok {
		return b.Languages()
	}
	return nil
}

// For returns a translator for the given language. Regional variants fall
// back to their base language.
func (c *Catalog) For(tag language.Tag) Translator {
	return &localeTranslator{cat: c, tag: tag}
}

type localeTranslator struct {
	cat *Catalog
	tag language.Tag
}

func (t *localeTranslator) Translate(domain, context, msgid string) string {
	t.cat.mu.RLock()
	b, ok := t.cat.domains[domain]
	t.cat.mu.RUnlock()
	if !ok {
		return msgid
	}
	p := message.NewPrinter(t.tag, message.Catalog(b))
	return p.Sprintf(message.Key(key(context, msgid), escape(msgid)))
}

// escape protects '%' from the printer's formatting.
func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// ParseLocale converts a POSIX locale name such as "de_DE.UTF-8" to a
// language tag. "C", "POSIX" and the empty string map to language.Und.
func ParseLocale(name string) (language.Tag, error) {
	if i := strings.IndexAny(name, ".@"); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "", "C", "POSIX":
		return language.Und, nil
	}
	return language.Parse(strings.ReplaceAll(name, "_", "-"))
}

// Identity is a translator that never translates.
type Identity struct{}

// Translate returns msgid.
func (Identity) Translate(_, _, msgid string) string { return msgid }
