package backend

import (
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

// Changeset is an ordered set of key writes. A nil value resets the key.
type Changeset struct {
	keys   []string
	values map[string]*variant.Value
}

// NewChangeset returns an empty changeset.
func NewChangeset() *Changeset {
	return &Changeset{values: make(map[string]*variant.Value)}
}

// Set records a write of value to key, replacing any earlier entry but
// keeping the key's original position.
func (c *Changeset) Set(key string, value *variant.Value) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	if value != nil {
		v := *value
		value = &v
	}
	c.values[key] = value
}

// Reset records a reset of key.
func (c *Changeset) Reset(key string) { c.Set(key, nil) }

// Get returns the entry for key. ok is false if the key is absent; a
// present entry with a nil value is a reset.
func (c *Changeset) Get(key string) (value *variant.Value, ok bool) {
	value, ok = c.values[key]
	return value, ok
}

// Delete removes the entry for key.
func (c *Changeset) Delete(key string) {
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (c *Changeset) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Len returns the number of entries.
func (c *Changeset) Len() int { return len(c.keys) }

// Range calls fn for each entry in order until fn returns false.
func (c *Changeset) Range(fn func(key string, value *variant.Value) bool) {
	for _, k := range c.keys {
		if !fn(k, c.values[k]) {
			return
		}
	}
}

// Prefix returns the common path of all keys and the keys relative to it.
func (c *Changeset) Prefix() (string, []string) {
	return notify.SplitCommonPrefix(c.keys)
}

// Clone returns an independent copy.
func (c *Changeset) Clone() *Changeset {
	out := NewChangeset()
	c.Range(func(k string, v *variant.Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}
