package strinfo

// FlagsToNames expands a flags value into canonical names, in table order.
// It fails if value has bits not covered by any canonical entry.
func (t *Table) FlagsToNames(value uint32) ([]string, bool) {
	names := []string{}
	var covered uint32
	for _, e := range t.Entries() {
		if e.Alias || e.Value == 0 {
			continue
		}
		if value&e.Value == e.Value {
			names = append(names, e.Name)
			covered |= e.Value
		}
	}
	if covered != value {
		return nil, false
	}
	return names, true
}

// NamesToFlags ORs the values of canonical names. Each name may appear once.
func (t *Table) NamesToFlags(names []string) (uint32, bool) {
	var value uint32
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return 0, false
		}
		seen[name] = true
		v, ok := t.ValueForName(name)
		if !ok {
			return 0, false
		}
		value |= v
	}
	return value, true
}
