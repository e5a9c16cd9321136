// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attrmap

import (
	"sort"
	"strconv"
	"strings"
)

// Map is a string-to-string map with case-insensitive keys. The key
// spelling used by the first Put is kept for output, so a header sent
// as "feed" is written back as "feed" while Get("Feed") still finds it.
//
// A Map is not safe for concurrent mutation. Within a request it is
// owned by the goroutine handling that request.
type Map struct {
	entries map[string]entry
}

type entry struct {
	key   string
	value string
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]entry)}
}

// FromPairs builds a Map from alternating key, value arguments. Panics
// on an odd argument count; intended for literals in tests and
// wiring code.
func FromPairs(pairs ...string) *Map {
	if len(pairs)%2 != 0 {
		panic("attrmap: FromPairs requires an even number of arguments")
	}
	m := New()
	for i := 0; i < len(pairs); i += 2 {
		m.Put(pairs[i], pairs[i+1])
	}
	return m
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Put sets key to value. Keys and values are trimmed of surrounding
// whitespace. An empty key is ignored.
func (m *Map) Put(key, value string) {
	normalized := normalize(key)
	if normalized == "" {
		return
	}
	existing, ok := m.entries[normalized]
	if ok {
		existing.value = strings.TrimSpace(value)
		m.entries[normalized] = existing
		return
	}
	m.entries[normalized] = entry{key: strings.TrimSpace(key), value: strings.TrimSpace(value)}
}

// Get returns the value for key, or "" when absent.
func (m *Map) Get(key string) string {
	return m.entries[normalize(key)].value
}

// Lookup returns the value for key and whether it was present.
func (m *Map) Lookup(key string) (string, bool) {
	existing, ok := m.entries[normalize(key)]
	return existing.value, ok
}

// Contains reports whether key is present.
func (m *Map) Contains(key string) bool {
	_, ok := m.entries[normalize(key)]
	return ok
}

// Remove deletes key. Removing an absent key is a no-op.
func (m *Map) Remove(key string) {
	delete(m.entries, normalize(key))
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// Int64 parses the value for key as a base-10 integer.
func (m *Map) Int64(key string) (int64, bool) {
	value, ok := m.Lookup(key)
	if !ok || value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// Keys returns the stored key spellings sorted case-insensitively.
func (m *Map) Keys() []string {
	normalized := make([]string, 0, len(m.entries))
	for key := range m.entries {
		normalized = append(normalized, key)
	}
	sort.Strings(normalized)
	keys := make([]string, len(normalized))
	for i, key := range normalized {
		keys[i] = m.entries[key].key
	}
	return keys
}

// Range calls fn for each entry in Keys order until fn returns false.
func (m *Map) Range(fn func(key, value string) bool) {
	for _, key := range m.Keys() {
		if !fn(key, m.Get(key)) {
			return
		}
	}
}

// Clone returns an independent copy.
func (m *Map) Clone() *Map {
	clone := &Map{entries: make(map[string]entry, len(m.entries))}
	for key, value := range m.entries {
		clone.entries[key] = value
	}
	return clone
}

// Subset returns a copy holding only the named keys that are present.
func (m *Map) Subset(keys ...string) *Map {
	subset := New()
	for _, key := range keys {
		if existing, ok := m.entries[normalize(key)]; ok {
			subset.entries[normalize(key)] = existing
		}
	}
	return subset
}

// ToMap returns a plain map keyed by the stored key spellings.
func (m *Map) ToMap() map[string]string {
	plain := make(map[string]string, len(m.entries))
	for _, existing := range m.entries {
		plain[existing.key] = existing.value
	}
	return plain
}

// MergeOverride copies every entry of source into target, replacing
// values target already holds. Use it when source is the more
// specific scope.
func MergeOverride(target, source *Map) {
	if source == nil {
		return
	}
	for _, existing := range source.entries {
		target.Put(existing.key, existing.value)
	}
}

// MergeFillAbsent copies entries of source into target only for keys
// target does not already hold. Use it when source is the broader
// scope supplying defaults.
func MergeFillAbsent(target, source *Map) {
	if source == nil {
		return
	}
	for normalized, existing := range source.entries {
		if _, ok := target.entries[normalized]; ok {
			continue
		}
		target.entries[normalized] = existing
	}
}
