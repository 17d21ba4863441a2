package config

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Store maps canonical dot keys to values. Nested maps are flattened on
// insertion so "a.b.c" and a map under "a.b" address the same leaf. It is
// safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	values  map[string]Value
	version atomic.Uint64
	sources []string
}

// New creates an empty store.
func New() *Store {
	return &Store{values: make(map[string]Value)}
}

// FromMap creates a store from a nested map, e.g. in tests.
func FromMap(m map[string]interface{}) *Store {
	s := New()
	for k, v := range m {
		s.Set(k, v)
	}
	return s
}

func canonical(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Set stores v under key. Maps are flattened into child keys.
func (s *Store) Set(key string, v interface{}) {
	s.SetValue(key, FromAny(v))
}

// SetValue stores a Value under key.
func (s *Store) SetValue(key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flattenInto(s.values, canonical(key), v)
	s.version.Add(1)
}

// Remove deletes key and every child key.
func (s *Store) Remove(key string) {
	key = canonical(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	prefix := key + "."
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
		}
	}
	s.version.Add(1)
}

func flattenInto(dst map[string]Value, key string, v Value) {
	if v.kind == KindMap && len(v.m) > 0 {
		for k, child := range v.m {
			childKey := k
			if key != "" {
				childKey = key + "." + k
			}
			flattenInto(dst, childKey, child)
		}
		return
	}
	if key == "" {
		return
	}
	dst[key] = v
}

// Lookup returns the value under key. A key that is only a prefix of other
// keys yields a map rebuilt from its children.
func (s *Store) Lookup(key string) (Value, bool) {
	key = canonical(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v, true
	}

	prefix := key + "."
	root := map[string]Value{}
	found := false
	for k, v := range s.values {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		found = true
		insertPath(root, strings.Split(k[len(prefix):], "."), v)
	}
	if !found {
		return Value{}, false
	}
	return Value{kind: KindMap, m: root}, true
}

func insertPath(m map[string]Value, path []string, v Value) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := m[path[0]]
	if !ok || child.kind != KindMap {
		child = Value{kind: KindMap, m: map[string]Value{}}
		m[path[0]] = child
	}
	insertPath(child.m, path[1:], v)
}

// Has reports whether key resolves to a value.
func (s *Store) Has(key string) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Keys returns every leaf key in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Version increments on every change; consumers cache derived values per
// version.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Sources lists where the current values were loaded from.
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.sources))
	copy(out, s.sources)
	return out
}

// replace swaps every value at once, used by reloads.
func (s *Store) replace(other *Store) {
	other.mu.RLock()
	values := make(map[string]Value, len(other.values))
	for k, v := range other.values {
		values[k] = v
	}
	sources := append([]string(nil), other.sources...)
	other.mu.RUnlock()

	s.mu.Lock()
	s.values = values
	s.sources = sources
	s.mu.Unlock()
	s.version.Add(1)
}
