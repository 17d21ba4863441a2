// Package typelist computes stable type fingerprints and checks that the
// fingerprints a plugin consumes were provided before it was installed.
package typelist

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrCollision is returned when two distinct types share a fingerprint.
var ErrCollision = errors.New("type fingerprint collision")

// Fingerprint is a stable string identity for a Go type.
type Fingerprint string

// String returns the full fingerprint.
func (f Fingerprint) String() string { return string(f) }

var (
	mu    sync.RWMutex
	table = map[Fingerprint]reflect.Type{}
)

// Of returns the fingerprint of T. Interface types are supported.
func Of[T any]() Fingerprint {
	return MustOfType(reflect.TypeOf((*T)(nil)).Elem())
}

// OfType returns the fingerprint of t and records it in the process-wide
// table. A different type already recorded under the same fingerprint is
// reported as ErrCollision.
func OfType(t reflect.Type) (Fingerprint, error) {
	if t == nil {
		return "", errors.New("nil type has no fingerprint")
	}
	f := Fingerprint(describe(t))

	mu.RLock()
	existing, ok := table[f]
	mu.RUnlock()
	if ok {
		if existing != t {
			return "", fmt.Errorf("%w: %s", ErrCollision, f)
		}
		return f, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if existing, ok := table[f]; ok && existing != t {
		return "", fmt.Errorf("%w: %s", ErrCollision, f)
	}
	table[f] = t
	return f, nil
}

// MustOfType is OfType that panics on collision.
func MustOfType(t reflect.Type) Fingerprint {
	f, err := OfType(t)
	if err != nil {
		panic(err)
	}
	return f
}

// TypeOf returns the type recorded for f.
func TypeOf(f Fingerprint) (reflect.Type, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := table[f]
	return t, ok
}

// Name returns a short human readable name for diagnostics.
func Name(f Fingerprint) string {
	if t, ok := TypeOf(f); ok {
		return t.String()
	}
	s := string(f)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func describe(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.String()
		}
		// Generic instantiations carry their arguments in Name().
		return t.PkgPath() + "." + t.Name()
	}

	switch t.Kind() {
	case reflect.Pointer:
		return "*" + describe(t.Elem())
	case reflect.Slice:
		return "[]" + describe(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), describe(t.Elem()))
	case reflect.Map:
		return "map[" + describe(t.Key()) + "]" + describe(t.Elem())
	case reflect.Chan:
		return t.ChanDir().String() + " " + describe(t.Elem())
	default:
		// Unnamed funcs, structs and interfaces: reflect's own rendering is
		// unique enough within a process and the table catches the rest.
		return t.String()
	}
}
