package typelist

import (
	"errors"
	"fmt"
)

// ErrMissing is returned when a required fingerprint was never provided.
var ErrMissing = errors.New("required type not provided")

// Witness is implemented by anything that contributes and consumes types,
// typically a plugin.
type Witness interface {
	Provisions() []Fingerprint
	Required() []Fingerprint
}

// MissingError names the first fingerprint a unit required but that was not
// available when it was installed.
type MissingError struct {
	Unit        string
	Fingerprint Fingerprint
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s requires %s which is not provided by any earlier bean or plugin", e.Unit, Name(e.Fingerprint))
}

func (e *MissingError) Is(target error) bool { return target == ErrMissing }

// Set is the cumulative, ordered list of available fingerprints. The zero
// value is an empty set. Sets are immutable: With returns a new set.
type Set struct {
	order []Fingerprint
	index map[Fingerprint]struct{}
}

// NewSet builds a set from fs.
func NewSet(fs ...Fingerprint) Set {
	return Set{}.With(fs...)
}

// With returns the set extended with fs, preserving first-seen order.
func (s Set) With(fs ...Fingerprint) Set {
	next := Set{
		order: make([]Fingerprint, len(s.order), len(s.order)+len(fs)),
		index: make(map[Fingerprint]struct{}, len(s.order)+len(fs)),
	}
	copy(next.order, s.order)
	for f := range s.index {
		next.index[f] = struct{}{}
	}
	for _, f := range fs {
		if _, ok := next.index[f]; ok {
			continue
		}
		next.index[f] = struct{}{}
		next.order = append(next.order, f)
	}
	return next
}

// Contains reports whether f is in the set.
func (s Set) Contains(f Fingerprint) bool {
	_, ok := s.index[f]
	return ok
}

// Len returns the number of fingerprints.
func (s Set) Len() int { return len(s.order) }

// List returns the fingerprints in insertion order.
func (s Set) List() []Fingerprint {
	out := make([]Fingerprint, len(s.order))
	copy(out, s.order)
	return out
}

// FirstMissing returns the first fingerprint of required absent from s.
func (s Set) FirstMissing(required []Fingerprint) (Fingerprint, bool) {
	for _, f := range required {
		if !s.Contains(f) {
			return f, true
		}
	}
	return "", false
}

// Check verifies that every fingerprint w requires is in p and returns
// p ⊕ w.Provisions().
func Check(p Set, unit string, w Witness) (Set, error) {
	if missing, ok := p.FirstMissing(w.Required()); ok {
		return p, &MissingError{Unit: unit, Fingerprint: missing}
	}
	return p.With(w.Provisions()...), nil
}
