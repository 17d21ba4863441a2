package plugin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// ErrSealed is returned when writing to a sealed blackboard.
var ErrSealed = errors.New("plugin data is sealed")

// Data is a blackboard indexed by type, shared between plugins. It is
// sealed once the application is built.
type Data struct {
	mu     sync.RWMutex
	values map[typelist.Fingerprint]interface{}
	sealed bool
}

// NewData creates an empty blackboard.
func NewData() *Data {
	return &Data{values: make(map[typelist.Fingerprint]interface{})}
}

// Seal makes the blackboard read-only.
func (d *Data) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

// Put stores v under its type, replacing any previous value.
func Put[T any](d *Data, v T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("put %s: %w", typelist.Name(typelist.Of[T]()), ErrSealed)
	}
	d.values[typelist.Of[T]()] = v
	return nil
}

// Lookup returns the value stored under T.
func Lookup[T any](d *Data) (T, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[typelist.Of[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
