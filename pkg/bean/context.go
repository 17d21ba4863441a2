package bean

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Context is the immutable result of a successful resolution.
type Context struct {
	instances map[typelist.Fingerprint]interface{}
	names     map[typelist.Fingerprint]string
	order     []typelist.Fingerprint
}

func newContext(capacity int) *Context {
	return &Context{
		instances: make(map[typelist.Fingerprint]interface{}, capacity),
		names:     make(map[typelist.Fingerprint]string, capacity),
		order:     make([]typelist.Fingerprint, 0, capacity),
	}
}

func (c *Context) put(d *Descriptor, v interface{}) {
	c.instances[d.Fingerprint] = v
	c.names[d.Fingerprint] = d.Name
	c.order = append(c.order, d.Fingerprint)
}

// Lookup returns the instance stored under f.
func (c *Context) Lookup(f typelist.Fingerprint) (interface{}, bool) {
	v, ok := c.instances[f]
	return v, ok
}

// Has reports whether f was resolved.
func (c *Context) Has(f typelist.Fingerprint) bool {
	_, ok := c.instances[f]
	return ok
}

// Len returns the number of beans.
func (c *Context) Len() int { return len(c.order) }

// Fingerprints returns every bean fingerprint in construction order.
func (c *Context) Fingerprints() []typelist.Fingerprint {
	out := make([]typelist.Fingerprint, len(c.order))
	copy(out, c.order)
	return out
}

// Each calls fn for every bean in construction order.
func (c *Context) Each(fn func(f typelist.Fingerprint, instance interface{})) {
	for _, f := range c.order {
		fn(f, c.instances[f])
	}
}

// Close closes every bean implementing io.Closer in reverse construction
// order and returns the first error.
func (c *Context) Close(ctx context.Context) error {
	var first error
	for i := len(c.order) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		closer, ok := c.instances[c.order[i]].(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing %s: %w", c.names[c.order[i]], err)
		}
	}
	return first
}

// Get returns the bean of type T.
func Get[T any](c *Context) (T, error) {
	var zero T
	f := typelist.Of[T]()
	v, ok := c.instances[f]
	if !ok {
		return zero, &NotFoundError{Bean: typelist.Name(f)}
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("bean %s holds %T", typelist.Name(f), v)
	}
	return out, nil
}

// MustGet is Get that panics when the bean is absent.
func MustGet[T any](c *Context) T {
	v, err := Get[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// StateFieldError reports a state field with no matching bean.
type StateFieldError struct {
	State string
	Field string
	Bean  string
}

func (e *StateFieldError) Error() string {
	return fmt.Sprintf("state %s field %s: no bean of type %s", e.State, e.Field, e.Bean)
}

func (e *StateFieldError) Is(target error) bool { return target == ErrNotFound }

// Materialize builds the application state S from the context. If S itself
// is a bean it is returned as is; otherwise S must be a struct whose
// exported fields are each drawn from the context by type. Fields tagged
// `bean:"-"` are left zero.
func Materialize[S any](c *Context) (S, error) {
	var zero S
	if v, ok := c.instances[typelist.Of[S]()]; ok {
		if s, ok := v.(S); ok {
			return s, nil
		}
	}

	t := typeOf[S]()
	structType := t
	if t.Kind() == reflect.Pointer {
		structType = t.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return zero, fmt.Errorf("state type %s must be a struct or a registered bean", t)
	}

	out := reflect.New(structType).Elem()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() || field.Tag.Get("bean") == "-" {
			continue
		}
		f := typelist.MustOfType(field.Type)
		v, ok := c.instances[f]
		if !ok {
			return zero, &StateFieldError{State: structType.Name(), Field: field.Name, Bean: typelist.Name(f)}
		}
		out.Field(i).Set(valueOf(v, field.Type))
	}

	if t.Kind() == reflect.Pointer {
		return out.Addr().Interface().(S), nil
	}
	return out.Interface().(S), nil
}
