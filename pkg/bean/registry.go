// Package bean is the type-indexed dependency registry. Beans are registered
// as ready instances, constructors or producer closures; Resolve checks the
// graph and builds every bean exactly once in dependency order.
package bean

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Flavor describes how a bean comes into existence.
type Flavor int

const (
	FlavorProvided Flavor = iota
	FlavorSync
	FlavorAsync
	FlavorProducer
)

func (f Flavor) String() string {
	switch f {
	case FlavorProvided:
		return "provided"
	case FlavorSync:
		return "sync"
	case FlavorAsync:
		return "async"
	case FlavorProducer:
		return "producer"
	default:
		return "unknown"
	}
}

// Dependency is an edge of the bean graph.
type Dependency struct {
	Fingerprint typelist.Fingerprint
	Name        string
}

// BuildFunc constructs a bean from already-built beans.
type BuildFunc func(ctx context.Context, bc *Context) (interface{}, error)

// Descriptor describes one registered bean.
type Descriptor struct {
	Fingerprint  typelist.Fingerprint
	Name         string
	Type         reflect.Type
	Flavor       Flavor
	Dependencies []Dependency
	ConfigKeys   []config.Requirement

	instance interface{}
	build    BuildFunc
}

// Option customizes a registration.
type Option func(*Descriptor)

// WithConfigKeys declares configuration keys the bean reads. They are
// validated before any bean is constructed.
func WithConfigKeys(reqs ...config.Requirement) Option {
	return func(d *Descriptor) {
		for _, req := range reqs {
			if req.Owner == "" {
				req.Owner = d.Name
			}
			d.ConfigKeys = append(d.ConfigKeys, req)
		}
	}
}

// WithName overrides the diagnostic name.
func WithName(name string) Option {
	return func(d *Descriptor) { d.Name = name }
}

// Registry accumulates bean registrations. It is safe for concurrent use
// but is normally filled from a single goroutine during startup.
type Registry struct {
	mu          sync.Mutex
	descriptors []*Descriptor
	index       map[typelist.Fingerprint]*Descriptor
	errs        []error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[typelist.Fingerprint]*Descriptor)}
}

func (r *Registry) add(d *Descriptor, opts []Option) {
	for _, opt := range opts {
		opt(d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[d.Fingerprint]; exists {
		r.errs = append(r.errs, &DuplicateBeanError{Bean: d.Name})
		return
	}
	r.index[d.Fingerprint] = d
	r.descriptors = append(r.descriptors, d)
}

func (r *Registry) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Has reports whether a bean with fingerprint f was registered.
func (r *Registry) Has(f typelist.Fingerprint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[f]
	return ok
}

// Descriptors returns the registrations in insertion order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Fingerprints lists every registered fingerprint in insertion order.
func (r *Registry) Fingerprints() []typelist.Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]typelist.Fingerprint, len(r.descriptors))
	for i, d := range r.descriptors {
		out[i] = d.Fingerprint
	}
	return out
}

func newDescriptor(t reflect.Type, flavor Flavor) *Descriptor {
	f := typelist.MustOfType(t)
	return &Descriptor{Fingerprint: f, Name: typelist.Name(f), Type: t, Flavor: flavor}
}

func dependencyOf(t reflect.Type) Dependency {
	f := typelist.MustOfType(t)
	return Dependency{Fingerprint: f, Name: typelist.Name(f)}
}

// ============================================================================
// REGISTRATION
// ============================================================================

// Provide registers a ready instance of T.
func Provide[T any](r *Registry, instance T, opts ...Option) {
	d := newDescriptor(typeOf[T](), FlavorProvided)
	d.instance = instance
	r.add(d, opts)
}

// Register registers a synchronous constructor for T. ctor must be a
// function returning T or (T, error); its parameter types are the bean's
// dependencies.
func Register[T any](r *Registry, ctor interface{}, opts ...Option) {
	t := typeOf[T]()
	d := newDescriptor(t, FlavorSync)
	build, deps, err := reflectConstructor(t, ctor, false)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s: %v", ErrInvalidRegistration, d.Name, err))
		return
	}
	d.build, d.Dependencies = build, deps
	r.add(d, opts)
}

// RegisterAsync registers a constructor that takes a context and may block:
// func(ctx context.Context, deps...) (T, error).
func RegisterAsync[T any](r *Registry, ctor interface{}, opts ...Option) {
	t := typeOf[T]()
	d := newDescriptor(t, FlavorAsync)
	build, deps, err := reflectConstructor(t, ctor, true)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s: %v", ErrInvalidRegistration, d.Name, err))
		return
	}
	d.build, d.Dependencies = build, deps
	r.add(d, opts)
}

// RegisterProducer registers a closure building T from the declared
// dependencies, which it reads from the partially built context.
func RegisterProducer[T any](r *Registry, deps []typelist.Fingerprint, produce func(ctx context.Context, bc *Context) (T, error), opts ...Option) {
	d := newDescriptor(typeOf[T](), FlavorProducer)
	for _, f := range deps {
		d.Dependencies = append(d.Dependencies, Dependency{Fingerprint: f, Name: typelist.Name(f)})
	}
	d.build = func(ctx context.Context, bc *Context) (interface{}, error) {
		return produce(ctx, bc)
	}
	r.add(d, opts)
}

// Dependencies is a helper for RegisterProducer.
func Dependencies(fs ...typelist.Fingerprint) []typelist.Fingerprint { return fs }

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func reflectConstructor(target reflect.Type, ctor interface{}, async bool) (BuildFunc, []Dependency, error) {
	fn := reflect.ValueOf(ctor)
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, nil, fmt.Errorf("constructor must be a function, got %T", ctor)
	}
	ft := fn.Type()

	switch ft.NumOut() {
	case 1:
		if async {
			return nil, nil, fmt.Errorf("async constructor must return (T, error)")
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, nil, fmt.Errorf("second return value must be error, got %s", ft.Out(1))
		}
	default:
		return nil, nil, fmt.Errorf("constructor must return T or (T, error)")
	}
	if !ft.Out(0).AssignableTo(target) {
		return nil, nil, fmt.Errorf("constructor returns %s, not assignable to %s", ft.Out(0), target)
	}

	first := 0
	if async {
		if ft.NumIn() == 0 || ft.In(0) != contextType {
			return nil, nil, fmt.Errorf("async constructor must take context.Context first")
		}
		first = 1
	} else if ft.NumIn() > 0 && ft.In(0) == contextType {
		return nil, nil, fmt.Errorf("constructor takes a context; register it with RegisterAsync")
	}
	if ft.IsVariadic() {
		return nil, nil, fmt.Errorf("variadic constructors are not supported")
	}

	deps := make([]Dependency, 0, ft.NumIn()-first)
	for i := first; i < ft.NumIn(); i++ {
		deps = append(deps, dependencyOf(ft.In(i)))
	}

	build := func(ctx context.Context, bc *Context) (interface{}, error) {
		args := make([]reflect.Value, 0, ft.NumIn())
		if async {
			args = append(args, reflect.ValueOf(ctx))
		}
		for i, dep := range deps {
			v, ok := bc.Lookup(dep.Fingerprint)
			if !ok {
				return nil, &NotFoundError{Bean: dep.Name}
			}
			args = append(args, valueOf(v, ft.In(first+i)))
		}
		out := fn.Call(args)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
	return build, deps, nil
}

// valueOf wraps v for a reflective call, mapping nil to the zero value.
func valueOf(v interface{}, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}
