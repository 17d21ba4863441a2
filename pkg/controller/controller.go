// Package controller declares groups of routes, scheduled tasks and event
// consumers that share one controller struct. Controller structs are plain
// Go structs whose tagged fields are filled per request:
//
//	type Users struct {
//		Repo    *UserRepo         `inject:""`
//		Greet   string            `config:"app.greeting"`
//		Caller  identity.Identity `identity:""`
//	}
package controller

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/pipeline"
)

var identityType = reflect.TypeOf((*identity.Identity)(nil)).Elem()

// Controller is the declaration of one controller over state S and struct C.
type Controller[S any, C any] struct {
	name       string
	prefix     string
	decorators []pipeline.Decorator

	plan          *bean.StructPlan
	identityIndex []int
	identityField reflect.Type
	identityMode  pipeline.IdentityMode

	routes    []*route
	tasks     []taskDecl[C]
	consumers []consumerDecl[C]
	errs      []error

	mu      sync.RWMutex
	tmpl    reflect.Value
	version uint64
	built   bool
}

// Option configures a controller.
type Option func(*options)

type options struct {
	prefix     string
	decorators []pipeline.Decorator
}

// Prefix mounts every route of the controller under prefix.
func Prefix(prefix string) Option {
	return func(o *options) { o.prefix = strings.TrimRight(prefix, "/") }
}

// With applies decorators to every route. They run before the route's own
// decorators, so controller interceptors wrap route interceptors and
// controller guards run first.
func With(decorators ...pipeline.Decorator) Option {
	return func(o *options) { o.decorators = append(o.decorators, decorators...) }
}

// New declares a controller. C must be a struct type.
func New[S any, C any](name string, opts ...Option) *Controller[S, C] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Controller[S, C]{name: name, prefix: o.prefix, decorators: o.decorators}

	t := reflect.TypeOf((*C)(nil)).Elem()
	plan, err := bean.PlanStruct(t)
	if err != nil {
		c.errs = append(c.errs, err)
		return c
	}
	c.plan = plan

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("identity")
		if !ok {
			continue
		}
		if c.identityIndex != nil {
			c.errs = append(c.errs, fmt.Errorf("controller %s declares more than one identity field", name))
			continue
		}
		if !field.IsExported() {
			c.errs = append(c.errs, fmt.Errorf("identity field %s.%s is not exported", t.Name(), field.Name))
			continue
		}
		if field.Type != identityType && !field.Type.Implements(identityType) {
			c.errs = append(c.errs, fmt.Errorf("identity field %s.%s is %s, which is not an identity.Identity", t.Name(), field.Name, field.Type))
			continue
		}
		c.identityIndex = field.Index
		c.identityField = field.Type
		switch strings.TrimSpace(tag) {
		case "":
			c.identityMode = pipeline.IdentityRequired
		case "optional":
			c.identityMode = pipeline.IdentityOptional
		default:
			c.errs = append(c.errs, fmt.Errorf("identity field %s.%s has unknown mode %q", t.Name(), field.Name, tag))
		}
	}
	return c
}

// Name returns the controller name.
func (c *Controller[S, C]) Name() string { return c.name }

// Err reports declaration errors collected so far.
func (c *Controller[S, C]) Err() error { return errors.Join(c.errs...) }

// Requirements lists the configuration keys read by C.
func (c *Controller[S, C]) Requirements() []config.Requirement {
	if c.plan == nil {
		return nil
	}
	return c.plan.Requirements(c.name)
}

// Dependencies lists the beans injected into C.
func (c *Controller[S, C]) Dependencies() []bean.Dependency {
	if c.plan == nil {
		return nil
	}
	return c.plan.Dependencies()
}

// template returns the injected and configured value of C, rebuilding it
// when the configuration store has changed.
func (c *Controller[S, C]) template(beans *bean.Context, store *config.Store) (reflect.Value, error) {
	var version uint64
	if store != nil {
		version = store.Version()
	}

	c.mu.RLock()
	if c.built && c.version == version {
		t := c.tmpl
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built && c.version == version {
		return c.tmpl, nil
	}
	v, err := c.plan.Fill(beans, store)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("controller %s: %w", c.name, err)
	}
	c.tmpl, c.version, c.built = v, version, true
	return v, nil
}

// instance copies the template into a new *C and sets the identity field.
func (c *Controller[S, C]) instance(beans *bean.Context, store *config.Store, id identity.Identity) (*C, error) {
	tmpl, err := c.template(beans, store)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(tmpl.Type())
	ptr.Elem().Set(tmpl)
	if c.identityIndex != nil && id != nil {
		v := reflect.ValueOf(id)
		if !v.Type().AssignableTo(c.identityField) {
			return nil, fmt.Errorf("controller %s: identity %T does not fit field type %s", c.name, id, c.identityField)
		}
		ptr.Elem().FieldByIndex(c.identityIndex).Set(v)
	}
	return ptr.Interface().(*C), nil
}
