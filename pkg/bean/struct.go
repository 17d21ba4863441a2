package bean

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Initializer is implemented by beans that need a hook after construction.
type Initializer interface {
	Init(ctx context.Context) error
}

type injectedField struct {
	index []int
	dep   Dependency
	typ   reflect.Type
}

type configField struct {
	index    []int
	key      string
	typ      reflect.Type
	optional bool
}

// structPlan is the reflected shape of a struct bean.
type structPlan struct {
	typ      reflect.Type
	injected []injectedField
	config   []configField
}

// ParseConfigTag splits `config:"key,optional"`.
func ParseConfigTag(tag string) (key string, optional bool) {
	parts := strings.Split(tag, ",")
	key = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		if strings.TrimSpace(p) == "optional" {
			optional = true
		}
	}
	return key, optional
}

func planStruct(t reflect.Type) (*structPlan, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}
	plan := &structPlan{typ: t}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		_, inject := field.Tag.Lookup("inject")
		cfgTag, hasConfig := field.Tag.Lookup("config")
		if !inject && !hasConfig {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("field %s.%s is tagged but not exported", t.Name(), field.Name)
		}
		if inject && hasConfig {
			return nil, fmt.Errorf("field %s.%s cannot be both injected and configured", t.Name(), field.Name)
		}
		if inject {
			plan.injected = append(plan.injected, injectedField{index: field.Index, dep: dependencyOf(field.Type), typ: field.Type})
			continue
		}
		key, optional := ParseConfigTag(cfgTag)
		if key == "" {
			return nil, fmt.Errorf("field %s.%s has an empty config key", t.Name(), field.Name)
		}
		plan.config = append(plan.config, configField{
			index:    field.Index,
			key:      key,
			typ:      field.Type,
			optional: optional || field.Type.Kind() == reflect.Pointer,
		})
	}
	return plan, nil
}

func (p *structPlan) requirements(owner string) []config.Requirement {
	reqs := make([]config.Requirement, 0, len(p.config))
	for _, f := range p.config {
		reqs = append(reqs, config.Requirement{Key: f.key, Type: f.typ, Owner: owner, Optional: f.optional})
	}
	return reqs
}

// fill populates a new struct value from bc and store.
func (p *structPlan) fill(bc *Context, store *config.Store) (reflect.Value, error) {
	v := reflect.New(p.typ).Elem()
	for _, f := range p.injected {
		dep, ok := bc.Lookup(f.dep.Fingerprint)
		if !ok {
			return reflect.Value{}, &NotFoundError{Bean: f.dep.Name}
		}
		v.FieldByIndex(f.index).Set(valueOf(dep, f.typ))
	}
	for _, f := range p.config {
		if store == nil {
			return reflect.Value{}, fmt.Errorf("config key %q requested but no configuration store is registered", f.key)
		}
		raw, ok := store.Lookup(f.key)
		if !ok {
			if f.optional {
				continue
			}
			return reflect.Value{}, &config.NotFoundError{Key: f.key}
		}
		decoded, err := config.Decode(raw, f.key, f.typ)
		if err != nil {
			return reflect.Value{}, err
		}
		v.FieldByIndex(f.index).Set(decoded)
	}
	return v, nil
}

var storeFingerprint = typelist.Of[*config.Store]()

// RegisterStruct registers T (a struct or pointer to struct) whose fields
// tagged `inject:""` are dependencies and whose fields tagged
// `config:"key"` are read from the *config.Store bean.
func RegisterStruct[T any](r *Registry, opts ...Option) {
	t := typeOf[T]()
	d := newDescriptor(t, FlavorSync)

	structType, isPtr := t, false
	if t.Kind() == reflect.Pointer {
		structType, isPtr = t.Elem(), true
	}
	plan, err := planStruct(structType)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s: %v", ErrInvalidRegistration, d.Name, err))
		return
	}

	for _, f := range plan.injected {
		d.Dependencies = append(d.Dependencies, f.dep)
	}
	if len(plan.config) > 0 {
		d.Dependencies = append(d.Dependencies, Dependency{Fingerprint: storeFingerprint, Name: typelist.Name(storeFingerprint)})
		d.ConfigKeys = append(d.ConfigKeys, plan.requirements(d.Name)...)
	}

	d.build = func(ctx context.Context, bc *Context) (interface{}, error) {
		var store *config.Store
		if len(plan.config) > 0 {
			store, _ = Get[*config.Store](bc)
		}
		v, err := plan.fill(bc, store)
		if err != nil {
			return nil, err
		}
		var out reflect.Value
		if isPtr {
			out = v.Addr()
		} else {
			out = v
		}
		if init, ok := out.Interface().(Initializer); ok {
			if err := init.Init(ctx); err != nil {
				return nil, err
			}
		} else if !isPtr {
			if init, ok := v.Addr().Interface().(Initializer); ok {
				if err := init.Init(ctx); err != nil {
					return nil, err
				}
				out = v
			}
		}
		return out.Interface(), nil
	}
	r.add(d, opts)
}

// StructPlan is the reflected inject/config shape of a struct type, for
// callers that build tagged structs outside the registry.
type StructPlan struct {
	plan *structPlan
}

// PlanStruct reflects the tagged fields of struct type t.
func PlanStruct(t reflect.Type) (*StructPlan, error) {
	plan, err := planStruct(t)
	if err != nil {
		return nil, err
	}
	return &StructPlan{plan: plan}, nil
}

// Dependencies lists the bean edges of the injected fields.
func (p *StructPlan) Dependencies() []Dependency {
	deps := make([]Dependency, 0, len(p.plan.injected))
	for _, f := range p.plan.injected {
		deps = append(deps, f.dep)
	}
	return deps
}

// Requirements lists the configuration keys read by the struct.
func (p *StructPlan) Requirements(owner string) []config.Requirement {
	return p.plan.requirements(owner)
}

// Fill returns a new struct value with injected fields drawn from bc and
// config fields decoded from store.
func (p *StructPlan) Fill(bc *Context, store *config.Store) (reflect.Value, error) {
	return p.plan.fill(bc, store)
}
