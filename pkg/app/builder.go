// Package app assembles beans, plugins and controllers into a served
// application: Builder (pre-state) → BuildState → PostState → Build → App.
package app

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/controller"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Builder collects beans, pre-state plugins and controllers for an
// application whose state type is S.
type Builder[S any] struct {
	registry    *bean.Registry
	store       *config.Store
	logger      *zap.Logger
	plugins     []plugin.PreState
	controllers []controller.Mountable
}

// New starts an application builder.
func New[S any]() *Builder[S] {
	return &Builder[S]{registry: bean.NewRegistry()}
}

// Registry exposes the bean registry for Register, RegisterAsync,
// RegisterProducer and RegisterStruct.
func (b *Builder[S]) Registry() *bean.Registry { return b.registry }

// WithConfig sets the configuration store. Without one an empty store is
// used.
func (b *Builder[S]) WithConfig(store *config.Store) *Builder[S] {
	b.store = store
	return b
}

// WithLogger sets the logger. Without one it is built from r2e.log.level
// and r2e.log.format.
func (b *Builder[S]) WithLogger(logger *zap.Logger) *Builder[S] {
	b.logger = logger
	return b
}

// Plugin adds a pre-state plugin. Plugins install in the order added.
func (b *Builder[S]) Plugin(p plugin.PreState) *Builder[S] {
	b.plugins = append(b.plugins, p)
	return b
}

// Controller adds a controller, mounted at BuildState.
func (b *Builder[S]) Controller(c controller.Mountable) *Builder[S] {
	b.controllers = append(b.controllers, c)
	return b
}

// Provide registers a ready bean instance.
func Provide[S any, T any](b *Builder[S], instance T, opts ...bean.Option) *Builder[S] {
	bean.Provide[T](b.registry, instance, opts...)
	return b
}

// BuildState installs the pre-state plugins, validates configuration,
// resolves the bean graph, materializes S and mounts the controllers.
func (b *Builder[S]) BuildState(ctx context.Context) (*PostState[S], error) {
	store := b.store
	if store == nil {
		store = config.New()
	}
	logger := b.logger
	if logger == nil {
		var err error
		if logger, err = LoggerFromConfig(store); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	if !b.registry.Has(typelist.Of[*config.Store]()) {
		bean.Provide(b.registry, store)
	}
	if !b.registry.Has(typelist.Of[*zap.Logger]()) {
		bean.Provide(b.registry, logger)
	}

	data := plugin.NewData()
	pre := plugin.NewPreContext(b.registry, store, logger, data)
	provided := typelist.NewSet(b.registry.Fingerprints()...)
	for _, p := range b.plugins {
		var err error
		if provided, err = typelist.Check(provided, p.Name(), p); err != nil {
			return nil, err
		}
		if err := p.Install(pre); err != nil {
			return nil, &plugin.InstallError{Plugin: p.Name(), Err: err}
		}
		logger.Debug("Plugin installed", zap.String("plugin", p.Name()))
	}

	// Every declaration and configuration failure is reported at once.
	collector := apperrors.NewCollector("application startup failed")
	var reqs []config.Requirement
	for _, d := range b.registry.Descriptors() {
		reqs = append(reqs, d.ConfigKeys...)
	}
	for _, c := range b.controllers {
		collector.Add(c.Err())
		reqs = append(reqs, c.Requirements()...)
	}
	if err := store.Validate(reqs); err != nil {
		if agg, ok := err.(*apperrors.AggregateError); ok {
			for _, e := range agg.Errors {
				collector.Add(e)
			}
		} else {
			collector.Add(err)
		}
	}
	if err := collector.Err(); err != nil {
		return nil, err
	}

	beans, err := b.registry.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	state, err := bean.Materialize[S](beans)
	if err != nil {
		return nil, err
	}

	ps := &PostState[S]{
		state:     state,
		beans:     beans,
		store:     store,
		logger:    logger,
		data:      data,
		router:    chi.NewRouter(),
		lifecycle: plugin.NewLifecycle(),
		deferred:  pre.Deferred(),
	}
	env := ps.controllerEnv()
	for _, c := range b.controllers {
		if err := c.Mount(env); err != nil {
			return nil, err
		}
		logger.Info("Controller mounted", zap.String("controller", c.Name()))
		ps.descriptors = append(ps.descriptors, c.Describe())
	}
	return ps, nil
}
