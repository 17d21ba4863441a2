package controller

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/events"
	"github.com/Plawn/r2e-sub001/pkg/pipeline"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
)

// Env is what a controller needs to mount itself.
type Env struct {
	Router    chi.Router
	Pipeline  *pipeline.Env
	Beans     *bean.Context
	Config    *config.Store
	Lifecycle *plugin.Lifecycle
	Logger    *zap.Logger
}

// Mountable is implemented by every *Controller.
type Mountable interface {
	Name() string
	Err() error
	Requirements() []config.Requirement
	Dependencies() []bean.Dependency
	Describe() Descriptor
	Mount(env *Env) error
}

var _ Mountable = (*Controller[struct{}, struct{}])(nil)

// Mount registers routes on env.Router, tasks on env.Lifecycle and
// consumers on the *events.Bus bean.
func (c *Controller[S, C]) Mount(env *Env) error {
	if err := c.Err(); err != nil {
		return err
	}
	if env == nil || env.Router == nil || env.Beans == nil {
		return fmt.Errorf("controller %s: mount needs a router and a bean context", c.name)
	}
	if env.Pipeline == nil {
		env.Pipeline = &pipeline.Env{}
	}
	if _, ok := env.Pipeline.State.(S); !ok {
		var zero S
		return fmt.Errorf("controller %s: application state is %T, expected %T", c.name, env.Pipeline.State, zero)
	}
	for _, dep := range c.Dependencies() {
		if !env.Beans.Has(dep.Fingerprint) {
			return fmt.Errorf("controller %s: %w: %s", c.name, bean.ErrMissingDependency, dep.Name)
		}
	}
	// Build once up front so injection and config errors surface at mount.
	if _, err := c.template(env.Beans, env.Config); err != nil {
		return err
	}

	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, r := range c.routes {
		h, err := pipeline.Assemble(r.spec, env.Pipeline, pipeline.Target{
			Construct: func(_ context.Context, req *pipeline.Request) (interface{}, error) {
				return c.instance(env.Beans, env.Config, req.Identity())
			},
			Invoke: r.invoke,
		})
		if err != nil {
			return err
		}
		env.Router.Method(r.spec.Method, r.spec.Path, h)
		logger.Debug("Route mounted",
			zap.String("method", r.spec.Method),
			zap.String("path", r.spec.Path),
			zap.String("operation", r.spec.OperationID))
	}

	if (len(c.tasks) > 0 || len(c.consumers) > 0) && c.identityMode == pipeline.IdentityRequired {
		return fmt.Errorf("controller %s: scheduled tasks and consumers cannot run on a controller with a required identity field", c.name)
	}

	background := func() (*C, error) { return c.instance(env.Beans, env.Config, nil) }

	if len(c.tasks) > 0 {
		if env.Lifecycle == nil {
			return fmt.Errorf("controller %s: scheduled tasks need a lifecycle", c.name)
		}
		for _, t := range c.tasks {
			t := t
			env.Lifecycle.AddTasks(scheduler.Task{
				Name:     c.name + "." + t.name,
				Schedule: t.schedule,
				Run: func(ctx context.Context) error {
					inst, err := background()
					if err != nil {
						return err
					}
					return t.run(inst, ctx)
				},
			})
		}
	}

	if len(c.consumers) > 0 {
		bus, err := bean.Get[*events.Bus](env.Beans)
		if err != nil {
			return fmt.Errorf("controller %s: event consumers need the events plugin: %w", c.name, err)
		}
		for _, consumer := range c.consumers {
			unsubscribe := consumer.subscribe(bus, background)
			if env.Lifecycle != nil {
				env.Lifecycle.OnStop(func(context.Context) error {
					unsubscribe()
					return nil
				})
			}
		}
	}
	return nil
}
