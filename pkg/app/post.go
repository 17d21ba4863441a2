package app

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/cache"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/controller"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/pipeline"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/ratelimit"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
)

// PostState is the application after bean resolution. Post-state plugins,
// layers and hooks are added here before Build.
type PostState[S any] struct {
	state       S
	beans       *bean.Context
	store       *config.Store
	logger      *zap.Logger
	data        *plugin.Data
	router      chi.Router
	lifecycle   *plugin.Lifecycle
	deferred    []plugin.DeferredAction
	descriptors []controller.Descriptor
	pipeline    *pipeline.Env
	errs        []error
}

// State returns the materialized application state.
func (ps *PostState[S]) State() S { return ps.state }

// Beans returns the resolved bean context.
func (ps *PostState[S]) Beans() *bean.Context { return ps.beans }

// Router returns the application router.
func (ps *PostState[S]) Router() chi.Router { return ps.router }

// Controllers returns the metadata of the mounted controllers.
func (ps *PostState[S]) Controllers() []controller.Descriptor { return ps.descriptors }

// Plugin installs a post-state plugin immediately. Install errors are
// reported by Build.
func (ps *PostState[S]) Plugin(p plugin.PostState) *PostState[S] {
	pc := plugin.NewPostContext(ps.router, ps.beans, ps.store, ps.logger, ps.data, ps.state, ps.lifecycle)
	if err := p.Install(pc); err != nil {
		ps.errs = append(ps.errs, &plugin.InstallError{Plugin: p.Name(), Err: err})
		return ps
	}
	ps.logger.Debug("Plugin installed", zap.String("plugin", p.Name()))
	return ps
}

// Layer wraps the router. The last layer added is outermost.
func (ps *PostState[S]) Layer(l plugin.Layer) *PostState[S] {
	ps.lifecycle.AddLayer(l)
	return ps
}

// OnStart registers a hook run before requests are accepted.
func (ps *PostState[S]) OnStart(h plugin.Hook) *PostState[S] {
	ps.lifecycle.OnStart(h)
	return ps
}

// OnStop registers a hook run after in-flight requests are drained.
func (ps *PostState[S]) OnStop(h plugin.Hook) *PostState[S] {
	ps.lifecycle.OnStop(h)
	return ps
}

// Build runs the deferred installers, seals the plugin data and wraps the
// router in its layers. Panic recovery is always the outermost layer.
func (ps *PostState[S]) Build(_ context.Context) (*App, error) {
	if err := errors.Join(ps.errs...); err != nil {
		return nil, err
	}

	dc := plugin.NewDeferredContext(ps.beans, ps.store, ps.logger, ps.data, ps.router, ps.lifecycle)
	for _, action := range ps.deferred {
		if action.Install != nil {
			if err := action.Install(dc); err != nil {
				return nil, &plugin.InstallError{Plugin: action.Name, Err: err}
			}
		}
		if action.AddLayer != nil {
			ps.lifecycle.AddLayer(action.AddLayer)
		}
	}
	ps.data.Seal()

	handler := apperrors.Recovery(ps.logger)(ps.lifecycle.Apply(ps.router))

	token, err := bean.Get[*scheduler.Token](ps.beans)
	if err != nil {
		token = scheduler.NewToken(context.Background())
	}
	if len(ps.lifecycle.Tasks()) > 0 && !hasOnServe(ps.deferred) {
		ps.logger.Warn("Scheduled tasks are declared but no plugin starts them",
			zap.Int("tasks", len(ps.lifecycle.Tasks())))
	}

	addr, err := config.GetOr(ps.store, ServerAddrKey, ":8080")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := config.GetOr(ps.store, ShutdownTimeoutKey, defaultShutdownTimeout)
	if err != nil {
		return nil, err
	}

	return &App{
		handler:         handler,
		logger:          ps.logger,
		lifecycle:       ps.lifecycle,
		deferred:        ps.deferred,
		token:           token,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Serve builds the application and serves it on addr until ctx ends.
func (ps *PostState[S]) Serve(ctx context.Context, addr string) error {
	a, err := ps.Build(ctx)
	if err != nil {
		return err
	}
	return a.Serve(ctx, addr)
}

func hasOnServe(actions []plugin.DeferredAction) bool {
	for _, a := range actions {
		if a.OnServe != nil {
			return true
		}
	}
	return false
}

// controllerEnv collects the pipeline collaborators from the bean context.
func (ps *PostState[S]) controllerEnv() *controller.Env {
	env := &pipeline.Env{State: ps.state, Logger: ps.logger}
	if v, err := bean.Get[identity.ClaimsValidator](ps.beans); err == nil {
		env.Extractor = identity.NewExtractor(v)
	}
	if reg, err := bean.Get[*ratelimit.Registry](ps.beans); err == nil {
		env.RateLimits = reg
	} else {
		env.RateLimits = ratelimit.NewRegistry()
	}
	if store, err := bean.Get[cache.Store](ps.beans); err == nil {
		env.Cache = store
	}
	if v, err := bean.Get[*pipeline.Validator](ps.beans); err == nil {
		env.Validator = v
	}
	ps.pipeline = env
	return &controller.Env{
		Router:    ps.router,
		Pipeline:  env,
		Beans:     ps.beans,
		Config:    ps.store,
		Lifecycle: ps.lifecycle,
		Logger:    ps.logger,
	}
}
