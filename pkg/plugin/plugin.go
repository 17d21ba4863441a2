// Package plugin defines the two plugin phases of an application.
//
// Pre-state plugins run before the bean graph is resolved; they provide
// beans and may defer work to serve time. Post-state plugins run once the
// application state exists; they add routes, layers and lifecycle hooks.
package plugin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Layer wraps the whole router.
type Layer func(http.Handler) http.Handler

// Hook runs at startup or shutdown.
type Hook func(ctx context.Context) error

// PreState is installed before bean resolution. Provisions and Required
// are checked against the plugins installed before it.
type PreState interface {
	Name() string
	Provisions() []typelist.Fingerprint
	Required() []typelist.Fingerprint
	Install(pc *PreContext) error
}

// PostState is installed after the state is materialized.
type PostState interface {
	Name() string
	Install(pc *PostContext) error
}

// DeferredAction is registered by a pre-state plugin and run at serve time.
// Every field except Name is optional.
type DeferredAction struct {
	Name       string
	Install    func(dc *DeferredContext) error
	AddLayer   Layer
	OnServe    func(tasks []scheduler.Task, token *scheduler.Token)
	OnShutdown func()
}

// PreContext is handed to pre-state plugins.
type PreContext struct {
	Registry *bean.Registry
	Config   *config.Store
	Logger   *zap.Logger
	Data     *Data

	deferred []DeferredAction
}

// NewPreContext creates the context shared by every pre-state plugin.
func NewPreContext(registry *bean.Registry, store *config.Store, logger *zap.Logger, data *Data) *PreContext {
	return &PreContext{Registry: registry, Config: store, Logger: logger, Data: data}
}

// Defer registers an action for serve time.
func (pc *PreContext) Defer(action DeferredAction) {
	pc.deferred = append(pc.deferred, action)
}

// Deferred returns the registered actions in registration order.
func (pc *PreContext) Deferred() []DeferredAction {
	return append([]DeferredAction(nil), pc.deferred...)
}

// DeferredContext is handed to deferred installers at serve time.
type DeferredContext struct {
	Beans  *bean.Context
	Config *config.Store
	Logger *zap.Logger
	Data   *Data
	Router chi.Router

	lifecycle *Lifecycle
}

// NewDeferredContext creates the context for deferred installers.
func NewDeferredContext(beans *bean.Context, store *config.Store, logger *zap.Logger, data *Data, router chi.Router, lc *Lifecycle) *DeferredContext {
	return &DeferredContext{Beans: beans, Config: store, Logger: logger, Data: data, Router: router, lifecycle: lc}
}

// AddLayer appends a router layer.
func (dc *DeferredContext) AddLayer(l Layer) { dc.lifecycle.AddLayer(l) }

// Layers returns the layers registered so far.
func (dc *DeferredContext) Layers() []Layer { return dc.lifecycle.Layers() }

// PostContext is handed to post-state plugins.
type PostContext struct {
	Router chi.Router
	Beans  *bean.Context
	Config *config.Store
	Logger *zap.Logger
	Data   *Data
	// State is the materialized application state.
	State interface{}

	lifecycle *Lifecycle
}

// NewPostContext creates the context shared by post-state plugins.
func NewPostContext(router chi.Router, beans *bean.Context, store *config.Store, logger *zap.Logger, data *Data, state interface{}, lc *Lifecycle) *PostContext {
	return &PostContext{Router: router, Beans: beans, Config: store, Logger: logger, Data: data, State: state, lifecycle: lc}
}

// AddLayer appends a router layer. The last layer added is outermost.
func (pc *PostContext) AddLayer(l Layer) { pc.lifecycle.AddLayer(l) }

// OnStart registers a startup hook.
func (pc *PostContext) OnStart(h Hook) { pc.lifecycle.OnStart(h) }

// OnStop registers a shutdown hook.
func (pc *PostContext) OnStop(h Hook) { pc.lifecycle.OnStop(h) }

type preState struct {
	name       string
	provisions []typelist.Fingerprint
	required   []typelist.Fingerprint
	install    func(pc *PreContext) error
}

// NewPreState builds a PreState from parts.
func NewPreState(name string, provisions, required []typelist.Fingerprint, install func(pc *PreContext) error) PreState {
	return &preState{name: name, provisions: provisions, required: required, install: install}
}

func (p *preState) Name() string                       { return p.name }
func (p *preState) Provisions() []typelist.Fingerprint { return p.provisions }
func (p *preState) Required() []typelist.Fingerprint   { return p.required }

func (p *preState) Install(pc *PreContext) error {
	if p.install == nil {
		return nil
	}
	return p.install(pc)
}

type postState struct {
	name    string
	install func(pc *PostContext) error
}

// NewPostState builds a PostState from a function.
func NewPostState(name string, install func(pc *PostContext) error) PostState {
	return &postState{name: name, install: install}
}

func (p *postState) Name() string                  { return p.name }
func (p *postState) Install(pc *PostContext) error { return p.install(pc) }

// InstallError names the plugin that failed.
type InstallError struct {
	Plugin string
	Err    error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
