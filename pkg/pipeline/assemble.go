package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/api"
	"github.com/Plawn/r2e-sub001/pkg/cache"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/guard"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/interceptor"
	"github.com/Plawn/r2e-sub001/pkg/ratelimit"
)

// Env carries the application-wide collaborators of assembled routes.
type Env struct {
	State      interface{}
	Extractor  *identity.Extractor
	RateLimits *ratelimit.Registry
	Cache      cache.Store
	Validator  *Validator
	Logger     *zap.Logger
}

// Target is the per-route glue produced by a controller: Construct builds
// the controller instance, Invoke calls the handler on it.
type Target struct {
	Construct func(ctx context.Context, req *Request) (interface{}, error)
	Invoke    func(ctx context.Context, req *Request) (interface{}, error)
}

type assembled struct {
	spec         RouteSpec
	env          *Env
	target       Target
	preGuards    []guard.PreAuthGuard
	guards       []guard.Guard
	logger       *zap.Logger
	identityMode IdentityMode
}

// Assemble validates spec and returns its handler.
func Assemble(spec RouteSpec, env *Env, target Target) (http.Handler, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if target.Invoke == nil {
		return nil, fmt.Errorf("route %s has no handler", spec.Operation())
	}
	if env == nil {
		env = &Env{}
	}
	if spec.Identity() != IdentityNone && (env.Extractor == nil || env.Extractor.Validator == nil) {
		return nil, fmt.Errorf("route %s needs an identity but no claims validator is configured", spec.Operation())
	}

	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &assembled{
		spec:         spec,
		env:          env,
		target:       target,
		logger:       logger.With(zap.String("operation", spec.Operation())),
		identityMode: spec.Identity(),
	}

	registry := env.RateLimits
	if registry == nil {
		registry = ratelimit.Default()
	}
	for _, g := range spec.PreGuards {
		if rl, ok := g.(*guard.RateLimit); ok && rl.Registry == nil {
			rl.Registry = registry
		}
		a.preGuards = append(a.preGuards, g)
	}
	if len(spec.Roles) > 0 {
		a.guards = append(a.guards, guard.Roles(spec.Roles...))
	}
	for _, g := range spec.Guards {
		if rl, ok := g.(*guard.RateLimit); ok && rl.Registry == nil {
			rl.Registry = registry
		}
		a.guards = append(a.guards, g)
	}

	var h http.Handler = a
	for i := len(spec.Middleware) - 1; i >= 0; i-- {
		h = spec.Middleware[i](h)
	}
	return h, nil
}

func (a *assembled) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.spec.Timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	req := newRequest(r, a.env.State, a.validator())
	gc := guard.NewContext(r, a.spec.Controller, a.spec.Handler, req.params, a.env.State)

	if err := guard.RunPre(ctx, gc, a.preGuards); err != nil {
		a.fail(w, err)
		return
	}

	id, err := a.extractIdentity(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if id != nil {
		ctx = identity.WithIdentity(ctx, id)
		req.identity = id
		gc.Identity = id
	}
	if a.env.Cache != nil {
		ctx = cache.WithStore(ctx, a.env.Cache)
	}
	req.ctx = ctx

	if a.target.Construct != nil {
		instance, err := a.target.Construct(ctx, req)
		if err != nil {
			a.fail(w, err)
			return
		}
		req.controller = instance
	}

	if err := guard.Run(ctx, gc, a.guards); err != nil {
		a.fail(w, err)
		return
	}

	result, err := a.invokeWithResources(ctx, req)
	if err == nil && a.spec.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = apperrors.Timeout("REQUEST_TIMEOUT", "Request timed out").WithCause(err).Build()
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeResult(w, r, result)
}

func (a *assembled) validator() *Validator {
	if a.env.Validator != nil {
		return a.env.Validator
	}
	return DefaultValidator()
}

func (a *assembled) extractIdentity(r *http.Request) (identity.Identity, error) {
	switch a.identityMode {
	case IdentityRequired:
		return a.env.Extractor.Required(r)
	case IdentityOptional:
		return a.env.Extractor.Optional(r)
	default:
		return nil, nil
	}
}

type acquired struct {
	binding ManagedBinding
	value   interface{}
}

func (a *assembled) invokeWithResources(ctx context.Context, req *Request) (result interface{}, err error) {
	held := make([]acquired, 0, len(a.spec.Managed))
	for _, b := range a.spec.Managed {
		v, acqErr := b.Resource.Acquire(ctx, a.env.State)
		if acqErr != nil {
			a.release(ctx, held, false)
			return nil, acqErr
		}
		held = append(held, acquired{binding: b, value: v})
		req.managed[b.Name] = v
	}

	completed := false
	defer func() {
		if !completed {
			// The handler panicked: roll back, then let Recovery answer.
			a.release(ctx, held, false)
		}
	}()

	ic := &interceptor.Context{
		Method:     a.spec.Handler,
		Controller: a.spec.Controller,
		State:      a.env.State,
		Params:     req.params,
		Query:      req.query,
		ResultType: a.spec.ResultType,
	}
	chain := interceptor.Chain(a.spec.Interceptors, ic, func(ctx context.Context) (interface{}, error) {
		return a.target.Invoke(ctx, req)
	})
	result, err = chain(ctx)
	completed = true

	if releaseErr := a.release(ctx, held, err == nil); releaseErr != nil && err == nil {
		return nil, releaseErr
	}
	return result, err
}

// release runs in reverse acquisition order and returns the first error.
func (a *assembled) release(ctx context.Context, held []acquired, success bool) error {
	var first error
	for i := len(held) - 1; i >= 0; i-- {
		h := held[i]
		if err := h.binding.Resource.Release(context.WithoutCancel(ctx), h.value, success); err != nil {
			a.logger.Error("Managed resource release failed",
				zap.String("resource", h.binding.Name),
				zap.Bool("success", success),
				zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (a *assembled) fail(w http.ResponseWriter, err error) {
	apperrors.WriteHTTPError(w, err, a.logger)
}

// writeResult converts a handler result: Responders write themselves, nil
// is 204, anything else is 200 JSON.
func writeResult(w http.ResponseWriter, r *http.Request, result interface{}) {
	if isNil(result) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if responder, ok := result.(api.Responder); ok {
		responder.Respond(w, r)
		return
	}
	api.Success(w, http.StatusOK, result)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
