// Package guard defines the predicates that may reject a request before its
// handler runs. Pre-auth guards run before identity extraction, post-auth
// guards after it.
package guard

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Plawn/r2e-sub001/pkg/identity"
)

// Context is the read-only view of a request handed to guards.
type Context struct {
	Method     string
	Controller string
	Headers    http.Header
	URI        *url.URL
	PathParams map[string]string
	// Identity is nil when the route has no identity or it was absent.
	Identity   identity.Identity
	State      interface{}
	RemoteAddr string
}

// NewContext builds a guard context from r. Headers and URI are copies so a
// guard cannot mutate the request.
func NewContext(r *http.Request, controller, method string, params map[string]string, state interface{}) *Context {
	uri := *r.URL
	return &Context{
		Method:     method,
		Controller: controller,
		Headers:    r.Header.Clone(),
		URI:        &uri,
		PathParams: params,
		State:      state,
		RemoteAddr: r.RemoteAddr,
	}
}

// Operation returns "Controller.method".
func (c *Context) Operation() string {
	return c.Controller + "." + c.Method
}

// Param returns a path parameter or "".
func (c *Context) Param(name string) string {
	return c.PathParams[name]
}

// Guard runs after identity extraction. A non-nil error short-circuits the
// request and is rendered through the error envelope.
type Guard interface {
	Check(ctx context.Context, gc *Context) error
}

// PreAuthGuard runs before identity extraction; gc.Identity is always nil.
type PreAuthGuard interface {
	CheckPreAuth(ctx context.Context, gc *Context) error
}

// Func adapts a function to Guard.
type Func func(ctx context.Context, gc *Context) error

func (f Func) Check(ctx context.Context, gc *Context) error { return f(ctx, gc) }

// PreAuthFunc adapts a function to PreAuthGuard.
type PreAuthFunc func(ctx context.Context, gc *Context) error

func (f PreAuthFunc) CheckPreAuth(ctx context.Context, gc *Context) error { return f(ctx, gc) }

// StateAs returns the application state carried by gc as S.
func StateAs[S any](gc *Context) (S, error) {
	s, ok := gc.State.(S)
	if !ok {
		var zero S
		return zero, fmt.Errorf("guard state is %T, not %T", gc.State, zero)
	}
	return s, nil
}

// RunPre runs pre-auth guards in order and returns the first failure.
func RunPre(ctx context.Context, gc *Context, guards []PreAuthGuard) error {
	for _, g := range guards {
		if err := g.CheckPreAuth(ctx, gc); err != nil {
			return err
		}
	}
	return nil
}

// Run runs post-auth guards in order and returns the first failure.
func Run(ctx context.Context, gc *Context, guards []Guard) error {
	for _, g := range guards {
		if err := g.Check(ctx, gc); err != nil {
			return err
		}
	}
	return nil
}
