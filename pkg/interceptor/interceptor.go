// Package interceptor provides around-style wrappers for handler calls.
//
// Interceptors compose by nesting: the first registered interceptor is the
// outermost, so its code before next() runs first and its code after next()
// runs last.
package interceptor

import (
	"context"
	"net/url"
	"reflect"
)

// Context describes the call being intercepted.
type Context struct {
	Method     string
	Controller string
	State      interface{}
	Params     map[string]string
	Query      url.Values
	// ResultType is the handler's declared result type.
	ResultType reflect.Type
}

// Operation returns "Controller.method".
func (c *Context) Operation() string {
	return c.Controller + "." + c.Method
}

// Next invokes the rest of the chain.
type Next func(ctx context.Context) (interface{}, error)

// Interceptor wraps the rest of the chain.
type Interceptor interface {
	Around(ctx context.Context, ic *Context, next Next) (interface{}, error)
}

// Func adapts a function to Interceptor.
type Func func(ctx context.Context, ic *Context, next Next) (interface{}, error)

func (f Func) Around(ctx context.Context, ic *Context, next Next) (interface{}, error) {
	return f(ctx, ic, next)
}

// Chain nests interceptors around final, first element outermost.
func Chain(interceptors []Interceptor, ic *Context, final Next) Next {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		inner := next
		current := interceptors[i]
		next = func(ctx context.Context) (interface{}, error) {
			return current.Around(ctx, ic, inner)
		}
	}
	return next
}
