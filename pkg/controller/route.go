package controller

import (
	"context"
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"github.com/Plawn/r2e-sub001/pkg/pipeline"
)

// Handler is a route handler. Method expressions such as (*Users).Get
// satisfy it directly.
type Handler[C any, R any] func(c *C, ctx context.Context, req *pipeline.Request) (R, error)

type route struct {
	spec   pipeline.RouteSpec
	invoke func(ctx context.Context, req *pipeline.Request) (interface{}, error)
}

// Handle declares a route for an arbitrary method.
func Handle[S any, C any, R any](c *Controller[S, C], method, path string, h Handler[C, R], decorators ...pipeline.Decorator) *Controller[S, C] {
	full := c.prefix + path
	spec := pipeline.RouteSpec{
		Method:         method,
		Path:           full,
		Controller:     c.name,
		Handler:        handlerName(h, method, full),
		StructIdentity: c.identityMode,
		ResultType:     reflect.TypeOf((*R)(nil)).Elem(),
	}
	spec.Apply(c.decorators...)
	spec.Apply(decorators...)
	if spec.OperationID == "" {
		spec.OperationID = spec.Operation()
	}

	c.routes = append(c.routes, &route{
		spec: spec,
		invoke: func(ctx context.Context, req *pipeline.Request) (interface{}, error) {
			instance, _ := req.Controller().(*C)
			result, err := h(instance, ctx, req)
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	})
	return c
}

func GET[S any, C any, R any](c *Controller[S, C], path string, h Handler[C, R], decorators ...pipeline.Decorator) *Controller[S, C] {
	return Handle(c, http.MethodGet, path, h, decorators...)
}

func POST[S any, C any, R any](c *Controller[S, C], path string, h Handler[C, R], decorators ...pipeline.Decorator) *Controller[S, C] {
	return Handle(c, http.MethodPost, path, h, decorators...)
}

func PUT[S any, C any, R any](c *Controller[S, C], path string, h Handler[C, R], decorators ...pipeline.Decorator) *Controller[S, C] {
	return Handle(c, http.MethodPut, path, h, decorators...)
}

func PATCH[S any, C any, R any](c *Controller[S, C], path string, h Handler[C, R], decorators ...pipeline.Decorator) *Controller[S, C] {
	return Handle(c, http.MethodPatch, path, h, decorators...)
}

func DELETE[S any, C any, R any](c *Controller[S, C], path string, h Handler[C, R], decorators ...pipeline.Decorator) *Controller[S, C] {
	return Handle(c, http.MethodDelete, path, h, decorators...)
}

// handlerName derives "Get" from a method expression like (*Users).Get.
// Closures fall back to the verb and path.
func handlerName(fn interface{}, method, path string) string {
	name := ""
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		name = f.Name()
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || strings.HasPrefix(name, "func") {
		return strings.ToLower(method) + strings.NewReplacer("/", "_", "{", "", "}", "").Replace(path)
	}
	return name
}
