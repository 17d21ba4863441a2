package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/identity"
)

// MaxBodyBytes caps request bodies read by Bind.
const MaxBodyBytes = 1 << 20

// Request is the handler's view of the incoming request.
type Request struct {
	ctx        context.Context
	http       *http.Request
	params     map[string]string
	query      url.Values
	identity   identity.Identity
	managed    map[string]interface{}
	controller interface{}
	state      interface{}
	validator  *Validator
}

func newRequest(r *http.Request, state interface{}, v *Validator) *Request {
	return &Request{
		ctx:       r.Context(),
		http:      r,
		params:    routeParams(r),
		query:     r.URL.Query(),
		managed:   make(map[string]interface{}),
		state:     state,
		validator: v,
	}
}

// NewRequest builds a Request outside the assembled pipeline, for tests and
// adapters.
func NewRequest(r *http.Request, state interface{}, id identity.Identity) *Request {
	req := newRequest(r, state, DefaultValidator())
	req.identity = id
	return req
}

func routeParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

// Context returns the request context, carrying the identity once
// extracted.
func (r *Request) Context() context.Context { return r.ctx }

// HTTP returns the underlying request.
func (r *Request) HTTP() *http.Request { return r.http }

// Param returns a path parameter or "".
func (r *Request) Param(name string) string { return r.params[name] }

// Params returns a copy of the path parameters.
func (r *Request) Params() map[string]string {
	out := make(map[string]string, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// Query returns the first value of a query parameter.
func (r *Request) Query(name string) string { return r.query.Get(name) }

// QueryValues returns all query parameters.
func (r *Request) QueryValues() url.Values { return r.query }

// Identity returns the extracted identity, or nil when absent.
func (r *Request) Identity() identity.Identity { return r.identity }

// State returns the application state.
func (r *Request) State() interface{} { return r.state }

// Controller returns the controller instance built for this request.
func (r *Request) Controller() interface{} { return r.controller }

// Managed returns the managed value bound under name.
func (r *Request) Managed(name string) (interface{}, bool) {
	v, ok := r.managed[name]
	return v, ok
}

// ManagedAs returns the managed value bound under name as T.
func ManagedAs[T any](r *Request, name string) (T, error) {
	var zero T
	v, ok := r.managed[name]
	if !ok {
		return zero, fmt.Errorf("no managed resource %q on this route", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("managed resource %q is %T, not %T", name, v, zero)
	}
	return t, nil
}

// Bind decodes the JSON body into v and validates it. Failures are 400s.
func (r *Request) Bind(v interface{}) error {
	body := http.MaxBytesReader(nil, r.http.Body, MaxBodyBytes)
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperrors.BadRequest("EMPTY_BODY", "Request body is required").Build()
		case errors.As(err, &maxErr):
			return apperrors.BadRequest("BODY_TOO_LARGE", "Request body too large").Build()
		default:
			return apperrors.BadRequest("INVALID_BODY", "Invalid request body").WithCause(err).Build()
		}
	}
	if r.validator == nil {
		return nil
	}
	return r.validator.Validate(v)
}
